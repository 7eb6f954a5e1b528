package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/greenwave-io/greenwave/internal/config"
	"github.com/greenwave-io/greenwave/internal/logging"
)

var (
	logLevel  string
	logFormat string
	noColor   bool

	// envConfig holds environment defaults, loaded before any command runs.
	envConfig config.Config
)

var rootCmd = &cobra.Command{
	Use:   "greenwave",
	Short: "Adaptive traffic signal control for simulated road networks",
	Long: `Greenwave drives a traffic simulation step by step and lets a decision
oracle choose the signal phase of every intersection.

It provides:
  • A fault-tolerant control loop that always advances the simulation
  • Pluggable simulators (in-memory, gRPC sidecar, Docker container)
  • Pluggable oracles (LLM chat-completions, fixed-time cycle)
  • PKL run files and run reports`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (env GREENWAVE_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (env GREENWAVE_LOG_FORMAT)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveSimCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(intersectionsCmd)
	rootCmd.AddCommand(versionCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid environment configuration: %w", err)
	}
	envConfig = cfg

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	format := cfg.LogFormat
	if logFormat != "" {
		format = logFormat
	}
	logging.Init(level, format, noColor)
	return nil
}

// colorize returns the ANSI code unless color output is disabled.
func colorize(code string) string {
	if noColor {
		return ""
	}
	return code
}
