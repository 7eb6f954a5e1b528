package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/greenwave-io/greenwave/internal/eval"
	"github.com/greenwave-io/greenwave/internal/report"
)

var (
	summaryBackend       string
	summaryBackendConfig map[string]string
	summaryJSON          bool
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Inspect run reports",
}

var summaryShowCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "Print a run report",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSummaryShow,
}

func init() {
	summaryShowCmd.Flags().StringVar(&summaryBackend, "backend", "", "Report backend: local or s3")
	summaryShowCmd.Flags().StringToStringVarP(&summaryBackendConfig, "backend-config", "B", nil, "Report backend setting (format: key=value)")
	summaryShowCmd.Flags().BoolVar(&summaryJSON, "json", false, "Print the report as JSON")
	summaryCmd.AddCommand(summaryShowCmd)
}

func runSummaryShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg := &report.BackendConfig{Type: summaryBackend, Config: map[string]string{}}
	for k, v := range summaryBackendConfig {
		cfg.Config[k] = v
	}
	if len(args) > 0 {
		cfg.Config["path"] = args[0]
	}

	store, err := report.NewBackend(ctx, cfg, eval.NewEvaluator(wd))
	if err != nil {
		return err
	}
	s, err := store.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read report: %w", err)
	}

	if summaryJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	printSummary(cmd.OutOrStdout(), s)
	fmt.Fprintf(cmd.OutOrStdout(), "  Started:          %s\n  Finished:         %s\n", s.StartedAt, s.FinishedAt)
	return nil
}
