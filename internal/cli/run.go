package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/greenwave-io/greenwave/internal/config"
	"github.com/greenwave-io/greenwave/internal/control"
	"github.com/greenwave-io/greenwave/internal/decision"
	"github.com/greenwave-io/greenwave/internal/eval"
	"github.com/greenwave-io/greenwave/internal/ir"
	"github.com/greenwave-io/greenwave/internal/logging"
	"github.com/greenwave-io/greenwave/internal/metrics"
	"github.com/greenwave-io/greenwave/internal/report"
	"github.com/greenwave-io/greenwave/internal/roadnet"
	"github.com/greenwave-io/greenwave/internal/sim"
	"github.com/greenwave-io/greenwave/internal/simulator"
	"github.com/greenwave-io/greenwave/oracles/cycle"
	"github.com/greenwave-io/greenwave/oracles/llm"
)

var (
	runIntersections    []string
	runRoadnet          string
	runSkipVirtual      bool
	runSteps            int
	runInterval         int
	runProgressInterval int
	runSimulator        string
	runSimConfig        string
	runSimAddress       string
	runSimImage         string
	runThreads          int
	runSimSettings      map[string]string
	runOracle           string
	runModel            string
	runCyclePhases      int
	runCycleHold        int
	runTemperature      float64
	runDecisionTimeout  time.Duration
	runDecisionRetries  int
	runFile             string
	runProperties       map[string]string
	runMetricsAddr      string
	runReport           string
	runReportBackend    string
	runReportConfig     map[string]string
	runID               string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the signal control loop against a simulator",
	Long: `Open a simulator, then for every step read intersection state, ask the
oracle for phases on the decision interval, apply them and advance the
simulation. Settings come from flags, then the run file (--file), then the
environment.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringSliceVarP(&runIntersections, "intersection", "i", nil, "Intersection id to control (repeatable; default: discovered from the roadnet)")
	f.StringVar(&runRoadnet, "roadnet", "", "CityFlow roadnet file used for intersection discovery (env GREENWAVE_ROADNET)")
	f.BoolVar(&runSkipVirtual, "skip-virtual", false, "Ignore intersections marked virtual in the roadnet")
	f.IntVar(&runSteps, "steps", 0, "Number of simulation steps (env SIMULATION_STEPS)")
	f.IntVar(&runInterval, "interval", 0, "Steps between phase decisions (env TL_UPDATE_INTERVAL)")
	f.IntVar(&runProgressInterval, "progress-interval", 0, "Steps between progress reports")
	f.StringVar(&runSimulator, "simulator", "", "Simulator adapter: null, remote, docker (env GREENWAVE_SIMULATOR)")
	f.StringVar(&runSimConfig, "sim-config", "", "Simulator configuration file (env GREENWAVE_SIM_CONFIG)")
	f.StringVar(&runSimAddress, "sim-address", "", "Address of a remote simulator (env GREENWAVE_SIM_ADDRESS)")
	f.StringVar(&runSimImage, "sim-image", "", "Container image for the docker simulator")
	f.IntVar(&runThreads, "threads", 0, "Simulator worker threads (env GREENWAVE_SIM_THREADS)")
	f.StringToStringVarP(&runSimSettings, "sim-setting", "S", nil, "Adapter-specific simulator setting (format: key=value)")
	f.StringVar(&runOracle, "oracle", "", "Decision oracle: llm or cycle (env GREENWAVE_ORACLE)")
	f.StringVar(&runModel, "model", "", "Model name for the llm oracle (env DEEPSEEK_MODEL)")
	f.Float64Var(&runTemperature, "temperature", llm.DefaultTemperature, "Sampling temperature for the llm oracle")
	f.IntVar(&runCyclePhases, "cycle-phases", 0, "Number of phases rotated by the cycle oracle")
	f.IntVar(&runCycleHold, "cycle-hold", 0, "Steps each phase is held by the cycle oracle")
	f.DurationVar(&runDecisionTimeout, "decision-timeout", 0, "Upper bound for one decision (env GREENWAVE_DECISION_TIMEOUT)")
	f.IntVar(&runDecisionRetries, "decision-retries", -1, "Retries for transient oracle errors (env GREENWAVE_DECISION_RETRIES)")
	f.StringVarP(&runFile, "file", "f", "", "PKL run file")
	f.StringToStringVarP(&runProperties, "prop", "D", nil, "Set external properties for the run file (format: key=value)")
	f.StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (env GREENWAVE_METRICS_ADDR)")
	f.StringVar(&runReport, "report", "", "Write the run report to this PKL file")
	f.StringVar(&runReportBackend, "report-backend", "", "Report backend: local or s3")
	f.StringToStringVarP(&runReportConfig, "backend-config", "B", nil, "Report backend setting (format: key=value)")
	f.StringVar(&runID, "run-id", "", "Run id stamped on the report (default: random UUID)")
}

// runSettings is the fully resolved input of one run.
type runSettings struct {
	Config          ir.RunConfig
	Simulator       string
	SimOptions      sim.Options
	Oracle          string
	Model           string
	Temperature     *float64
	CyclePhases     int
	CycleHold       int
	DecisionTimeout time.Duration
	DecisionRetries int
	MetricsAddr     string
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var runFileCfg *ir.RunFile
	if runFile != "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		runFileCfg, err = eval.NewEvaluator(wd).LoadRunFile(ctx, runFile, runProperties)
		if err != nil {
			return fmt.Errorf("failed to load run file: %w", err)
		}
	}

	settings, err := resolveRun(cmd, envConfig, runFileCfg)
	if err != nil {
		return err
	}

	eng, err := simulator.NewRegistry().Open(ctx, settings.Simulator, settings.SimOptions)
	if err != nil {
		return err
	}
	if c, ok := eng.(io.Closer); ok {
		defer c.Close()
	}
	logging.Info("simulator ready",
		"simulator", settings.Simulator,
		"phase_query", eng.Capabilities().PhaseQuery,
		"phase_control", eng.Capabilities().PhaseControl,
		"terminate", eng.Capabilities().Terminate,
	)

	oracle, err := newOracle(settings, envConfig)
	if err != nil {
		releaseEngine(ctx, eng)
		return err
	}

	store, err := reportStore(ctx)
	if err != nil {
		releaseEngine(ctx, eng)
		return err
	}

	provider := decision.NewProvider(oracle, settings.Config.IntersectionIDs,
		decision.WithDecisionTimeout(settings.DecisionTimeout),
		decision.WithRetryPolicy(retryPolicy(settings.DecisionRetries)),
		decision.WithTotalSteps(settings.Config.TotalSteps),
	)

	recorder := metrics.NewRecorder()
	controller, err := control.NewController(eng, provider, settings.Config,
		control.WithObserver(recorder.Observe),
		control.WithRunID(runID),
	)
	if err != nil {
		releaseEngine(ctx, eng)
		return fmt.Errorf("invalid run configuration: %w", err)
	}

	if settings.MetricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := recorder.Serve(metricsCtx, settings.MetricsAddr); err != nil {
				logging.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	summary := controller.Run(ctx)
	printSummary(cmd.OutOrStdout(), summary)

	if store != nil {
		if err := report.Save(ctx, store, summary); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		logging.Info("report written", "location", store.Location())
	}
	return nil
}

// resolveRun merges flags, the run file and environment defaults, in that order.
func resolveRun(cmd *cobra.Command, env config.Config, rf *ir.RunFile) (*runSettings, error) {
	flags := cmd.Flags()
	s := &runSettings{
		Config: ir.RunConfig{
			TotalSteps:       env.Steps,
			DecisionInterval: env.DecisionInterval,
		},
		Simulator: env.Simulator,
		SimOptions: sim.Options{
			ConfigPath: env.SimulatorConfig,
			Threads:    env.Threads,
			Address:    env.SimulatorAddr,
			Settings:   map[string]string{},
		},
		Oracle:          env.Oracle,
		Model:           env.Model,
		DecisionTimeout: env.DecisionTimeout,
		DecisionRetries: env.DecisionRetries,
		MetricsAddr:     env.MetricsAddr,
	}
	roadnetPath := env.Roadnet

	if rf != nil {
		if len(rf.Intersections) > 0 {
			s.Config.IntersectionIDs = rf.Intersections
		}
		if rf.Roadnet != nil {
			roadnetPath = *rf.Roadnet
		}
		if rf.Steps > 0 {
			s.Config.TotalSteps = rf.Steps
		}
		if rf.DecisionInterval > 0 {
			s.Config.DecisionInterval = rf.DecisionInterval
		}
		if rf.ProgressInterval > 0 {
			s.Config.ProgressInterval = rf.ProgressInterval
		}
		if b := rf.Simulator; b != nil {
			if b.Name != "" {
				s.Simulator = b.Name
			}
			if b.ConfigPath != "" {
				s.SimOptions.ConfigPath = b.ConfigPath
			}
			if b.Threads > 0 {
				s.SimOptions.Threads = b.Threads
			}
			if b.Address != nil {
				s.SimOptions.Address = *b.Address
			}
			if b.Image != nil {
				s.SimOptions.Image = *b.Image
			}
			for k, v := range b.Settings {
				s.SimOptions.Settings[k] = v
			}
		}
		if b := rf.Oracle; b != nil {
			if b.Name != "" {
				s.Oracle = b.Name
			}
			if b.Model != nil {
				s.Model = *b.Model
			}
			if b.Temperature != nil {
				s.Temperature = b.Temperature
			}
			if b.Phases != nil {
				s.CyclePhases = *b.Phases
			}
			if b.Hold != nil {
				s.CycleHold = *b.Hold
			}
			if b.Retries != nil {
				s.DecisionRetries = *b.Retries
			}
			if b.Timeout != nil {
				d, err := time.ParseDuration(*b.Timeout)
				if err != nil {
					return nil, fmt.Errorf("run file: invalid oracle timeout %q: %w", *b.Timeout, err)
				}
				s.DecisionTimeout = d
			}
		}
	}

	if flags.Changed("intersection") {
		s.Config.IntersectionIDs = runIntersections
	}
	if flags.Changed("roadnet") {
		roadnetPath = runRoadnet
	}
	if flags.Changed("steps") {
		s.Config.TotalSteps = runSteps
	}
	if flags.Changed("interval") {
		s.Config.DecisionInterval = runInterval
	}
	if flags.Changed("progress-interval") {
		s.Config.ProgressInterval = runProgressInterval
	}
	if flags.Changed("simulator") {
		s.Simulator = runSimulator
	}
	if flags.Changed("sim-config") {
		s.SimOptions.ConfigPath = runSimConfig
	}
	if flags.Changed("sim-address") {
		s.SimOptions.Address = runSimAddress
	}
	if flags.Changed("sim-image") {
		s.SimOptions.Image = runSimImage
	}
	if flags.Changed("threads") {
		s.SimOptions.Threads = runThreads
	}
	for k, v := range runSimSettings {
		s.SimOptions.Settings[k] = v
	}
	if flags.Changed("oracle") {
		s.Oracle = runOracle
	}
	if flags.Changed("model") {
		s.Model = runModel
	}
	if flags.Changed("temperature") {
		temperature := runTemperature
		s.Temperature = &temperature
	}
	if flags.Changed("cycle-phases") {
		s.CyclePhases = runCyclePhases
	}
	if flags.Changed("cycle-hold") {
		s.CycleHold = runCycleHold
	}
	if flags.Changed("decision-timeout") {
		s.DecisionTimeout = runDecisionTimeout
	}
	if flags.Changed("decision-retries") {
		s.DecisionRetries = runDecisionRetries
	}
	if flags.Changed("metrics-addr") {
		s.MetricsAddr = runMetricsAddr
	}

	if len(s.Config.IntersectionIDs) == 0 {
		ids, err := roadnet.Discover(roadnetPath, roadnet.Options{SkipVirtual: runSkipVirtual})
		if err != nil {
			logging.Warn("no intersections discovered, using default", "roadnet", roadnetPath, "ids", ids, "error", err)
		} else {
			logging.Info("discovered intersections", "roadnet", roadnetPath, "count", len(ids))
		}
		s.Config.IntersectionIDs = ids
	}

	if err := s.Config.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func newOracle(s *runSettings, env config.Config) (decision.Oracle, error) {
	switch s.Oracle {
	case "llm":
		o, err := llm.New(llm.Config{
			APIKey:      env.APIKey,
			URL:         env.APIURL,
			Model:       s.Model,
			Temperature: s.Temperature,
		})
		if err != nil && strings.TrimSpace(env.APIKey) == "" {
			return nil, fmt.Errorf("%w (set DEEPSEEK_API_KEY or use --oracle cycle)", err)
		}
		if err != nil {
			return nil, err
		}
		logging.Info("using llm oracle", "model", o.Model())
		return o, nil
	case "cycle":
		return cycle.New(s.CyclePhases, s.CycleHold), nil
	default:
		return nil, fmt.Errorf("unknown oracle: %s", s.Oracle)
	}
}

func retryPolicy(retries int) *decision.RetryPolicy {
	policy := decision.DefaultRetryPolicy()
	if retries >= 0 {
		policy.MaxRetries = retries
	}
	return policy
}

// releaseEngine terminates an engine that never reached the control loop.
func releaseEngine(ctx context.Context, eng sim.Engine) {
	if !eng.Capabilities().Terminate {
		return
	}
	if err := eng.Terminate(ctx); err != nil {
		logging.Warn("failed to terminate simulator", "error", err)
	}
}

func reportStore(ctx context.Context) (report.Store, error) {
	if runReport == "" && runReportBackend == "" {
		return nil, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg := &report.BackendConfig{Type: runReportBackend, Config: map[string]string{}}
	for k, v := range runReportConfig {
		cfg.Config[k] = v
	}
	if runReport != "" {
		path := runReport
		if !filepath.IsAbs(path) {
			path = filepath.Join(wd, path)
		}
		cfg.Config["path"] = path
		if cfg.Type == "s3" && cfg.Config["key"] == "" {
			cfg.Config["key"] = runReport
		}
	}
	return report.NewBackend(ctx, cfg, eval.NewEvaluator(wd))
}

func printSummary(w io.Writer, s *ir.RunSummary) {
	bold, green, yellow, reset := colorize("\033[1m"), colorize("\033[32m"), colorize("\033[33m"), colorize("\033[0m")
	fmt.Fprintf(w, "\n%s===== Simulation complete =====%s\n", bold, reset)
	fmt.Fprintf(w, "  Run:              %s\n", s.RunID)
	fmt.Fprintf(w, "  Total steps:      %d\n", s.TotalSteps)
	fmt.Fprintf(w, "  Steps advanced:   %d\n", s.StepsAdvanced)
	fmt.Fprintf(w, "  Final vehicles:   %s%d%s\n", green, s.FinalVehicleCount, reset)
	fmt.Fprintf(w, "  Decisions:        %d (%d default)\n", s.DecisionRequests, s.DecisionFallbacks)
	if s.StepFailures > 0 || s.PhaseApplyFailures > 0 {
		fmt.Fprintf(w, "  %sStep failures:    %d (advance %d, phase %d)%s\n",
			yellow, s.StepFailures, s.AdvanceFailures, s.PhaseApplyFailures, reset)
	}
}
