package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenwave-io/greenwave/internal/config"
	"github.com/greenwave-io/greenwave/internal/ir"
	"github.com/greenwave-io/greenwave/internal/report"
	"github.com/greenwave-io/greenwave/oracles/cycle"
	"github.com/greenwave-io/greenwave/oracles/llm"
)

// changedCmd returns a command whose named flags report Changed.
func changedCmd(t *testing.T, names ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	for _, name := range names {
		cmd.Flags().String(name, "", "")
		require.NoError(t, cmd.Flags().Set(name, "set"))
	}
	return cmd
}

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestResolveRun_EnvDefaults(t *testing.T) {
	env := config.Default()
	env.Roadnet = writeTestFile(t, "roadnet.json", `{"intersections":[{"id":"intersection_1_1"},{"id":"intersection_1_2"}]}`)

	s, err := resolveRun(changedCmd(t), env, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"intersection_1_1", "intersection_1_2"}, s.Config.IntersectionIDs)
	assert.Equal(t, 3600, s.Config.TotalSteps)
	assert.Equal(t, 5, s.Config.DecisionInterval)
	assert.Equal(t, "null", s.Simulator)
	assert.Equal(t, "config.json", s.SimOptions.ConfigPath)
	assert.Equal(t, 4, s.SimOptions.Threads)
	assert.Equal(t, "llm", s.Oracle)
	assert.Equal(t, 30*time.Second, s.DecisionTimeout)
}

func TestResolveRun_RoadnetFallback(t *testing.T) {
	env := config.Default()
	env.Roadnet = filepath.Join(t.TempDir(), "missing.json")

	s, err := resolveRun(changedCmd(t), env, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"intersection_0"}, s.Config.IntersectionIDs)
}

func TestResolveRun_Precedence(t *testing.T) {
	env := config.Default()
	address := "sim:7000"
	timeout := "2s"
	phases := 3
	hold := 12
	temperature := 0.0
	rf := &ir.RunFile{
		Intersections:    []string{"A", "B"},
		Steps:            600,
		DecisionInterval: 10,
		Simulator:        &ir.SimulatorBlock{Name: "remote", Address: &address, Settings: map[string]string{"k": "v"}},
		Oracle:           &ir.OracleBlock{Name: "cycle", Timeout: &timeout, Phases: &phases, Hold: &hold, Temperature: &temperature},
	}

	runSteps = 50
	runOracle = "llm"
	t.Cleanup(func() {
		runSteps = 0
		runOracle = ""
	})

	s, err := resolveRun(changedCmd(t, "steps", "oracle"), env, rf)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, s.Config.IntersectionIDs)
	assert.Equal(t, 50, s.Config.TotalSteps)
	assert.Equal(t, 10, s.Config.DecisionInterval)
	assert.Equal(t, "remote", s.Simulator)
	assert.Equal(t, "sim:7000", s.SimOptions.Address)
	assert.Equal(t, "v", s.SimOptions.Settings["k"])
	assert.Equal(t, "llm", s.Oracle)
	assert.Equal(t, 3, s.CyclePhases)
	assert.Equal(t, 12, s.CycleHold)
	require.NotNil(t, s.Temperature)
	assert.Equal(t, 0.0, *s.Temperature)
	assert.Equal(t, 2*time.Second, s.DecisionTimeout)
}

func TestResolveRun_TemperatureFlag(t *testing.T) {
	env := config.Default()
	rf := &ir.RunFile{Intersections: []string{"A"}}

	s, err := resolveRun(changedCmd(t), env, rf)
	require.NoError(t, err)
	assert.Nil(t, s.Temperature)

	runTemperature = 0
	t.Cleanup(func() { runTemperature = llm.DefaultTemperature })

	s, err = resolveRun(changedCmd(t, "temperature"), env, rf)
	require.NoError(t, err)
	require.NotNil(t, s.Temperature)
	assert.Equal(t, 0.0, *s.Temperature)
}

func TestResolveRun_Invalid(t *testing.T) {
	env := config.Default()
	runIntersections = []string{"A", "A"}
	t.Cleanup(func() { runIntersections = nil })

	_, err := resolveRun(changedCmd(t, "intersection"), env, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	bad := "soon"
	_, err = resolveRun(changedCmd(t), env, &ir.RunFile{Intersections: []string{"A"}, Oracle: &ir.OracleBlock{Timeout: &bad}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle timeout")
}

func TestNewOracle(t *testing.T) {
	env := config.Default()

	o, err := newOracle(&runSettings{Oracle: "cycle", CyclePhases: 2}, env)
	require.NoError(t, err)
	assert.IsType(t, &cycle.Oracle{}, o)

	_, err = newOracle(&runSettings{Oracle: "llm"}, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEEPSEEK_API_KEY")

	env.APIKey = "k"
	_, err = newOracle(&runSettings{Oracle: "llm"}, env)
	require.NoError(t, err)

	negative := -1.0
	_, err = newOracle(&runSettings{Oracle: "llm", Temperature: &negative}, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temperature")

	_, err = newOracle(&runSettings{Oracle: "magic"}, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown oracle")
}

func TestRetryPolicy(t *testing.T) {
	assert.Equal(t, 1, retryPolicy(-1).MaxRetries)
	assert.Equal(t, 0, retryPolicy(0).MaxRetries)
	assert.Equal(t, 3, retryPolicy(3).MaxRetries)
}

func TestColorize(t *testing.T) {
	noColor = false
	assert.Equal(t, "\033[31m", colorize("\033[31m"))

	noColor = true
	assert.Equal(t, "", colorize("\033[31m"))

	noColor = false
}

func TestPrintSummary(t *testing.T) {
	noColor = true
	defer func() { noColor = false }()

	var buf bytes.Buffer
	printSummary(&buf, &ir.RunSummary{RunID: "r", TotalSteps: 10, StepsAdvanced: 9, FinalVehicleCount: 4, StepFailures: 1, AdvanceFailures: 1})

	out := buf.String()
	assert.Contains(t, out, "Simulation complete")
	assert.Contains(t, out, "Steps advanced:   9")
	assert.Contains(t, out, "Final vehicles:   4")
	assert.Contains(t, out, "advance 1")
}

func TestRunCommand_EndToEnd(t *testing.T) {
	t.Setenv("GREENWAVE_SIMULATOR", "")
	t.Setenv("GREENWAVE_ORACLE", "")
	t.Setenv("GREENWAVE_LOG_FORMAT", "")
	t.Setenv(report.EncryptionKeyEnvVar, "")

	fixture := writeTestFile(t, "fixture.json", `{
  "lanes": {"I0_lane1": 3, "I0_lane2": 2, "I1_lane1": 1},
  "waiting": {"I0_lane1": 1},
  "vehicles": ["v1", "v2", "v3", "v4", "v5", "v6"],
  "phases": {"I0": 0}
}`)
	reportPath := filepath.Join(t.TempDir(), "reports", "run.pkl")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"run", "--no-color", "--log-level", "error",
		"--simulator", "null", "--sim-config", fixture,
		"-i", "I0", "-i", "I1",
		"--steps", "10", "--interval", "5",
		"--oracle", "cycle", "--cycle-phases", "4", "--cycle-hold", "5",
		"--report", reportPath, "--run-id", "e2e",
	})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		runReport = ""
	})

	require.NoError(t, Execute())

	assert.Contains(t, out.String(), "Steps advanced:   10")
	assert.Contains(t, out.String(), "Final vehicles:   6")

	content, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), `runId = "e2e"`)
	assert.Contains(t, string(content), "stepsAdvanced = 10")
	assert.Contains(t, string(content), "decisionRequests = 2")
}

func TestRunCommand_BadReportBackendFailsBeforeLoop(t *testing.T) {
	t.Setenv("GREENWAVE_SIMULATOR", "")
	t.Setenv("GREENWAVE_ORACLE", "")
	t.Setenv("GREENWAVE_LOG_FORMAT", "")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{
		"run", "--no-color", "--log-level", "error",
		"--simulator", "null",
		"-i", "I0", "--steps", "10", "--interval", "5",
		"--oracle", "cycle", "--report", "", "--report-backend", "bogus",
	})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		runReport = ""
		runReportBackend = ""
	})

	err := Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend type: bogus")
	assert.NotContains(t, out.String(), "Simulation complete")
	assert.NotContains(t, out.String(), "Steps advanced")
}

func TestServeSimAcceptsSidecarArgs(t *testing.T) {
	cmd, rest, err := rootCmd.Find([]string{"serve-sim", "--listen", ":50051", "--simulator", "null"})
	require.NoError(t, err)
	require.Same(t, serveSimCmd, cmd)

	t.Cleanup(func() {
		serveListen = ":50051"
		serveSimulator = "null"
	})
	require.NoError(t, cmd.ParseFlags(rest))
	assert.Equal(t, ":50051", serveListen)
	assert.Equal(t, "null", serveSimulator)
}

func TestIntersectionsCommand(t *testing.T) {
	path := writeTestFile(t, "roadnet.json", `{"intersections":[{"id":"a","virtual":true},{"id":"b"}]}`)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"intersections", "--roadnet", path, "--skip-virtual"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})

	require.NoError(t, Execute())
	assert.Equal(t, "b\n", out.String())
}
