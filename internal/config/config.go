// Package config reads runtime defaults from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/greenwave-io/greenwave/internal/decision"
	"github.com/greenwave-io/greenwave/oracles/llm"
)

const (
	defaultSteps            = 3600
	defaultDecisionInterval = 5
	defaultSimulator        = "null"
	defaultSimulatorConfig  = "config.json"
	defaultThreads          = 4
	defaultRoadnet          = "data/roadnet.json"
	defaultOracle           = "llm"
	defaultLogLevel         = "info"
	defaultLogFormat        = "text"
)

// Config holds defaults that command-line flags may override.
type Config struct {
	APIKey string
	APIURL string
	Model  string

	Steps            int
	DecisionInterval int
	DecisionTimeout  time.Duration
	DecisionRetries  int

	Simulator       string
	SimulatorConfig string
	SimulatorAddr   string
	Threads         int
	Roadnet         string
	Oracle          string

	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		APIURL:           llm.DefaultURL,
		Model:            llm.DefaultModel,
		Steps:            defaultSteps,
		DecisionInterval: defaultDecisionInterval,
		DecisionTimeout:  decision.DefaultTimeout,
		DecisionRetries:  decision.DefaultRetryMax,
		Simulator:        defaultSimulator,
		SimulatorConfig:  defaultSimulatorConfig,
		Threads:          defaultThreads,
		Roadnet:          defaultRoadnet,
		Oracle:           defaultOracle,
		LogLevel:         defaultLogLevel,
		LogFormat:        defaultLogFormat,
	}
}

// Load reads runtime configuration from environment variables.
func Load() (Config, error) {
	cfg := Default()

	if key := strings.TrimSpace(os.Getenv("DEEPSEEK_API_KEY")); key != "" {
		cfg.APIKey = key
	}
	if url := strings.TrimSpace(os.Getenv("DEEPSEEK_API_URL")); url != "" {
		cfg.APIURL = url
	}
	if model := strings.TrimSpace(os.Getenv("DEEPSEEK_MODEL")); model != "" {
		cfg.Model = model
	}

	var err error
	if cfg.Steps, err = positiveInt("SIMULATION_STEPS", cfg.Steps); err != nil {
		return Config{}, err
	}
	if cfg.DecisionInterval, err = positiveInt("TL_UPDATE_INTERVAL", cfg.DecisionInterval); err != nil {
		return Config{}, err
	}
	if cfg.Threads, err = positiveInt("GREENWAVE_SIM_THREADS", cfg.Threads); err != nil {
		return Config{}, err
	}

	if timeout := strings.TrimSpace(os.Getenv("GREENWAVE_DECISION_TIMEOUT")); timeout != "" {
		parsed, err := time.ParseDuration(timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse GREENWAVE_DECISION_TIMEOUT: %w", err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("parse GREENWAVE_DECISION_TIMEOUT: value must be > 0")
		}
		cfg.DecisionTimeout = parsed
	}
	if retries := strings.TrimSpace(os.Getenv("GREENWAVE_DECISION_RETRIES")); retries != "" {
		parsed, err := strconv.Atoi(retries)
		if err != nil || parsed < 0 {
			return Config{}, fmt.Errorf("parse GREENWAVE_DECISION_RETRIES: %q is not a non-negative integer", retries)
		}
		cfg.DecisionRetries = parsed
	}

	setString(&cfg.Simulator, "GREENWAVE_SIMULATOR")
	setString(&cfg.SimulatorConfig, "GREENWAVE_SIM_CONFIG")
	setString(&cfg.SimulatorAddr, "GREENWAVE_SIM_ADDRESS")
	setString(&cfg.Roadnet, "GREENWAVE_ROADNET")
	setString(&cfg.Oracle, "GREENWAVE_ORACLE")
	setString(&cfg.LogLevel, "GREENWAVE_LOG_LEVEL")
	setString(&cfg.LogFormat, "GREENWAVE_LOG_FORMAT")
	setString(&cfg.MetricsAddr, "GREENWAVE_METRICS_ADDR")

	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return Config{}, fmt.Errorf("parse GREENWAVE_LOG_FORMAT: unsupported format %q", cfg.LogFormat)
	}

	return cfg, nil
}

func positiveInt(name string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("parse %s: value must be > 0", name)
	}
	return n, nil
}

func setString(dst *string, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		*dst = v
	}
}
