package ir

import (
	"errors"
	"fmt"
)

// DefaultProgressInterval is the step cadence of progress reports.
const DefaultProgressInterval = 100

// RunConfig fixes the shape of a control run. It is not mutated once the loop starts.
type RunConfig struct {
	IntersectionIDs  []string
	TotalSteps       int
	DecisionInterval int
	ProgressInterval int
}

// Validate checks the config invariants.
func (c *RunConfig) Validate() error {
	if c == nil {
		return errors.New("run config is nil")
	}
	if len(c.IntersectionIDs) == 0 {
		return errors.New("run config: at least one intersection id is required")
	}
	seen := make(map[string]bool, len(c.IntersectionIDs))
	for _, id := range c.IntersectionIDs {
		if id == "" {
			return errors.New("run config: empty intersection id")
		}
		if seen[id] {
			return fmt.Errorf("run config: duplicate intersection id %q", id)
		}
		seen[id] = true
	}
	if c.TotalSteps <= 0 {
		return fmt.Errorf("run config: total steps must be > 0, got %d", c.TotalSteps)
	}
	if c.DecisionInterval <= 0 {
		return fmt.Errorf("run config: decision interval must be > 0, got %d", c.DecisionInterval)
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("run config: progress interval must be >= 0, got %d", c.ProgressInterval)
	}
	return nil
}

// Progress returns the effective progress cadence.
func (c *RunConfig) Progress() int {
	if c.ProgressInterval <= 0 {
		return DefaultProgressInterval
	}
	return c.ProgressInterval
}

// RunFile is the evaluated form of a PKL run description.
type RunFile struct {
	Intersections    []string          `pkl:"intersections"`
	Roadnet          *string           `pkl:"roadnet"`
	Steps            int               `pkl:"steps"`
	DecisionInterval int               `pkl:"decisionInterval"`
	ProgressInterval int               `pkl:"progressInterval"`
	Simulator        *SimulatorBlock   `pkl:"simulator"`
	Oracle           *OracleBlock      `pkl:"oracle"`
	Labels           map[string]string `pkl:"labels"`
}

// SimulatorBlock selects and configures the simulator adapter.
type SimulatorBlock struct {
	Name       string            `pkl:"name"`
	ConfigPath string            `pkl:"configPath"`
	Threads    int               `pkl:"threads"`
	Address    *string           `pkl:"address"`
	Image      *string           `pkl:"image"`
	Settings   map[string]string `pkl:"settings"`
}

// OracleBlock selects and configures the decision oracle.
type OracleBlock struct {
	Name        string   `pkl:"name"`
	Timeout     *string  `pkl:"timeout"`
	Retries     *int     `pkl:"retries"`
	Phases      *int     `pkl:"phases"`
	Hold        *int     `pkl:"hold"`
	Model       *string  `pkl:"model"`
	Temperature *float64 `pkl:"temperature"`
}
