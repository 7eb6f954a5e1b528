// Package sim defines the contract between the control loop and a road-network
// simulation engine.
package sim

import (
	"context"
	"errors"
)

var (
	// ErrUnsupported is returned when an adapter is asked for a capability it did not declare.
	ErrUnsupported = errors.New("simulator capability not supported")

	// ErrNotOpen is returned by adapters used before construction completed or after teardown.
	ErrNotOpen = errors.New("simulator is not open")
)

// Capabilities lists the optional operations an engine supports.
// Adapters fix these at construction time.
type Capabilities struct {
	PhaseQuery   bool `json:"phase_query"`
	PhaseControl bool `json:"phase_control"`
	Terminate    bool `json:"terminate"`
}

// Full reports a capability set with every optional operation enabled.
func Full() Capabilities {
	return Capabilities{PhaseQuery: true, PhaseControl: true, Terminate: true}
}

// Engine is a stepping simulation. Calls are never issued concurrently.
type Engine interface {
	Capabilities() Capabilities

	// LaneVehicleCount returns lane id -> vehicles currently on the lane.
	LaneVehicleCount(ctx context.Context) (map[string]int, error)

	// LaneWaitingVehicleCount returns lane id -> vehicles waiting on the lane.
	LaneWaitingVehicleCount(ctx context.Context) (map[string]int, error)

	// Vehicles returns the ids of all vehicles in the simulation.
	Vehicles(ctx context.Context) ([]string, error)

	TLPhase(ctx context.Context, intersectionID string) (int, error)
	SetTLPhase(ctx context.Context, intersectionID string, phase int) error

	// NextStep advances simulated time by one unit.
	NextStep(ctx context.Context) error

	Terminate(ctx context.Context) error
}

// Options carries engine construction parameters.
type Options struct {
	ConfigPath string
	Threads    int
	Address    string
	Image      string
	Settings   map[string]string
}

// Factory constructs an engine. A factory error is fatal to a run.
type Factory func(ctx context.Context, opts Options) (Engine, error)
