// Package cycle implements a fixed-time decision oracle that rotates every
// intersection through its phases on a common schedule.
package cycle

import (
	"context"

	"github.com/greenwave-io/greenwave/internal/decision"
)

const (
	DefaultPhases = 4
	DefaultHold   = 30
)

// Oracle holds each phase for Hold steps and then moves to the next one.
type Oracle struct {
	phases int
	hold   int
}

var _ decision.Oracle = (*Oracle)(nil)

// New creates a cycle oracle. Non-positive values select the defaults.
func New(phases, hold int) *Oracle {
	if phases <= 0 {
		phases = DefaultPhases
	}
	if hold <= 0 {
		hold = DefaultHold
	}
	return &Oracle{phases: phases, hold: hold}
}

// PhaseAt returns the phase active at step.
func (o *Oracle) PhaseAt(step int) int {
	if step < 0 {
		step = 0
	}
	return (step / o.hold) % o.phases
}

func (o *Oracle) Decide(ctx context.Context, req *decision.Request) (map[string]int, error) {
	phase := o.PhaseAt(req.StepIndex)
	out := make(map[string]int, len(req.IntersectionIDs))
	for _, id := range req.IntersectionIDs {
		out[id] = phase
	}
	return out, nil
}
