package control

import (
	"time"

	"github.com/greenwave-io/greenwave/internal/decision"
)

// EventKind identifies a control loop stage outcome.
type EventKind string

const (
	EventSenseFailed   EventKind = "sense_failed"
	EventDecision      EventKind = "decision"
	EventPhaseApplied  EventKind = "phase_applied"
	EventPhaseRetried  EventKind = "phase_retried"
	EventPhaseFailed   EventKind = "phase_failed"
	EventApplySkipped  EventKind = "apply_skipped"
	EventStepFailed    EventKind = "step_failed"
	EventAdvanced      EventKind = "advanced"
	EventAdvanceFailed EventKind = "advance_failed"
	EventProgress      EventKind = "progress"
	EventShutdown      EventKind = "shutdown"
)

// Event is emitted for every loop stage outcome.
type Event struct {
	Step         int
	Kind         EventKind
	Intersection string
	Phase        int
	Vehicles     int
	Decision     *decision.Decision
	Duration     time.Duration
	Error        error
}

// Observer is called synchronously for each event if set.
type Observer func(event Event)
