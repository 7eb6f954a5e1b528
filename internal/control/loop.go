// Package control drives a simulation step by step, sensing intersection
// state, asking for phase decisions on a fixed cadence and applying them.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/greenwave-io/greenwave/internal/decision"
	"github.com/greenwave-io/greenwave/internal/ir"
	"github.com/greenwave-io/greenwave/internal/logging"
	"github.com/greenwave-io/greenwave/internal/sim"
)

// Decider produces a phase assignment for a snapshot. Implementations must
// not fail: the returned Phases cover every configured intersection.
type Decider interface {
	Decide(ctx context.Context, snapshot ir.StateSnapshot, step int) decision.Decision
}

// Controller runs the sense, decide, apply, advance cycle against an engine.
type Controller struct {
	eng      sim.Engine
	decider  Decider
	cfg      ir.RunConfig
	observer Observer
	runID    string
	now      func() time.Time

	skipLogged   bool
	lastVehicles int
	released     bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver registers a callback for loop events.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		c.observer = o
	}
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(c *Controller) {
		if id != "" {
			c.runID = id
		}
	}
}

// NewController validates cfg and creates a controller. The engine must
// already be open; the controller releases it when Run returns.
func NewController(eng sim.Engine, decider Decider, cfg ir.RunConfig, opts ...Option) (*Controller, error) {
	if eng == nil {
		return nil, errors.New("controller requires an engine")
	}
	if decider == nil {
		return nil, errors.New("controller requires a decider")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.IntersectionIDs = append([]string(nil), cfg.IntersectionIDs...)

	c := &Controller{
		eng:     eng,
		decider: decider,
		cfg:     cfg,
		runID:   uuid.NewString(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RunID returns the id stamped on this controller's summary.
func (c *Controller) RunID() string {
	return c.runID
}

// Run executes every configured step and then shuts the engine down.
// Failures inside a step are logged, counted and survived; Run always
// advances the engine exactly TotalSteps times unless NextStep itself fails.
func (c *Controller) Run(ctx context.Context) *ir.RunSummary {
	summary := &ir.RunSummary{
		RunID:      c.runID,
		TotalSteps: c.cfg.TotalSteps,
		StartedAt:  c.now().UTC().Format(time.RFC3339),
	}

	logging.Info("starting control loop",
		"run_id", c.runID,
		"intersections", len(c.cfg.IntersectionIDs),
		"total_steps", c.cfg.TotalSteps,
		"decision_interval", c.cfg.DecisionInterval,
	)

	for s := 0; s < c.cfg.TotalSteps; s++ {
		c.step(ctx, s, summary)
	}

	c.shutdown(ctx, summary)
	summary.FinishedAt = c.now().UTC().Format(time.RFC3339)
	return summary
}

func (c *Controller) emit(event Event) {
	if c.observer != nil {
		c.observer(event)
	}
}

func (c *Controller) step(ctx context.Context, s int, summary *ir.RunSummary) {
	failed := false
	if err := c.senseDecideApply(ctx, s, summary); err != nil {
		failed = true
		logging.Error("step failed, continuing", "step", s, "error", err)
		c.emit(Event{Step: s, Kind: EventStepFailed, Error: err})
	}

	start := time.Now()
	if err := guard(func() error { return c.eng.NextStep(ctx) }); err != nil {
		summary.AdvanceFailures++
		failed = true
		logging.Error("failed to advance simulation", "step", s, "error", err)
		c.emit(Event{Step: s, Kind: EventAdvanceFailed, Duration: time.Since(start), Error: err})
	} else {
		summary.StepsAdvanced++
		c.emit(Event{Step: s, Kind: EventAdvanced, Duration: time.Since(start)})
	}
	if failed {
		summary.StepFailures++
	}

	if s%c.cfg.Progress() == 0 {
		c.progress(ctx, s)
	}
}

// senseDecideApply runs stages one to three of a step. Any panic is
// converted into the returned error.
func (c *Controller) senseDecideApply(ctx context.Context, s int, summary *ir.RunSummary) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	snapshot, err := Aggregate(ctx, c.eng, c.cfg.IntersectionIDs)
	if err != nil {
		c.emit(Event{Step: s, Kind: EventSenseFailed, Error: err})
		return fmt.Errorf("sense: %w", err)
	}
	c.lastVehicles = snapshot[c.cfg.IntersectionIDs[0]].TotalVehiclesInSimulation

	if s%c.cfg.DecisionInterval != 0 {
		return nil
	}

	d := c.decider.Decide(ctx, snapshot, s)
	summary.DecisionRequests++
	if d.Source == decision.SourceDefault {
		summary.DecisionFallbacks++
	}
	summary.FilledPhases += len(d.Filled)
	c.emit(Event{Step: s, Kind: EventDecision, Decision: &d, Duration: d.Duration, Error: d.Err})

	c.apply(ctx, s, d.Phases, summary)
	return nil
}

// apply sends each phase to the engine. A rejected phase is retried once
// with phase 0; a second rejection skips that intersection only.
func (c *Controller) apply(ctx context.Context, s int, phases ir.PhaseAssignment, summary *ir.RunSummary) {
	if !c.eng.Capabilities().PhaseControl {
		if !c.skipLogged {
			logging.Warn("simulator does not support phase control, decisions are not applied")
			c.skipLogged = true
		}
		c.emit(Event{Step: s, Kind: EventApplySkipped})
		return
	}

	for _, id := range c.cfg.IntersectionIDs {
		phase, ok := phases[id]
		if !ok {
			continue
		}

		err := guard(func() error { return c.eng.SetTLPhase(ctx, id, phase) })
		if err == nil {
			logging.Debug("phase applied", "step", s, "intersection", id, "phase", phase)
			c.emit(Event{Step: s, Kind: EventPhaseApplied, Intersection: id, Phase: phase})
			continue
		}

		logging.Warn("failed to apply phase, retrying with phase 0",
			"step", s,
			"intersection", id,
			"phase", phase,
			"error", err,
		)
		c.emit(Event{Step: s, Kind: EventPhaseRetried, Intersection: id, Phase: phase, Error: err})

		if err := guard(func() error { return c.eng.SetTLPhase(ctx, id, 0) }); err != nil {
			summary.PhaseApplyFailures++
			logging.Error("failed to apply fallback phase, skipping intersection",
				"step", s,
				"intersection", id,
				"error", err,
			)
			c.emit(Event{Step: s, Kind: EventPhaseFailed, Intersection: id, Error: err})
			continue
		}
		c.emit(Event{Step: s, Kind: EventPhaseApplied, Intersection: id, Phase: 0})
	}
}

func (c *Controller) progress(ctx context.Context, s int) {
	var vehicles []string
	err := guard(func() error {
		var err error
		vehicles, err = c.eng.Vehicles(ctx)
		return err
	})
	count := len(vehicles)
	if err != nil {
		count = c.lastVehicles
		logging.Warn("failed to read vehicles for progress", "step", s, "error", err)
	}
	logging.Info("progress",
		"step", s,
		"total_steps", c.cfg.TotalSteps,
		"vehicles", count,
	)
	c.emit(Event{Step: s, Kind: EventProgress, Vehicles: count, Error: err})
}

// shutdown reads the final vehicle count and releases the engine.
func (c *Controller) shutdown(ctx context.Context, summary *ir.RunSummary) {
	var vehicles []string
	if err := guard(func() error {
		var err error
		vehicles, err = c.eng.Vehicles(ctx)
		return err
	}); err != nil {
		logging.Warn("failed to read final vehicle count", "error", err)
	}
	summary.FinalVehicleCount = len(vehicles)

	termErr := c.Release(ctx)
	if termErr != nil {
		logging.Warn("failed to terminate simulator", "error", termErr)
	}

	logging.Info("simulation complete",
		"run_id", summary.RunID,
		"total_steps", summary.TotalSteps,
		"final_vehicle_count", summary.FinalVehicleCount,
		"decision_fallbacks", summary.DecisionFallbacks,
		"step_failures", summary.StepFailures,
	)
	c.emit(Event{Step: c.cfg.TotalSteps, Kind: EventShutdown, Vehicles: summary.FinalVehicleCount, Error: termErr})
}

// guard runs fn and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// Release terminates the engine if it supports termination. Only the first
// call has an effect.
func (c *Controller) Release(ctx context.Context) error {
	if c.released {
		return nil
	}
	c.released = true
	if !c.eng.Capabilities().Terminate {
		logging.Info("simulator needs no explicit teardown")
		return nil
	}
	return guard(func() error { return c.eng.Terminate(ctx) })
}
