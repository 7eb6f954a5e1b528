// Package decision turns intersection snapshots into phase assignments by
// consulting an oracle, and substitutes safe defaults when the oracle fails.
package decision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/greenwave-io/greenwave/internal/ir"
	"github.com/greenwave-io/greenwave/internal/logging"
)

const (
	// FillPhase is applied to intersections the oracle left out of a successful answer.
	FillPhase = 0
	// DefaultPhase is applied to every intersection when the oracle fails.
	DefaultPhase = 1
)

// Source records where a decision's phases came from.
type Source string

const (
	SourceOracle  Source = "oracle"
	SourceDefault Source = "default"
)

// Request is what an oracle sees for one decision.
type Request struct {
	IntersectionStates []ir.IntersectionState `json:"intersection_states"`
	IntersectionIDs    []string               `json:"intersection_ids"`
	StepIndex          int                    `json:"step_index"`
	TotalSteps         int                    `json:"total_steps,omitempty"`
}

// Oracle answers a decision request with a phase per intersection id.
// Answers may be partial or contain ids the caller never asked about.
type Oracle interface {
	Decide(ctx context.Context, req *Request) (map[string]int, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, req *Request) (map[string]int, error)

// Decide calls f.
func (f OracleFunc) Decide(ctx context.Context, req *Request) (map[string]int, error) {
	return f(ctx, req)
}

// Decision is the outcome of one decision request. Phases always holds
// exactly the provider's intersection ids.
type Decision struct {
	Phases   ir.PhaseAssignment
	Source   Source
	Filled   []string
	Dropped  []string
	Err      error
	Duration time.Duration
}

// Provider wraps an Oracle with deadline, retry and fallback handling.
type Provider struct {
	oracle     Oracle
	ids        []string
	known      map[string]bool
	timeout    time.Duration
	retry      *RetryPolicy
	totalSteps int
}

// Option configures a Provider.
type Option func(*Provider)

// WithDecisionTimeout bounds each Decide call, retries included.
func WithDecisionTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithRetryPolicy sets the retry policy for transient oracle errors.
func WithRetryPolicy(policy *RetryPolicy) Option {
	return func(p *Provider) {
		if policy != nil {
			p.retry = policy
		}
	}
}

// WithTotalSteps passes the run length through to the oracle request.
func WithTotalSteps(n int) Option {
	return func(p *Provider) {
		p.totalSteps = n
	}
}

// NewProvider creates a provider deciding for the given intersection ids.
func NewProvider(oracle Oracle, ids []string, opts ...Option) *Provider {
	p := &Provider{
		oracle:  oracle,
		ids:     append([]string(nil), ids...),
		known:   make(map[string]bool, len(ids)),
		timeout: DefaultTimeout,
		retry:   DefaultRetryPolicy(),
	}
	for _, id := range ids {
		p.known[id] = true
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decide asks the oracle for phases at step. It never fails: oracle errors,
// timeouts and panics yield DefaultPhase for every intersection.
func (p *Provider) Decide(ctx context.Context, snapshot ir.StateSnapshot, step int) Decision {
	start := time.Now()
	req := p.request(snapshot, step)

	logging.Debug("requesting phase decision", "step", step, "intersections", len(req.IntersectionIDs))

	answer, err := p.ask(ctx, req)
	if err != nil {
		logging.Warn("oracle failed, applying default phase",
			"step", step,
			"phase", DefaultPhase,
			"error", err,
		)
		return Decision{
			Phases:   ir.Uniform(p.ids, DefaultPhase),
			Source:   SourceDefault,
			Err:      err,
			Duration: time.Since(start),
		}
	}

	d := p.normalize(answer)
	d.Duration = time.Since(start)
	logging.Debug("oracle answered", "step", step, "phases", d.Phases, "duration", d.Duration)
	if len(d.Dropped) > 0 {
		logging.Warn("oracle answer had unusable entries", "step", step, "dropped", d.Dropped)
	}
	if len(d.Filled) > 0 {
		logging.Info("oracle answer was partial, filling missing intersections",
			"step", step,
			"phase", FillPhase,
			"filled", d.Filled,
		)
	}
	return d
}

func (p *Provider) request(snapshot ir.StateSnapshot, step int) *Request {
	states := make([]ir.IntersectionState, 0, len(p.ids))
	for _, id := range p.ids {
		st, ok := snapshot[id]
		if !ok {
			st = ir.IntersectionState{ID: id}
		}
		states = append(states, st)
	}
	return &Request{
		IntersectionStates: states,
		IntersectionIDs:    append([]string(nil), p.ids...),
		StepIndex:          step,
		TotalSteps:         p.totalSteps,
	}
}

type oracleResult struct {
	answer map[string]int
	err    error
}

// ask runs the oracle under the decision deadline, retrying transient errors.
func (p *Provider) ask(ctx context.Context, req *Request) (map[string]int, error) {
	if p.oracle == nil {
		return nil, errors.New("no oracle configured")
	}
	ctx, cancel := WithTimeout(ctx, p.timeout)
	defer cancel()

	var answer map[string]int
	err := RetryWithBackoff(ctx, p.retry, func() error {
		res := p.call(ctx, req)
		if res.err != nil {
			return res.err
		}
		answer = res.answer
		return nil
	}, IsTransientError)
	if err != nil {
		return nil, err
	}
	return answer, nil
}

// call runs one oracle attempt. The oracle runs in its own goroutine so a
// call that ignores ctx still cannot hold the loop past the deadline.
func (p *Provider) call(ctx context.Context, req *Request) oracleResult {
	done := make(chan oracleResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- oracleResult{err: fmt.Errorf("oracle panic: %v", r)}
			}
		}()
		answer, err := p.oracle.Decide(ctx, req)
		done <- oracleResult{answer: answer, err: err}
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return oracleResult{err: fmt.Errorf("oracle did not answer: %w", ctx.Err())}
	}
}

// normalize keeps valid entries for known ids and fills the rest.
func (p *Provider) normalize(answer map[string]int) Decision {
	d := Decision{
		Phases: make(ir.PhaseAssignment, len(p.ids)),
		Source: SourceOracle,
	}
	for id, phase := range answer {
		if !p.known[id] || phase < 0 {
			d.Dropped = append(d.Dropped, id)
			continue
		}
		d.Phases[id] = phase
	}
	for _, id := range p.ids {
		if _, ok := d.Phases[id]; !ok {
			d.Phases[id] = FillPhase
			d.Filled = append(d.Filled, id)
		}
	}
	sort.Strings(d.Dropped)
	return d
}
