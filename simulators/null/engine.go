package null

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/greenwave-io/greenwave/internal/sim"
)

// Fixture is the static traffic picture served by the null engine.
type Fixture struct {
	Lanes    map[string]int `json:"lanes"`
	Waiting  map[string]int `json:"waiting"`
	Vehicles []string       `json:"vehicles"`
	Phases   map[string]int `json:"phases"`
}

// Engine is an in-memory simulator. Counts never change on their own; it records
// the commands it receives so dry runs and tests can inspect them.
type Engine struct {
	mu         sync.Mutex
	caps       sim.Capabilities
	lanes      map[string]int
	waiting    map[string]int
	vehicles   []string
	phases     map[string]int
	steps      int
	terminated bool
	history    []PhaseCommand
}

// PhaseCommand is one recorded SetTLPhase call.
type PhaseCommand struct {
	Step         int
	Intersection string
	Phase        int
}

// Option customizes a null engine.
type Option func(*Engine)

// WithFixture seeds the lane and vehicle tables.
func WithFixture(f Fixture) Option {
	return func(e *Engine) {
		e.lanes = copyCounts(f.Lanes)
		e.waiting = copyCounts(f.Waiting)
		e.vehicles = append([]string(nil), f.Vehicles...)
		for id, p := range f.Phases {
			e.phases[id] = p
		}
	}
}

// WithCapabilities overrides the declared capabilities.
func WithCapabilities(c sim.Capabilities) Option {
	return func(e *Engine) { e.caps = c }
}

func New(opts ...Option) *Engine {
	e := &Engine{
		caps:    sim.Full(),
		lanes:   map[string]int{},
		waiting: map[string]int{},
		phases:  map[string]int{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open is the registry factory. A non-empty ConfigPath names a JSON fixture file.
func Open(ctx context.Context, opts sim.Options) (sim.Engine, error) {
	if opts.ConfigPath == "" {
		return New(), nil
	}
	f, err := LoadFixture(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	return New(WithFixture(*f)), nil
}

// LoadFixture reads a fixture from a JSON file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	return &f, nil
}

func (e *Engine) Capabilities() sim.Capabilities { return e.caps }

func (e *Engine) LaneVehicleCount(ctx context.Context) (map[string]int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return nil, sim.ErrNotOpen
	}
	return copyCounts(e.lanes), nil
}

func (e *Engine) LaneWaitingVehicleCount(ctx context.Context) (map[string]int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return nil, sim.ErrNotOpen
	}
	return copyCounts(e.waiting), nil
}

func (e *Engine) Vehicles(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return nil, sim.ErrNotOpen
	}
	return append([]string(nil), e.vehicles...), nil
}

func (e *Engine) TLPhase(ctx context.Context, intersectionID string) (int, error) {
	if !e.caps.PhaseQuery {
		return 0, sim.ErrUnsupported
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phases[intersectionID], nil
}

func (e *Engine) SetTLPhase(ctx context.Context, intersectionID string, phase int) error {
	if !e.caps.PhaseControl {
		return sim.ErrUnsupported
	}
	if phase < 0 {
		return fmt.Errorf("invalid phase %d for %s", phase, intersectionID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return sim.ErrNotOpen
	}
	e.phases[intersectionID] = phase
	e.history = append(e.history, PhaseCommand{Step: e.steps, Intersection: intersectionID, Phase: phase})
	return nil
}

func (e *Engine) NextStep(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return sim.ErrNotOpen
	}
	e.steps++
	return nil
}

// Terminate is idempotent.
func (e *Engine) Terminate(ctx context.Context) error {
	if !e.caps.Terminate {
		return sim.ErrUnsupported
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.terminated = true
	return nil
}

// Steps returns how many times NextStep succeeded.
func (e *Engine) Steps() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.steps
}

// Phase returns the last phase set for an intersection.
func (e *Engine) Phase(intersectionID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phases[intersectionID]
}

// History returns the recorded phase commands in call order.
func (e *Engine) History() []PhaseCommand {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]PhaseCommand(nil), e.history...)
}

// Lanes returns the fixture lane ids in lexical order.
func (e *Engine) Lanes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	lanes := make([]string, 0, len(e.lanes))
	for l := range e.lanes {
		lanes = append(lanes, l)
	}
	sort.Strings(lanes)
	return lanes
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
