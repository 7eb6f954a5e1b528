package simulator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/greenwave-io/greenwave/internal/sim"
	"github.com/greenwave-io/greenwave/simulators/docker"
	"github.com/greenwave-io/greenwave/simulators/null"
	"github.com/greenwave-io/greenwave/simulators/remote"
)

// Registry maps simulator names to engine factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]sim.Factory
}

// NewRegistry returns a registry preloaded with the built-in simulators.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]sim.Factory),
	}
	r.factories["null"] = null.Open
	r.factories["remote"] = remote.Open
	r.factories["docker"] = docker.Open
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f sim.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names lists the registered simulators.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open constructs an engine. Any error here aborts the run.
func (r *Registry) Open(ctx context.Context, name string, opts sim.Options) (sim.Engine, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown simulator: %s", name)
	}

	eng, err := f(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s simulator: %w", name, err)
	}
	return eng, nil
}
