package null

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/greenwave-io/greenwave/internal/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Engine conformance: Open -> read counters -> set phases -> step -> terminate.
func TestConformance_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	e := New(WithFixture(Fixture{
		Lanes:    map[string]int{"I0_lane1": 3, "I1_lane1": 1},
		Waiting:  map[string]int{"I0_lane1": 1},
		Vehicles: []string{"v1", "v2", "v3", "v4"},
	}))

	// 1. Capabilities
	assert.Equal(t, sim.Full(), e.Capabilities())

	// 2. Counters
	lanes, err := e.LaneVehicleCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, lanes["I0_lane1"])

	waiting, err := e.LaneWaitingVehicleCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, waiting["I0_lane1"])

	vehicles, err := e.Vehicles(ctx)
	require.NoError(t, err)
	assert.Len(t, vehicles, 4)

	// 3. Phases
	require.NoError(t, e.SetTLPhase(ctx, "I0", 2))
	phase, err := e.TLPhase(ctx, "I0")
	require.NoError(t, err)
	assert.Equal(t, 2, phase)
	assert.Error(t, e.SetTLPhase(ctx, "I0", -1))

	// 4. Step
	require.NoError(t, e.NextStep(ctx))
	require.NoError(t, e.NextStep(ctx))
	assert.Equal(t, 2, e.Steps())
	assert.Equal(t, []PhaseCommand{{Step: 0, Intersection: "I0", Phase: 2}}, e.History())

	// 5. Terminate (idempotent)
	require.NoError(t, e.Terminate(ctx))
	require.NoError(t, e.Terminate(ctx))
	assert.ErrorIs(t, e.NextStep(ctx), sim.ErrNotOpen)
}

func TestEngine_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	e := New(WithFixture(Fixture{Lanes: map[string]int{"a": 1}}))

	lanes, err := e.LaneVehicleCount(ctx)
	require.NoError(t, err)
	lanes["a"] = 99

	again, err := e.LaneVehicleCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, again["a"])
}

func TestEngine_WithoutCapabilities(t *testing.T) {
	ctx := context.Background()
	e := New(WithCapabilities(sim.Capabilities{}))

	_, err := e.TLPhase(ctx, "I0")
	assert.ErrorIs(t, err, sim.ErrUnsupported)
	assert.ErrorIs(t, e.SetTLPhase(ctx, "I0", 1), sim.ErrUnsupported)
	assert.ErrorIs(t, e.Terminate(ctx), sim.ErrUnsupported)
}

func TestOpen_Fixture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fixture.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"lanes":{"road_0_1_0_0":4},"vehicles":["flow_0_0"],"phases":{"intersection_1_1":3}}`), 0644))

	eng, err := Open(context.Background(), sim.Options{ConfigPath: path})
	require.NoError(t, err)

	e := eng.(*Engine)
	assert.Equal(t, []string{"road_0_1_0_0"}, e.Lanes())
	assert.Equal(t, 3, e.Phase("intersection_1_1"))

	_, err = Open(context.Background(), sim.Options{ConfigPath: filepath.Join(dir, "missing.json")})
	assert.Error(t, err)
}
