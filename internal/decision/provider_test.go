package decision

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/greenwave-io/greenwave/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIDs = []string{"I0", "I1", "I2"}

func fastRetry() Option {
	return WithRetryPolicy(&RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
}

func answering(answer map[string]int) Oracle {
	return OracleFunc(func(ctx context.Context, req *Request) (map[string]int, error) {
		return answer, nil
	})
}

func failing(err error) Oracle {
	return OracleFunc(func(ctx context.Context, req *Request) (map[string]int, error) {
		return nil, err
	})
}

func TestDecide_FullAnswer(t *testing.T) {
	p := NewProvider(answering(map[string]int{"I0": 2, "I1": 3, "I2": 0}), testIDs)

	d := p.Decide(context.Background(), ir.StateSnapshot{}, 0)

	assert.Equal(t, SourceOracle, d.Source)
	assert.NoError(t, d.Err)
	assert.Empty(t, d.Filled)
	assert.Equal(t, ir.PhaseAssignment{"I0": 2, "I1": 3, "I2": 0}, d.Phases)
	assert.True(t, d.Phases.Covers(testIDs))
}

func TestDecide_PartialAnswerFillsZero(t *testing.T) {
	p := NewProvider(answering(map[string]int{"I1": 4}), testIDs)

	d := p.Decide(context.Background(), ir.StateSnapshot{}, 5)

	assert.Equal(t, SourceOracle, d.Source)
	assert.Equal(t, ir.PhaseAssignment{"I0": FillPhase, "I1": 4, "I2": FillPhase}, d.Phases)
	assert.Equal(t, []string{"I0", "I2"}, d.Filled)
}

func TestDecide_EmptyAnswerFillsEverything(t *testing.T) {
	p := NewProvider(answering(nil), testIDs)

	d := p.Decide(context.Background(), ir.StateSnapshot{}, 0)

	assert.Equal(t, SourceOracle, d.Source)
	assert.Equal(t, ir.Uniform(testIDs, FillPhase), d.Phases)
	assert.Equal(t, testIDs, d.Filled)
}

func TestDecide_DropsUnknownAndNegative(t *testing.T) {
	p := NewProvider(answering(map[string]int{"I0": 1, "I1": -3, "ghost": 2}), testIDs)

	d := p.Decide(context.Background(), ir.StateSnapshot{}, 0)

	assert.Equal(t, SourceOracle, d.Source)
	assert.Equal(t, []string{"I1", "ghost"}, d.Dropped)
	assert.Equal(t, ir.PhaseAssignment{"I0": 1, "I1": FillPhase, "I2": FillPhase}, d.Phases)
	assert.True(t, d.Phases.Covers(testIDs))
}

func TestDecide_FailureUsesDefault(t *testing.T) {
	tests := []struct {
		name   string
		oracle Oracle
	}{
		{"error", failing(errors.New("oracle response status=401 body=denied"))},
		{"panic", OracleFunc(func(ctx context.Context, req *Request) (map[string]int, error) {
			panic("boom")
		})},
		{"nil oracle", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider(tt.oracle, testIDs, fastRetry())

			d := p.Decide(context.Background(), ir.StateSnapshot{}, 10)

			assert.Equal(t, SourceDefault, d.Source)
			assert.Error(t, d.Err)
			assert.Equal(t, ir.Uniform(testIDs, DefaultPhase), d.Phases)
			assert.Empty(t, d.Filled)
		})
	}
}

func TestDecide_FallbackDistinction(t *testing.T) {
	partial := NewProvider(answering(map[string]int{}), testIDs).Decide(context.Background(), nil, 0)
	failed := NewProvider(failing(errors.New("bad")), testIDs).Decide(context.Background(), nil, 0)

	for _, id := range testIDs {
		assert.Equal(t, 0, partial.Phases[id])
		assert.Equal(t, 1, failed.Phases[id])
	}
}

func TestDecide_Timeout(t *testing.T) {
	blocking := OracleFunc(func(ctx context.Context, req *Request) (map[string]int, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p := NewProvider(blocking, testIDs, WithDecisionTimeout(20*time.Millisecond), fastRetry())

	start := time.Now()
	d := p.Decide(context.Background(), ir.StateSnapshot{}, 0)

	assert.Equal(t, SourceDefault, d.Source)
	assert.ErrorIs(t, d.Err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDecide_TimeoutWithUncooperativeOracle(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := OracleFunc(func(ctx context.Context, req *Request) (map[string]int, error) {
		<-release
		return map[string]int{"I0": 3}, nil
	})
	p := NewProvider(stuck, testIDs, WithDecisionTimeout(20*time.Millisecond), fastRetry())

	d := p.Decide(context.Background(), ir.StateSnapshot{}, 0)

	assert.Equal(t, SourceDefault, d.Source)
	assert.Equal(t, ir.Uniform(testIDs, DefaultPhase), d.Phases)
}

func TestDecide_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	flaky := OracleFunc(func(ctx context.Context, req *Request) (map[string]int, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("oracle response status=503 body=busy")
		}
		return map[string]int{"I0": 2, "I1": 2, "I2": 2}, nil
	})
	p := NewProvider(flaky, testIDs, fastRetry())

	d := p.Decide(context.Background(), ir.StateSnapshot{}, 0)

	assert.Equal(t, SourceOracle, d.Source)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, ir.Uniform(testIDs, 2), d.Phases)
}

func TestDecide_DoesNotRetryPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	broken := OracleFunc(func(ctx context.Context, req *Request) (map[string]int, error) {
		calls.Add(1)
		return nil, errors.New("decode answer: invalid character")
	})
	p := NewProvider(broken, testIDs, fastRetry())

	d := p.Decide(context.Background(), ir.StateSnapshot{}, 0)

	assert.Equal(t, SourceDefault, d.Source)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDecide_Request(t *testing.T) {
	var got *Request
	capture := OracleFunc(func(ctx context.Context, req *Request) (map[string]int, error) {
		got = req
		return nil, nil
	})
	snapshot := ir.StateSnapshot{
		"I0": {ID: "I0", VehicleCount: 5, WaitingVehicleCount: 1},
		"I1": {ID: "I1", VehicleCount: 1},
	}
	p := NewProvider(capture, []string{"I1", "I0", "I2"}, WithTotalSteps(3600))

	p.Decide(context.Background(), snapshot, 15)

	require.NotNil(t, got)
	assert.Equal(t, 15, got.StepIndex)
	assert.Equal(t, 3600, got.TotalSteps)
	assert.Equal(t, []string{"I1", "I0", "I2"}, got.IntersectionIDs)
	require.Len(t, got.IntersectionStates, 3)
	assert.Equal(t, "I1", got.IntersectionStates[0].ID)
	assert.Equal(t, 5, got.IntersectionStates[1].VehicleCount)
	assert.Equal(t, "I2", got.IntersectionStates[2].ID)
}

func TestProvider_IDsAreCopied(t *testing.T) {
	ids := []string{"a", "b"}
	p := NewProvider(answering(nil), ids)
	ids[0] = "mutated"

	d := p.Decide(context.Background(), nil, 0)
	assert.True(t, d.Phases.Covers([]string{"a", "b"}))
	assert.NotContains(t, d.Phases, "mutated")
}
