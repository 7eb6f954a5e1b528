package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseAssignment_Covers(t *testing.T) {
	ids := []string{"I0", "I1"}

	tests := []struct {
		name     string
		a        PhaseAssignment
		expected bool
	}{
		{"exact", PhaseAssignment{"I0": 2, "I1": 0}, true},
		{"missing", PhaseAssignment{"I0": 2}, false},
		{"extra", PhaseAssignment{"I0": 2, "I1": 0, "I2": 1}, false},
		{"wrong keys", PhaseAssignment{"I0": 2, "I9": 0}, false},
		{"empty", PhaseAssignment{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.a.Covers(ids))
		})
	}
}

func TestUniform(t *testing.T) {
	a := Uniform([]string{"A", "B"}, 1)
	assert.Equal(t, PhaseAssignment{"A": 1, "B": 1}, a)
	assert.True(t, a.Covers([]string{"A", "B"}))
}

func TestRunConfig_Validate(t *testing.T) {
	valid := RunConfig{IntersectionIDs: []string{"I0", "I1"}, TotalSteps: 10, DecisionInterval: 5}
	require.NoError(t, valid.Validate())
	assert.Equal(t, DefaultProgressInterval, valid.Progress())

	tests := []struct {
		name string
		cfg  RunConfig
		want string
	}{
		{"no ids", RunConfig{TotalSteps: 1, DecisionInterval: 1}, "at least one"},
		{"empty id", RunConfig{IntersectionIDs: []string{""}, TotalSteps: 1, DecisionInterval: 1}, "empty intersection id"},
		{"duplicate id", RunConfig{IntersectionIDs: []string{"a", "a"}, TotalSteps: 1, DecisionInterval: 1}, "duplicate"},
		{"zero steps", RunConfig{IntersectionIDs: []string{"a"}, DecisionInterval: 1}, "total steps"},
		{"zero interval", RunConfig{IntersectionIDs: []string{"a"}, TotalSteps: 1}, "decision interval"},
		{"negative progress", RunConfig{IntersectionIDs: []string{"a"}, TotalSteps: 1, DecisionInterval: 1, ProgressInterval: -1}, "progress interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	var nilCfg *RunConfig
	assert.Error(t, nilCfg.Validate())
}
