package docker

import (
	"context"
	"testing"
	"time"

	"github.com/greenwave-io/greenwave/internal/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigRequiresImage(t *testing.T) {
	_, err := parseConfig(sim.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image")
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig(sim.Options{Image: "greenwave/cityflow-sidecar:latest"})
	require.NoError(t, err)
	assert.Equal(t, "50051", cfg.HostPort)
	assert.Equal(t, 1, cfg.Threads)
	assert.True(t, cfg.Pull)
	assert.Equal(t, defaultReadyTimeout, cfg.ReadyTimeout)
	assert.Empty(t, cfg.containerConfigPath())
	assert.Equal(t, []string{"serve-sim", "--listen", ":50051"}, cfg.command())

	binds, err := cfg.binds()
	require.NoError(t, err)
	assert.Empty(t, binds)
}

func TestParseConfigCustom(t *testing.T) {
	cfg, err := parseConfig(sim.Options{
		Image:      "sidecar:dev",
		ConfigPath: "/srv/scenario/config.json",
		Threads:    4,
		Settings: map[string]string{
			"name":          "gw-sim",
			"host_port":     "6000",
			"pull":          "false",
			"ready_timeout": "5s",
			"simulator":     "null",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "gw-sim", cfg.Name)
	assert.Equal(t, "6000", cfg.HostPort)
	assert.False(t, cfg.Pull)
	assert.Equal(t, 5*time.Second, cfg.ReadyTimeout)
	assert.Equal(t, "/data/config.json", cfg.containerConfigPath())
	assert.Equal(t, []string{"serve-sim", "--listen", ":50051", "--simulator", "null"}, cfg.command())

	binds, err := cfg.binds()
	require.NoError(t, err)
	assert.Equal(t, []string{"/srv/scenario:/data:ro"}, binds)
}

func TestParseConfigRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]string
	}{
		{"port", map[string]string{"host_port": "http"}},
		{"timeout", map[string]string{"ready_timeout": "soon"}},
		{"negative timeout", map[string]string{"ready_timeout": "-1s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfig(sim.Options{Image: "x", Settings: tt.settings})
			assert.Error(t, err)
		})
	}
}

func TestOpenWithoutDaemon(t *testing.T) {
	// Needs a Docker daemon and the sidecar image; skip otherwise.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Open(ctx, sim.Options{Image: "greenwave/does-not-exist:never"})
	if err == nil {
		t.Skip("unexpected sidecar image available")
	}
	assert.Error(t, err)
}
