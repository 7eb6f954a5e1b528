// Package docker runs the simulator in a container started for the run.
//
// The image's entrypoint must be the greenwave binary (or accept the same
// arguments): the container runs "serve-sim --listen :50051", optionally
// with "--simulator <name>". The simulator config directory is mounted
// read-only at /data; its path and the thread count reach the sidecar in
// the Open call, not on the command line.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/greenwave-io/greenwave/internal/logging"
	"github.com/greenwave-io/greenwave/internal/sim"
	"github.com/greenwave-io/greenwave/simulators/remote"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	dataDir             = "/data"
	defaultReadyTimeout = 30 * time.Second
	readyPollInterval   = 500 * time.Millisecond
)

// Config describes the sidecar container.
type Config struct {
	Image        string
	Name         string
	HostPort     string
	ConfigPath   string
	Threads      int
	Simulator    string
	Pull         bool
	ReadyTimeout time.Duration
}

// parseConfig builds a Config from engine options. Settings keys: name, host_port,
// simulator (adapter served inside the container), pull ("false" disables
// pulling), ready_timeout (Go duration).
func parseConfig(opts sim.Options) (Config, error) {
	if opts.Image == "" {
		return Config{}, fmt.Errorf("docker simulator requires an image")
	}

	cfg := Config{
		Image:        opts.Image,
		Name:         opts.Settings["name"],
		HostPort:     opts.Settings["host_port"],
		ConfigPath:   opts.ConfigPath,
		Threads:      opts.Threads,
		Simulator:    opts.Settings["simulator"],
		Pull:         opts.Settings["pull"] != "false",
		ReadyTimeout: defaultReadyTimeout,
	}
	if cfg.HostPort == "" {
		cfg.HostPort = strconv.Itoa(remote.DefaultPort)
	}
	if _, err := strconv.Atoi(cfg.HostPort); err != nil {
		return Config{}, fmt.Errorf("invalid host_port %q: %w", cfg.HostPort, err)
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	if raw := opts.Settings["ready_timeout"]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ready_timeout %q: %w", raw, err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("invalid ready_timeout %q: value must be > 0", raw)
		}
		cfg.ReadyTimeout = d
	}
	return cfg, nil
}

// command returns the serve-sim arguments for the sidecar.
func (c Config) command() []string {
	args := []string{"serve-sim", "--listen", fmt.Sprintf(":%d", remote.DefaultPort)}
	if c.Simulator != "" {
		args = append(args, "--simulator", c.Simulator)
	}
	return args
}

// containerConfigPath is where the simulator config appears inside the container.
func (c Config) containerConfigPath() string {
	if c.ConfigPath == "" {
		return ""
	}
	return dataDir + "/" + filepath.Base(c.ConfigPath)
}

func (c Config) binds() ([]string, error) {
	if c.ConfigPath == "" {
		return nil, nil
	}
	abs, err := filepath.Abs(filepath.Dir(c.ConfigPath))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return []string{abs + ":" + dataDir + ":ro"}, nil
}

// Engine is a remote engine whose simulator lives in a container started for the run.
type Engine struct {
	*remote.Engine
	client      *client.Client
	containerID string
}

var _ sim.Engine = (*Engine)(nil)

// Open is the registry factory: start the container, then connect to it.
func Open(ctx context.Context, opts sim.Options) (sim.Engine, error) {
	cfg, err := parseConfig(opts)
	if err != nil {
		return nil, err
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	id, err := startContainer(ctx, cli, cfg)
	if err != nil {
		cli.Close()
		return nil, err
	}

	target := "127.0.0.1:" + cfg.HostPort
	remoteEng, err := waitReady(ctx, target, cfg)
	if err != nil {
		removeContainer(context.Background(), cli, id)
		cli.Close()
		return nil, err
	}

	return &Engine{Engine: remoteEng, client: cli, containerID: id}, nil
}

func startContainer(ctx context.Context, cli *client.Client, cfg Config) (string, error) {
	if cfg.Pull {
		reader, err := cli.ImagePull(ctx, cfg.Image, image.PullOptions{})
		if err != nil {
			return "", fmt.Errorf("failed to pull image %s: %w", cfg.Image, err)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	binds, err := cfg.binds()
	if err != nil {
		return "", err
	}

	port := nat.Port(fmt.Sprintf("%d/tcp", remote.DefaultPort))
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: cfg.HostPort}},
		},
		Binds: binds,
	}
	config := &container.Config{
		Image:        cfg.Image,
		Cmd:          cfg.command(),
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Labels:       map[string]string{"io.greenwave.role": "simulator"},
	}

	resp, err := cli.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, &v1.Platform{}, cfg.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create simulator container: %w", err)
	}
	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		removeContainer(context.Background(), cli, resp.ID)
		return "", fmt.Errorf("failed to start simulator container: %w", err)
	}
	logging.Info("simulator container started", "id", shortID(resp.ID), "image", cfg.Image, "port", cfg.HostPort)
	return resp.ID, nil
}

// waitReady dials until the sidecar answers Open or the ready timeout expires.
func waitReady(ctx context.Context, target string, cfg Config) (*remote.Engine, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ReadyTimeout)
	defer cancel()

	opts := sim.Options{ConfigPath: cfg.containerConfigPath(), Threads: cfg.Threads}

	var lastErr error
	for {
		eng, err := remote.Dial(ctx, target, opts)
		if err == nil {
			return eng, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("simulator container not ready after %s: %w", cfg.ReadyTimeout, lastErr)
		case <-time.After(readyPollInterval):
		}
	}
}

// Capabilities reports the sidecar's capabilities; teardown is always available
// because the container itself can be removed.
func (e *Engine) Capabilities() sim.Capabilities {
	caps := e.Engine.Capabilities()
	caps.Terminate = true
	return caps
}

// Terminate ends the remote simulation and removes the container.
func (e *Engine) Terminate(ctx context.Context) error {
	var errs []error
	if e.Engine.Capabilities().Terminate {
		if err := e.Engine.Terminate(ctx); err != nil {
			errs = append(errs, err)
		}
	} else if err := e.Engine.Close(); err != nil {
		errs = append(errs, err)
	}
	if e.containerID != "" {
		if err := removeContainer(ctx, e.client, e.containerID); err != nil {
			errs = append(errs, err)
		}
		e.containerID = ""
	}
	return errors.Join(errs...)
}

// Close removes the container if Terminate never ran and releases the Docker client.
func (e *Engine) Close() error {
	var errs []error
	if err := e.Engine.Close(); err != nil {
		errs = append(errs, err)
	}
	if e.containerID != "" {
		if err := removeContainer(context.Background(), e.client, e.containerID); err != nil {
			errs = append(errs, err)
		}
		e.containerID = ""
	}
	if err := e.client.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func removeContainer(ctx context.Context, cli *client.Client, id string) error {
	timeout := 10 // seconds
	_ = cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
	if err := cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove simulator container %s: %w", shortID(id), err)
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
