package remote

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/greenwave-io/greenwave/internal/logging"
	"github.com/greenwave-io/greenwave/internal/sim"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Engine is a sim.Engine backed by a remote simulator service.
type Engine struct {
	conn *grpc.ClientConn
	caps sim.Capabilities

	mu     sync.Mutex
	closed bool
}

var _ sim.Engine = (*Engine)(nil)

// Open is the registry factory. It dials opts.Address and opens the simulation.
func Open(ctx context.Context, opts sim.Options) (sim.Engine, error) {
	return Dial(ctx, opts.Address, opts)
}

// Dial connects to target and asks the server to construct the simulation.
// Capabilities come from the server reply and stay fixed afterwards.
func Dial(ctx context.Context, target string, opts sim.Options, dialOpts ...grpc.DialOption) (*Engine, error) {
	if target == "" {
		target = net.JoinHostPort("127.0.0.1", strconv.Itoa(DefaultPort))
	}

	all := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, dialOpts...)
	conn, err := grpc.NewClient(target, all...)
	if err != nil {
		return nil, fmt.Errorf("failed to create simulator client for %s: %w", target, err)
	}

	e := &Engine{conn: conn}
	req := map[string]any{
		"config_path": opts.ConfigPath,
		"thread_num":  opts.Threads,
	}
	resp, err := e.call(ctx, methodOpen, req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open remote simulator at %s: %w", target, err)
	}
	e.caps = sim.Capabilities{
		PhaseQuery:   boolFrom(resp, "phase_query"),
		PhaseControl: boolFrom(resp, "phase_control"),
		Terminate:    boolFrom(resp, "terminate"),
	}
	logging.Debug("remote simulator opened", "target", target, "phase_query", e.caps.PhaseQuery,
		"phase_control", e.caps.PhaseControl, "terminate", e.caps.Terminate)
	return e, nil
}

func (e *Engine) call(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%s: %w", method, sim.ErrNotOpen)
	}

	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := e.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, fromStatus(method, err)
	}
	return out, nil
}

func (e *Engine) Capabilities() sim.Capabilities { return e.caps }

func (e *Engine) LaneVehicleCount(ctx context.Context) (map[string]int, error) {
	resp, err := e.call(ctx, methodLaneCount, nil)
	if err != nil {
		return nil, err
	}
	return countsFrom(resp, "counts")
}

func (e *Engine) LaneWaitingVehicleCount(ctx context.Context) (map[string]int, error) {
	resp, err := e.call(ctx, methodWaitingCount, nil)
	if err != nil {
		return nil, err
	}
	return countsFrom(resp, "counts")
}

func (e *Engine) Vehicles(ctx context.Context) ([]string, error) {
	resp, err := e.call(ctx, methodVehicles, nil)
	if err != nil {
		return nil, err
	}
	return stringsFrom(resp, "vehicles"), nil
}

func (e *Engine) TLPhase(ctx context.Context, intersectionID string) (int, error) {
	resp, err := e.call(ctx, methodTLPhase, map[string]any{"intersection_id": intersectionID})
	if err != nil {
		return 0, err
	}
	return intFrom(resp, "phase"), nil
}

func (e *Engine) SetTLPhase(ctx context.Context, intersectionID string, phase int) error {
	_, err := e.call(ctx, methodSetTLPhase, map[string]any{
		"intersection_id": intersectionID,
		"phase":           phase,
	})
	return err
}

func (e *Engine) NextStep(ctx context.Context) error {
	_, err := e.call(ctx, methodNextStep, nil)
	return err
}

// Terminate asks the server to tear the simulation down and closes the connection.
// Calling it again is a no-op.
func (e *Engine) Terminate(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	_, err := e.call(ctx, methodTerminate, nil)
	if cerr := e.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Close releases the connection without terminating the remote simulation.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.conn.Close()
}
