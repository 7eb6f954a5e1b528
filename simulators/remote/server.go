package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/greenwave-io/greenwave/internal/logging"
	"github.com/greenwave-io/greenwave/internal/sim"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service exposes a sim.Engine built by a factory over the remote protocol.
type Service struct {
	factory sim.Factory

	mu  sync.Mutex
	eng sim.Engine
}

var _ SimulatorServer = (*Service)(nil)

func NewService(factory sim.Factory) *Service {
	return &Service{factory: factory}
}

// NewServer returns a gRPC server with the simulator service registered.
func NewServer(factory sim.Factory, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	srv.RegisterService(serviceDesc(), NewService(factory))
	return srv
}

func (s *Service) Invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.dispatch(ctx, method, in)
	if err != nil {
		logging.Debug("simulator call failed", "method", method, "error", err)
		return nil, toStatus(err)
	}
	resp, err := structpb.NewStruct(out)
	if err != nil {
		return nil, toStatus(fmt.Errorf("%s: encode response: %w", method, err))
	}
	return resp, nil
}

func (s *Service) dispatch(ctx context.Context, method string, in *structpb.Struct) (map[string]any, error) {
	if method == methodOpen {
		return s.open(ctx, in)
	}
	if s.eng == nil {
		return nil, sim.ErrNotOpen
	}

	switch method {
	case methodLaneCount:
		counts, err := s.eng.LaneVehicleCount(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"counts": countsValue(counts)}, nil
	case methodWaitingCount:
		counts, err := s.eng.LaneWaitingVehicleCount(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"counts": countsValue(counts)}, nil
	case methodVehicles:
		vehicles, err := s.eng.Vehicles(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"vehicles": stringsValue(vehicles)}, nil
	case methodTLPhase:
		if !s.eng.Capabilities().PhaseQuery {
			return nil, sim.ErrUnsupported
		}
		phase, err := s.eng.TLPhase(ctx, stringFrom(in, "intersection_id"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"phase": phase}, nil
	case methodSetTLPhase:
		if !s.eng.Capabilities().PhaseControl {
			return nil, sim.ErrUnsupported
		}
		err := s.eng.SetTLPhase(ctx, stringFrom(in, "intersection_id"), intFrom(in, "phase"))
		return map[string]any{}, err
	case methodNextStep:
		return map[string]any{}, s.eng.NextStep(ctx)
	case methodTerminate:
		if !s.eng.Capabilities().Terminate {
			return map[string]any{}, nil
		}
		return map[string]any{}, s.eng.Terminate(ctx)
	}
	return nil, fmt.Errorf("unknown method %q: %w", method, sim.ErrUnsupported)
}

// open constructs the engine once; repeated calls report the existing capabilities.
func (s *Service) open(ctx context.Context, in *structpb.Struct) (map[string]any, error) {
	if s.eng == nil {
		opts := sim.Options{
			ConfigPath: stringFrom(in, "config_path"),
			Threads:    intFrom(in, "thread_num"),
		}
		eng, err := s.factory(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("construct simulator: %w", err)
		}
		s.eng = eng
		logging.Info("simulator opened", "config", opts.ConfigPath, "threads", opts.Threads)
	}
	caps := s.eng.Capabilities()
	return map[string]any{
		"phase_query":   caps.PhaseQuery,
		"phase_control": caps.PhaseControl,
		"terminate":     caps.Terminate,
	}, nil
}
