// Package remote connects the control loop to a simulator running in another
// process over gRPC. Messages are google.protobuf.Struct values so no generated
// stubs are needed on either side.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/greenwave-io/greenwave/internal/sim"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "greenwave.sim.v1.Simulator"

// DefaultPort is the port a simulator sidecar listens on.
const DefaultPort = 50051

const (
	methodOpen         = "Open"
	methodLaneCount    = "LaneVehicleCount"
	methodWaitingCount = "LaneWaitingVehicleCount"
	methodVehicles     = "Vehicles"
	methodTLPhase      = "TLPhase"
	methodSetTLPhase   = "SetTLPhase"
	methodNextStep     = "NextStep"
	methodTerminate    = "Terminate"
)

var methods = []string{
	methodOpen,
	methodLaneCount,
	methodWaitingCount,
	methodVehicles,
	methodTLPhase,
	methodSetTLPhase,
	methodNextStep,
	methodTerminate,
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// SimulatorServer handles every method of the service through a single entry point.
type SimulatorServer interface {
	Invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error)
}

func serviceDesc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*SimulatorServer)(nil),
		Metadata:    "greenwave/sim/v1/simulator.proto",
	}
	for _, m := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m,
			Handler:    unaryHandler(m),
		})
	}
	return desc
}

func unaryHandler(method string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return srv.(SimulatorServer).Invoke(ctx, method, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return srv.(SimulatorServer).Invoke(ctx, method, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// toStatus converts engine errors into gRPC status errors.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, sim.ErrUnsupported):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, sim.ErrNotOpen):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus converts gRPC status errors back into engine errors.
func fromStatus(method string, err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unimplemented:
		return fmt.Errorf("%s: %w", method, sim.ErrUnsupported)
	case codes.FailedPrecondition:
		return fmt.Errorf("%s: %w", method, sim.ErrNotOpen)
	default:
		return fmt.Errorf("%s: %w", method, err)
	}
}

func countsValue(counts map[string]int) map[string]any {
	out := make(map[string]any, len(counts))
	for k, v := range counts {
		out[k] = v
	}
	return out
}

func countsFrom(s *structpb.Struct, field string) (map[string]int, error) {
	v, ok := s.GetFields()[field]
	if !ok {
		return map[string]int{}, nil
	}
	st := v.GetStructValue()
	if st == nil {
		return nil, fmt.Errorf("field %q is not an object", field)
	}
	out := make(map[string]int, len(st.GetFields()))
	for k, n := range st.GetFields() {
		if _, isNum := n.GetKind().(*structpb.Value_NumberValue); !isNum {
			return nil, fmt.Errorf("field %q: lane %q is not a number", field, k)
		}
		out[k] = int(n.GetNumberValue())
	}
	return out, nil
}

func stringsValue(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}

func stringsFrom(s *structpb.Struct, field string) []string {
	list := s.GetFields()[field].GetListValue()
	out := make([]string, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		out = append(out, v.GetStringValue())
	}
	return out
}

func intFrom(s *structpb.Struct, field string) int {
	return int(s.GetFields()[field].GetNumberValue())
}

func stringFrom(s *structpb.Struct, field string) string {
	return s.GetFields()[field].GetStringValue()
}

func boolFrom(s *structpb.Struct, field string) bool {
	return s.GetFields()[field].GetBoolValue()
}
