// Package grpc exposes the evaluation contract over gRPC so an optimizer can
// run in another process. The service is declared by hand over protobuf
// well-known types:
//
//	indexsearch.Evaluator/Evaluate  google.protobuf.StringValue -> google.protobuf.DoubleValue
//	indexsearch.Evaluator/Baseline  google.protobuf.Empty       -> google.protobuf.Struct
//	indexsearch.Evaluator/Size      google.protobuf.Empty       -> google.protobuf.Int32Value
package grpc

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	ierrors "github.com/arkilian/indexsearch/internal/errors"
	"github.com/arkilian/indexsearch/pkg/types"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "indexsearch.Evaluator"

const (
	evaluateMethod = "/" + ServiceName + "/Evaluate"
	baselineMethod = "/" + ServiceName + "/Baseline"
	sizeMethod     = "/" + ServiceName + "/Size"
)

// Objective is the evaluation contract served.
type Objective interface {
	Size() int
	Evaluate(ctx context.Context, v types.Vector) (float64, error)
	EvaluateBaseline(ctx context.Context) (types.Metrics, error)
	Baseline() (types.Metrics, bool)
}

// EvaluatorServer is the server API of the Evaluator service.
type EvaluatorServer interface {
	Evaluate(context.Context, *wrapperspb.StringValue) (*wrapperspb.DoubleValue, error)
	Baseline(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Size(context.Context, *emptypb.Empty) (*wrapperspb.Int32Value, error)
}

// ServiceDesc describes the Evaluator service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EvaluatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: evaluateHandler},
		{MethodName: "Baseline", Handler: baselineHandler},
		{MethodName: "Size", Handler: sizeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "indexsearch/evaluator",
}

// RegisterEvaluatorServer registers srv on s.
func RegisterEvaluatorServer(s grpc.ServiceRegistrar, srv EvaluatorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func evaluateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EvaluatorServer).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: evaluateMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(EvaluatorServer).Evaluate(ctx, req.(*wrapperspb.StringValue))
	})
}

func baselineHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EvaluatorServer).Baseline(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: baselineMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(EvaluatorServer).Baseline(ctx, req.(*emptypb.Empty))
	})
}

func sizeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EvaluatorServer).Size(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: sizeMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(EvaluatorServer).Size(ctx, req.(*emptypb.Empty))
	})
}

// Server implements EvaluatorServer over an Objective.
type Server struct {
	objective Objective
	logger    *slog.Logger
}

// NewServer creates an evaluator server.
func NewServer(objective Objective, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{objective: objective, logger: logger.With("component", "grpc")}
}

// Evaluate parses the space-separated vector in req and scores it.
func (s *Server) Evaluate(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.DoubleValue, error) {
	requestID := extractRequestID(ctx)
	v, err := types.ParseVector(req.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid vector: %v", err)
	}

	fitness, err := s.objective.Evaluate(ctx, v)
	if err != nil {
		s.logger.Warn("remote evaluation failed", "request_id", requestID, "vector", v.String(), "error", err)
		return nil, toStatus(err)
	}
	s.logger.Info("remote evaluation", "request_id", requestID, "vector", v.String(), "fitness", fitness)
	return wrapperspb.Double(fitness), nil
}

// Baseline returns the baseline metrics, evaluating them on first use.
func (s *Server) Baseline(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	m, ok := s.objective.Baseline()
	if !ok {
		var err error
		if m, err = s.objective.EvaluateBaseline(ctx); err != nil {
			return nil, toStatus(err)
		}
	}
	fields := make(map[string]any)
	for k, v := range m.AsMap() {
		fields[k] = v
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode metrics: %v", err)
	}
	return out, nil
}

// Size returns the vector length the objective accepts.
func (s *Server) Size(context.Context, *emptypb.Empty) (*wrapperspb.Int32Value, error) {
	return wrapperspb.Int32(int32(s.objective.Size())), nil
}

// toStatus maps evaluation errors to gRPC codes.
func toStatus(err error) error {
	switch ierrors.GetCategory(err) {
	case ierrors.ErrCategoryCodec:
		return status.Error(codes.InvalidArgument, err.Error())
	case ierrors.ErrCategoryConnectivity:
		return status.Error(codes.Unavailable, err.Error())
	case ierrors.ErrCategoryRefresh, ierrors.ErrCategoryBenchmark:
		return status.Error(codes.Aborted, err.Error())
	case ierrors.ErrCategoryConfig:
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	if ctxErr := status.FromContextError(err); ctxErr.Code() != codes.Unknown {
		return ctxErr.Err()
	}
	return status.Error(codes.Internal, err.Error())
}

// extractRequestID returns the caller's x-request-id or a fresh one.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}
