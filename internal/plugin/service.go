package plugin

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"xform/internal/logging"
	"xform/internal/transform"
)

const (
	ServiceName = "xform.v1.Transformer"

	TransformFullMethodName = "/xform.v1.Transformer/Transform"
	HealthFullMethodName    = "/xform.v1.Transformer/Health"
)

// TransformerServer is implemented by anything served as a plugin.
type TransformerServer interface {
	Transform(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Health(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// Register attaches srv to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv TransformerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func transformHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransformerServer).Transform(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: TransformFullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TransformerServer).Transform(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func healthHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransformerServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: HealthFullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TransformerServer).Health(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TransformerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Transform", Handler: transformHandler},
		{MethodName: "Health", Handler: healthHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "xform/v1/transformer.proto",
}

// Server exposes a transform stage over the plugin protocol.
type Server struct {
	name  string
	stage *transform.Stage
}

func NewServer(name string, stage *transform.Stage) *Server {
	return &Server{name: name, stage: stage}
}

func (s *Server) Transform(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	msg, err := DecodeRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out, err := s.stage.Transform(msg)
	if err != nil {
		if errors.Is(err, transform.ErrEvaluation) {
			logging.L().Debug("plugin: evaluation failed", "plugin", s.name, "err", err)
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	resp, err := EncodeResponse(out)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

func (s *Server) Health(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldOK:      structpb.NewBoolValue(true),
		fieldDetails: structpb.NewStringValue(s.name + ": OK"),
	}}, nil
}
