// internal/handler/service.go
package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// The service exchanges well-known Struct/ListValue messages, so the
// descriptor is declared here instead of being generated from a .proto file.
const (
	InferenceServiceName    = "envelope.v1.InferenceService"
	predictFullMethod       = "/" + InferenceServiceName + "/Predict"
	batchPredictFullMethod  = "/" + InferenceServiceName + "/BatchPredict"
	inferenceServiceProtoID = "envelope/v1/inference.proto"
)

// InferenceServer is the server API for the inference envelope service.
type InferenceServer interface {
	// Predict handles one request object ({"instances": [...]}, optionally
	// nested under data or body) and returns its output frame.
	Predict(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// BatchPredict handles a list of request objects as one cycle.
	BatchPredict(context.Context, *structpb.ListValue) (*structpb.ListValue, error)
}

// RegisterInferenceServer registers srv on s.
func RegisterInferenceServer(s grpc.ServiceRegistrar, srv InferenceServer) {
	s.RegisterService(&InferenceServiceDesc, srv)
}

func predictHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InferenceServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: predictFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(InferenceServer).Predict(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func batchPredictHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.ListValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InferenceServer).BatchPredict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: batchPredictFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(InferenceServer).BatchPredict(ctx, req.(*structpb.ListValue))
	}
	return interceptor(ctx, in, info, handler)
}

// InferenceServiceDesc is the grpc.ServiceDesc for the inference envelope service.
var InferenceServiceDesc = grpc.ServiceDesc{
	ServiceName: InferenceServiceName,
	HandlerType: (*InferenceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
		{MethodName: "BatchPredict", Handler: batchPredictHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: inferenceServiceProtoID,
}

// InferenceClient calls the inference envelope service.
type InferenceClient struct {
	cc grpc.ClientConnInterface
}

// NewInferenceClient creates a client on cc.
func NewInferenceClient(cc grpc.ClientConnInterface) *InferenceClient {
	return &InferenceClient{cc: cc}
}

func (c *InferenceClient) Predict(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, predictFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InferenceClient) BatchPredict(ctx context.Context, in *structpb.ListValue, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, batchPredictFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
