package llm

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// CompletionServiceName is the fully qualified gRPC service name of the sidecar.
const CompletionServiceName = "groupmind.completion.v1.Completion"

const completeMethod = "/" + CompletionServiceName + "/Complete"

var completionServiceDesc = grpc.ServiceDesc{
	ServiceName: CompletionServiceName,
	HandlerType: (*Client)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Complete",
			Handler:    completeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "groupmind/completion/v1/completion.proto",
}

// RegisterCompletionService exposes backend as the completion sidecar service.
func RegisterCompletionService(s grpc.ServiceRegistrar, backend Client) {
	s.RegisterService(&completionServiceDesc, backend)
}

func completeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return serveComplete(ctx, srv.(Client), req.(*structpb.Struct))
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: completeMethod,
	}
	return interceptor(ctx, in, info, call)
}

func serveComplete(ctx context.Context, backend Client, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid completion request: %v", err)
	}
	resp, err := backend.Complete(ctx, req)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "completion backend: %v", err)
	}
	out, err := encodeResponse(resp)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
