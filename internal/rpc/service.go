package rpc

import (
	"context"

	"google.golang.org/grpc"

	"timelock/internal/wire"
)

// unary builds a grpc.MethodHandler that decodes a Req, runs call and routes
// through the server's interceptor chain.
func unary[Req any, PReq interface {
	*Req
	wire.Message
}, Resp any](fullMethod string, call func(ctx context.Context, srv any, req PReq) (Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PReq(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			resp, err := call(ctx, srv, in)
			return resp, err
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			resp, err := call(ctx, srv, req.(PReq))
			return resp, err
		})
	}
}

func method(service, name string) string {
	return "/" + service + "/" + name
}

func invoke(ctx context.Context, conn grpc.ClientConnInterface, fullMethod string, req, resp wire.Message) error {
	return fromStatus(conn.Invoke(ctx, fullMethod, req, resp))
}
