package rpc

import (
	"context"

	"google.golang.org/grpc"

	"timelock/internal/clock"
)

const clockServiceName = "timelock.Clock"

var methodGetSystemTime = method(clockServiceName, "GetSystemTimeInNanos")

// ClockService is the server side of timelock.Clock.
type ClockService interface {
	GetSystemTimeInNanos(context.Context, *Empty) (*TimeResponse, error)
}

var clockServiceDesc = grpc.ServiceDesc{
	ServiceName: clockServiceName,
	HandlerType: (*ClockService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetSystemTimeInNanos",
			Handler: unary(methodGetSystemTime, func(ctx context.Context, srv any, req *Empty) (*TimeResponse, error) {
				return srv.(ClockService).GetSystemTimeInNanos(ctx, req)
			}),
		},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterClockService registers srv with s.
func RegisterClockService(s grpc.ServiceRegistrar, srv ClockService) {
	s.RegisterService(&clockServiceDesc, srv)
}

// ClockServer serves a local clock.
type ClockServer struct {
	clock clock.ClockService
}

// NewClockServer serves c.
func NewClockServer(c clock.ClockService) *ClockServer {
	return &ClockServer{clock: c}
}

func (s *ClockServer) GetSystemTimeInNanos(ctx context.Context, _ *Empty) (*TimeResponse, error) {
	now, err := s.clock.GetSystemTimeInNanos(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &TimeResponse{TimeNanos: now}, nil
}

// ClockClient reads the clock of a remote node.
type ClockClient struct {
	conn grpc.ClientConnInterface
}

// NewClockClient returns a clock.ClockService for the node behind conn.
func NewClockClient(conn grpc.ClientConnInterface) *ClockClient {
	return &ClockClient{conn: conn}
}

func (c *ClockClient) GetSystemTimeInNanos(ctx context.Context) (int64, error) {
	var resp TimeResponse
	if err := invoke(ctx, c.conn, methodGetSystemTime, &Empty{}, &resp); err != nil {
		return 0, err
	}
	return resp.TimeNanos, nil
}
