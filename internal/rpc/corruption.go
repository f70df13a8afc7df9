package rpc

import (
	"context"

	"google.golang.org/grpc"

	"timelock/internal/corruption"
)

const corruptionServiceName = "timelock.Corruption"

var (
	methodReportCorruption = method(corruptionServiceName, "ReportCorruption")
	methodFetchHistory     = method(corruptionServiceName, "FetchHistory")
)

// CorruptionService is the server side of timelock.Corruption.
type CorruptionService interface {
	ReportCorruption(context.Context, *CorruptionReport) (*Empty, error)
	FetchHistory(context.Context, *HistoryRequest) (*HistoryResponse, error)
}

var corruptionServiceDesc = grpc.ServiceDesc{
	ServiceName: corruptionServiceName,
	HandlerType: (*CorruptionService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ReportCorruption",
			Handler: unary(methodReportCorruption, func(ctx context.Context, srv any, req *CorruptionReport) (*Empty, error) {
				return srv.(CorruptionService).ReportCorruption(ctx, req)
			}),
		},
		{
			MethodName: "FetchHistory",
			Handler: unary(methodFetchHistory, func(ctx context.Context, srv any, req *HistoryRequest) (*HistoryResponse, error) {
				return srv.(CorruptionService).FetchHistory(ctx, req)
			}),
		},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterCorruptionService registers srv with s.
func RegisterCorruptionService(s grpc.ServiceRegistrar, srv CorruptionService) {
	s.RegisterService(&corruptionServiceDesc, srv)
}

// CorruptionServer records peer reports and serves the local history.
type CorruptionServer struct {
	remote  *corruption.RemoteDetector
	history corruption.HistoryFetcher
}

// NewCorruptionServer feeds reports into remote and serves history.
func NewCorruptionServer(remote *corruption.RemoteDetector, history corruption.HistoryFetcher) *CorruptionServer {
	return &CorruptionServer{remote: remote, history: history}
}

func (s *CorruptionServer) ReportCorruption(_ context.Context, req *CorruptionReport) (*Empty, error) {
	s.remote.ReportCorruption(req.From)
	return &Empty{}, nil
}

func (s *CorruptionServer) FetchHistory(ctx context.Context, req *HistoryRequest) (*HistoryResponse, error) {
	records, err := s.history.FetchHistory(ctx, int(req.Window))
	if err != nil {
		return nil, toStatus(err)
	}
	return &HistoryResponse{Records: records}, nil
}

// CorruptionClient talks to the corruption service of one remote node. It
// is both a corruption.Notifier and a corruption.HistoryFetcher.
type CorruptionClient struct {
	conn    grpc.ClientConnInterface
	localID string
}

// NewCorruptionClient returns a client reporting as localID.
func NewCorruptionClient(conn grpc.ClientConnInterface, localID string) *CorruptionClient {
	return &CorruptionClient{conn: conn, localID: localID}
}

func (c *CorruptionClient) NotifyRemoteServersOfCorruption(ctx context.Context) error {
	return invoke(ctx, c.conn, methodReportCorruption, &CorruptionReport{From: c.localID}, &Empty{})
}

func (c *CorruptionClient) FetchHistory(ctx context.Context, window int) (corruption.SeriesRecords, error) {
	var resp HistoryResponse
	if err := invoke(ctx, c.conn, methodFetchHistory, &HistoryRequest{Window: int64(window)}, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}
