package rpc

import (
	"context"
	"fmt"

	"github.com/algorand/go-deadlock"
	"google.golang.org/grpc"

	"timelock/internal/paxos"
	"timelock/internal/storage"
)

const learnerServiceName = "timelock.Learner"

var (
	methodLearn                   = method(learnerServiceName, "Learn")
	methodGetLearnedValue         = method(learnerServiceName, "GetLearnedValue")
	methodGetLearnedValuesSince   = method(learnerServiceName, "GetLearnedValuesSince")
	methodGetGreatestLearnedValue = method(learnerServiceName, "GetGreatestLearnedValue")
)

// LearnerService is the server side of timelock.Learner.
type LearnerService interface {
	Learn(context.Context, *LearnRequest) (*Empty, error)
	GetLearnedValue(context.Context, *SeqRequest) (*ValueResponse, error)
	GetLearnedValuesSince(context.Context, *SeqRequest) (*paxos.Update, error)
	GetGreatestLearnedValue(context.Context, *SeqRequest) (*ValueResponse, error)
}

var learnerServiceDesc = grpc.ServiceDesc{
	ServiceName: learnerServiceName,
	HandlerType: (*LearnerService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Learn",
			Handler: unary(methodLearn, func(ctx context.Context, srv any, req *LearnRequest) (*Empty, error) {
				return srv.(LearnerService).Learn(ctx, req)
			}),
		},
		{
			MethodName: "GetLearnedValue",
			Handler: unary(methodGetLearnedValue, func(ctx context.Context, srv any, req *SeqRequest) (*ValueResponse, error) {
				return srv.(LearnerService).GetLearnedValue(ctx, req)
			}),
		},
		{
			MethodName: "GetLearnedValuesSince",
			Handler: unary(methodGetLearnedValuesSince, func(ctx context.Context, srv any, req *SeqRequest) (*paxos.Update, error) {
				return srv.(LearnerService).GetLearnedValuesSince(ctx, req)
			}),
		},
		{
			MethodName: "GetGreatestLearnedValue",
			Handler: unary(methodGetGreatestLearnedValue, func(ctx context.Context, srv any, req *SeqRequest) (*ValueResponse, error) {
				return srv.(LearnerService).GetGreatestLearnedValue(ctx, req)
			}),
		},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterLearnerService registers srv with s.
func RegisterLearnerService(s grpc.ServiceRegistrar, srv LearnerService) {
	s.RegisterService(&learnerServiceDesc, srv)
}

// LearnerRegistry opens the local learner of a series on first use.
type LearnerRegistry struct {
	mu       deadlock.Mutex
	store    storage.Store
	learners map[paxos.Series]*paxos.LocalLearner
}

// NewLearnerRegistry creates a registry over store.
func NewLearnerRegistry(store storage.Store) *LearnerRegistry {
	return &LearnerRegistry{store: store, learners: make(map[paxos.Series]*paxos.LocalLearner)}
}

// Get returns the local learner of series.
func (r *LearnerRegistry) Get(series paxos.Series) (*paxos.LocalLearner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.learners[series]; ok {
		return l, nil
	}
	l, err := paxos.NewLocalLearner(r.store, series)
	if err != nil {
		return nil, err
	}
	r.learners[series] = l
	return l, nil
}

// LearnerServer serves the local learners of every series.
type LearnerServer struct {
	registry *LearnerRegistry
}

// NewLearnerServer serves the learners of registry.
func NewLearnerServer(registry *LearnerRegistry) *LearnerServer {
	return &LearnerServer{registry: registry}
}

func (s *LearnerServer) learner(ref SeriesRef) (*paxos.LocalLearner, error) {
	l, err := s.registry.Get(ref.series())
	return l, toStatus(err)
}

func (s *LearnerServer) Learn(ctx context.Context, req *LearnRequest) (*Empty, error) {
	l, err := s.learner(req.Series)
	if err != nil {
		return nil, err
	}
	if err := l.Learn(ctx, req.Seq, req.Value); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *LearnerServer) GetLearnedValue(ctx context.Context, req *SeqRequest) (*ValueResponse, error) {
	l, err := s.learner(req.Series)
	if err != nil {
		return nil, err
	}
	v, err := l.GetLearnedValue(ctx, req.Seq)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ValueResponse{Value: v}, nil
}

func (s *LearnerServer) GetLearnedValuesSince(ctx context.Context, req *SeqRequest) (*paxos.Update, error) {
	l, err := s.learner(req.Series)
	if err != nil {
		return nil, err
	}
	u, err := l.GetLearnedValuesSince(ctx, req.Seq)
	if err != nil {
		return nil, toStatus(err)
	}
	return &u, nil
}

func (s *LearnerServer) GetGreatestLearnedValue(ctx context.Context, req *SeqRequest) (*ValueResponse, error) {
	l, err := s.learner(req.Series)
	if err != nil {
		return nil, err
	}
	v, err := l.GetGreatestLearnedValue(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ValueResponse{Value: v}, nil
}

// LearnerClient is a paxos.Learner backed by a remote node.
type LearnerClient struct {
	conn   grpc.ClientConnInterface
	series paxos.Series
}

// NewLearnerClient returns a client for the learner of series behind conn.
func NewLearnerClient(conn grpc.ClientConnInterface, series paxos.Series) *LearnerClient {
	return &LearnerClient{conn: conn, series: series}
}

func (c *LearnerClient) Learn(ctx context.Context, seq int64, value paxos.Value) error {
	req := &LearnRequest{Series: refOf(c.series), Seq: seq, Value: value}
	if err := invoke(ctx, c.conn, methodLearn, req, &Empty{}); err != nil {
		return fmt.Errorf("remote learn %s seq %d: %w", c.series, seq, err)
	}
	return nil
}

func (c *LearnerClient) GetLearnedValue(ctx context.Context, seq int64) (*paxos.Value, error) {
	var resp ValueResponse
	if err := invoke(ctx, c.conn, methodGetLearnedValue, &SeqRequest{Series: refOf(c.series), Seq: seq}, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func (c *LearnerClient) GetLearnedValuesSince(ctx context.Context, seq int64) (paxos.Update, error) {
	var resp paxos.Update
	if err := invoke(ctx, c.conn, methodGetLearnedValuesSince, &SeqRequest{Series: refOf(c.series), Seq: seq}, &resp); err != nil {
		return paxos.Update{}, err
	}
	return resp, nil
}

func (c *LearnerClient) GetGreatestLearnedValue(ctx context.Context) (*paxos.Value, error) {
	var resp ValueResponse
	if err := invoke(ctx, c.conn, methodGetGreatestLearnedValue, &SeqRequest{Series: refOf(c.series)}, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}
