package rpc

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"timelock/internal/corruption"
	"timelock/internal/logging"
	"timelock/internal/paxos"
	"timelock/internal/storage"
)

type fixedClock int64

func (c fixedClock) GetSystemTimeInNanos(context.Context) (int64, error) { return int64(c), nil }

type testServer struct {
	store  *storage.PebbleStore
	remote *corruption.RemoteDetector
	reject atomic.Bool
	conn   *grpc.ClientConn
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	store, err := storage.Open("rpc-test", true)
	require.NoError(t, err)

	ts := &testServer{store: store, remote: corruption.NewRemoteDetector(logging.Base(), nil)}

	srv := grpc.NewServer(grpc.UnaryInterceptor(AdmissionInterceptor(ts.reject.Load)))
	RegisterLearnerService(srv, NewLearnerServer(NewLearnerRegistry(store)))
	RegisterClockService(srv, NewClockServer(fixedClock(42)))
	RegisterCorruptionService(srv, NewCorruptionServer(ts.remote, corruption.NewLocalHistory(store)))

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)

	cm := NewClientManager(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	ts.conn, err = cm.Conn("passthrough:///bufnet")
	require.NoError(t, err)

	t.Cleanup(func() {
		cm.Close()
		srv.Stop()
		store.Close()
	})
	return ts
}

func TestLearnerRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := startServer(t)
	client := NewLearnerClient(s.conn, paxos.LeaderSeries)

	v, err := client.GetLearnedValue(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, v)

	greatest, err := client.GetGreatestLearnedValue(ctx)
	require.NoError(t, err)
	require.Nil(t, greatest)

	for seq := int64(1); seq <= 3; seq++ {
		require.NoError(t, client.Learn(ctx, seq, paxos.Value{Seq: seq, ProposerID: "n1", Data: []byte{byte(seq)}}))
	}

	v, err = client.GetLearnedValue(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, &paxos.Value{Seq: 2, ProposerID: "n1", Data: []byte{2}}, v)

	update, err := client.GetLearnedValuesSince(ctx, 2)
	require.NoError(t, err)
	require.Len(t, update.Values, 2)
	require.EqualValues(t, 3, update.Values[1].Seq)

	greatest, err = client.GetGreatestLearnedValue(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, greatest.Seq)

	err = client.Learn(ctx, 1, paxos.Value{Seq: 1, ProposerID: "n2", Data: []byte("other")})
	require.ErrorIs(t, err, paxos.ErrConflictingValue)
}

func TestLearnerSeriesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := startServer(t)
	timestamps := NewLearnerClient(s.conn, paxos.Series{Namespace: "client-a", UseCase: paxos.UseCaseTimestamp})
	leader := NewLearnerClient(s.conn, paxos.LeaderSeries)

	require.NoError(t, timestamps.Learn(ctx, 1, paxos.Value{Seq: 1, Data: []byte("t")}))

	v, err := leader.GetLearnedValue(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestClockRoundTrip(t *testing.T) {
	s := startServer(t)
	now, err := NewClockClient(s.conn).GetSystemTimeInNanos(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 42, now)
}

func TestCorruptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := startServer(t)

	learner, err := paxos.NewLocalLearner(s.store, paxos.LeaderSeries)
	require.NoError(t, err)
	acceptors, err := paxos.NewAcceptorLog(s.store, paxos.LeaderSeries)
	require.NoError(t, err)
	v := paxos.Value{Seq: 4, ProposerID: "n1", Data: []byte("x")}
	b := paxos.Ballot{Number: 2, ProposerID: "n1"}
	require.NoError(t, learner.Learn(ctx, 4, v))
	require.NoError(t, acceptors.Put(4, paxos.AcceptorState{LastPromised: b, LastAccepted: &b, Value: &v}))
	require.NoError(t, acceptors.Put(5, paxos.AcceptorState{LastPromised: paxos.Ballot{Number: 3}}))

	client := NewCorruptionClient(s.conn, "n2")
	records, err := client.FetchHistory(ctx, 10)
	require.NoError(t, err)

	log := records[paxos.LeaderSeries]
	require.Len(t, log.Records, 2)
	require.True(t, log.Records[0].Learned.Equal(&v))
	require.Equal(t, b, *log.Records[0].Accepted.LastAccepted)
	require.Nil(t, log.Records[1].Learned)
	require.Nil(t, log.Records[1].Accepted.LastAccepted)
	require.EqualValues(t, 3, log.Records[1].Accepted.LastPromised.Number)

	require.False(t, s.remote.ShouldRejectRequests())
	require.NoError(t, client.NotifyRemoteServersOfCorruption(ctx))
	require.Equal(t, corruption.DefinitiveCorruptionDetectedByRemote, s.remote.Status())
	from, _ := s.remote.ReportedBy()
	require.Equal(t, "n2", from)
}

func TestAdmissionInterceptor(t *testing.T) {
	ctx := context.Background()
	s := startServer(t)
	s.reject.Store(true)

	_, err := NewLearnerClient(s.conn, paxos.LeaderSeries).GetLearnedValue(ctx, 1)
	require.ErrorIs(t, err, ErrCorruptionDetected)

	// Peers keep sampling the clock of a node that halted.
	now, err := NewClockClient(s.conn).GetSystemTimeInNanos(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 42, now)

	corruptionClient := NewCorruptionClient(s.conn, "n2")
	require.NoError(t, corruptionClient.NotifyRemoteServersOfCorruption(ctx))
	_, err = corruptionClient.FetchHistory(ctx, 10)
	require.NoError(t, err)
}

func TestCodecRejectsForeignTypes(t *testing.T) {
	_, err := codec{}.Marshal("plain string")
	require.Error(t, err)
	require.Error(t, codec{}.Unmarshal(nil, new(int)))
}
