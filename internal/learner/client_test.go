package learner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/algorand/go-deadlock"
	"github.com/stretchr/testify/require"

	"timelock/internal/logging"
	"timelock/internal/paxos"
	"timelock/internal/quorum"
	"timelock/internal/storage"
)

type fakeLearner struct {
	mu      deadlock.Mutex
	values  map[int64]paxos.Value
	err     error
	block   bool
	learned chan int64
}

func newFake() *fakeLearner {
	return &fakeLearner{values: make(map[int64]paxos.Value), learned: make(chan int64, 16)}
}

func (f *fakeLearner) wait(ctx context.Context) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *fakeLearner) Learn(ctx context.Context, seq int64, v paxos.Value) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	f.values[seq] = v
	f.mu.Unlock()
	f.learned <- seq
	return nil
}

func (f *fakeLearner) GetLearnedValue(ctx context.Context, seq int64) (*paxos.Value, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[seq]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (f *fakeLearner) GetLearnedValuesSince(ctx context.Context, seq int64) (paxos.Update, error) {
	if err := f.wait(ctx); err != nil {
		return paxos.Update{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var u paxos.Update
	for s, v := range f.values {
		if s >= seq {
			u.Values = append(u.Values, v)
		}
	}
	return u, nil
}

func (f *fakeLearner) GetGreatestLearnedValue(ctx context.Context) (*paxos.Value, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *paxos.Value
	for _, v := range f.values {
		v := v
		if best == nil || v.Seq > best.Seq {
			best = &v
		}
	}
	return best, nil
}

func newLocal(t *testing.T) *paxos.LocalLearner {
	t.Helper()
	s, err := storage.Open("learner-test", true)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	l, err := paxos.NewLocalLearner(s, paxos.LeaderSeries)
	require.NoError(t, err)
	return l
}

func newClient(t *testing.T, local paxos.Learner, remotes map[string]paxos.Learner, timeout time.Duration) *NetworkClient {
	t.Helper()
	env := quorum.NewEnvironment[paxos.Learner]("a", local, remotes, 4)
	params := DefaultParams(env.Size())
	params.Timeout = timeout
	c, err := NewNetworkClient(paxos.LeaderSeries, env, params, logging.Base(), nil)
	require.NoError(t, err)
	return c
}

func value(seq int64, data string) paxos.Value {
	return paxos.Value{Seq: seq, ProposerID: "a", Data: []byte(data)}
}

func TestLearn_PropagatesToRemotes(t *testing.T) {
	b, c := newFake(), newFake()
	client := newClient(t, newLocal(t), map[string]paxos.Learner{"b": b, "c": c}, time.Second)

	require.NoError(t, client.Learn(context.Background(), 1, value(1, "x")))

	for _, r := range []*fakeLearner{b, c} {
		select {
		case seq := <-r.learned:
			require.EqualValues(t, 1, seq)
		case <-time.After(time.Second):
			t.Fatal("remote never learned")
		}
	}
}

func TestLearn_LocalFailurePropagates(t *testing.T) {
	local := newFake()
	local.err = errors.New("disk full")
	b := newFake()
	client := newClient(t, local, map[string]paxos.Learner{"b": b}, time.Second)

	err := client.Learn(context.Background(), 1, value(1, "x"))
	require.ErrorContains(t, err, "disk full")

	select {
	case <-b.learned:
		t.Fatal("remote learned although the local learn failed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLearn_RemoteFailureIsAbsorbed(t *testing.T) {
	broken := newFake()
	broken.err = errors.New("unreachable")
	c := newFake()
	client := newClient(t, newLocal(t), map[string]paxos.Learner{"b": broken, "c": c}, time.Second)

	require.NoError(t, client.Learn(context.Background(), 1, value(1, "x")))

	select {
	case <-c.learned:
	case <-time.After(time.Second):
		t.Fatal("healthy remote never learned")
	}
}

func TestLearn_ConflictingLocalValueFails(t *testing.T) {
	client := newClient(t, newLocal(t), nil, time.Second)
	ctx := context.Background()

	require.NoError(t, client.Learn(ctx, 1, value(1, "x")))
	require.NoError(t, client.Learn(ctx, 1, value(1, "x")))
	require.ErrorIs(t, client.Learn(ctx, 1, value(1, "y")), paxos.ErrConflictingValue)
}

func TestGetLearnedValue_QuorumDespiteSlowPeer(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)
	b := newFake()
	b.block = true
	c := newFake()

	v := value(5, "leader=a")
	require.NoError(t, local.Learn(ctx, 5, v))
	c.values[5] = v

	client := newClient(t, local, map[string]paxos.Learner{"b": b, "c": c}, 200*time.Millisecond)

	responses := GetLearnedValue(ctx, client, 5, AsLearnedValue)
	require.True(t, responses.HasQuorum())
	require.Equal(t, 2, responses.Size())
	for _, r := range responses.Get() {
		require.True(t, r.Value.Equal(&v))
	}

	agreed, ok := AgreedValue(responses)
	require.True(t, ok)
	require.True(t, agreed.Equal(&v))
}

type present bool

func (p present) IsSuccessful() bool { return bool(p) }

func TestGetLearnedValue_MapperSeesAbsentValues(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)
	require.NoError(t, local.Learn(ctx, 3, value(3, "x")))

	client := newClient(t, local, map[string]paxos.Learner{"b": newFake(), "c": newFake()}, time.Second)

	responses := GetLearnedValue(ctx, client, 3, func(v *paxos.Value) present { return v != nil })
	require.False(t, responses.HasQuorum())
	require.GreaterOrEqual(t, responses.Size(), 2)
	require.LessOrEqual(t, responses.SuccessCount(), 1)
}

func TestGetLearnedValue_SingleNodeReachesQuorumAlone(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)
	require.NoError(t, local.Learn(ctx, 1, value(1, "x")))

	client := newClient(t, local, nil, time.Second)
	responses := GetLearnedValue(ctx, client, 1, AsLearnedValue)
	require.True(t, responses.HasQuorum())
}

func TestGetLearnedValuesSince(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)
	b := newFake()
	for seq := int64(1); seq <= 3; seq++ {
		require.NoError(t, local.Learn(ctx, seq, value(seq, "v")))
		b.values[seq] = value(seq, "v")
	}
	dead := newFake()
	dead.err = errors.New("down")

	client := newClient(t, local, map[string]paxos.Learner{"b": b, "c": dead}, time.Second)
	responses := client.GetLearnedValuesSince(ctx, 2)

	require.True(t, responses.HasQuorum())
	require.Equal(t, 2, responses.Size())
	for _, u := range responses.Get() {
		require.Len(t, u.Values, 2)
	}
}

func TestGetGreatestLearnedValue(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)
	b := newFake()
	c := newFake()
	c.block = true
	require.NoError(t, local.Learn(ctx, 7, value(7, "v7")))
	require.NoError(t, local.Learn(ctx, 6, value(6, "v6")))
	b.values[7] = value(7, "v7")

	client := newClient(t, local, map[string]paxos.Learner{"b": b, "c": c}, time.Second)
	responses := client.GetGreatestLearnedValue(ctx)
	require.True(t, responses.HasQuorum())

	agreed, ok := AgreedValue(responses)
	require.True(t, ok)
	require.EqualValues(t, 7, agreed.Seq)
}

func TestAgreedValue_NoMajority(t *testing.T) {
	a, b := value(1, "a"), value(1, "b")
	responses := quorum.NewResponses(2, []LearnedValue{{Value: &a}, {Value: &b}, {}})
	_, ok := AgreedValue(responses)
	require.False(t, ok)
}

func TestNewNetworkClient_RejectsBadQuorum(t *testing.T) {
	env := quorum.NewEnvironment[paxos.Learner]("a", newFake(), nil, 4)
	_, err := NewNetworkClient(paxos.LeaderSeries, env, quorum.Params{QuorumSize: 2, Timeout: time.Second}, logging.Base(), nil)
	require.ErrorContains(t, err, "invalid quorum size 2")
}
