package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := Open("test", true)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLog_PutGet(t *testing.T) {
	s := openTestStore(t)
	log, err := s.Log(KindLearner, SeriesKey{UseCase: "leader"})
	require.NoError(t, err)

	_, found, err := log.Get(1)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, log.Put(1, []byte("one")))
	v, found, err := log.Get(1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("one"), v)

	require.ErrorIs(t, log.Put(-1, []byte("x")), ErrInvalidSeq)
}

func TestLog_PutIfAbsent(t *testing.T) {
	s := openTestStore(t)
	log, err := s.Log(KindLearner, SeriesKey{UseCase: "leader"})
	require.NoError(t, err)

	stored, wrote, err := log.PutIfAbsent(3, []byte("a"))
	require.NoError(t, err)
	require.True(t, wrote)
	require.Equal(t, []byte("a"), stored)

	stored, wrote, err = log.PutIfAbsent(3, []byte("b"))
	require.NoError(t, err)
	require.False(t, wrote)
	require.Equal(t, []byte("a"), stored)
}

func TestLog_SinceRangeGreatest(t *testing.T) {
	s := openTestStore(t)
	log, err := s.Log(KindAcceptor, SeriesKey{Namespace: "client", UseCase: "timestamp"})
	require.NoError(t, err)

	_, found, err := log.Greatest()
	require.NoError(t, err)
	require.False(t, found)

	for _, seq := range []int64{5, 1, 300, 2} {
		require.NoError(t, log.Put(seq, []byte{byte(seq)}))
	}

	since, err := log.Since(2)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 5, 300}, seqs(since))

	r, err := log.Range(1, 5)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 5}, seqs(r))

	r, err = log.Range(6, 5)
	require.NoError(t, err)
	require.Empty(t, r)

	greatest, found, err := log.Greatest()
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 300, greatest)
}

func TestLogs_AreIsolatedPerSeriesAndKind(t *testing.T) {
	s := openTestStore(t)
	a, err := s.Log(KindLearner, SeriesKey{Namespace: "ns", UseCase: "uc"})
	require.NoError(t, err)
	b, err := s.Log(KindLearner, SeriesKey{Namespace: "ns", UseCase: "uc2"})
	require.NoError(t, err)
	c, err := s.Log(KindAcceptor, SeriesKey{Namespace: "ns", UseCase: "uc"})
	require.NoError(t, err)

	require.NoError(t, a.Put(1, []byte("a")))
	require.NoError(t, b.Put(2, []byte("b")))
	require.NoError(t, c.Put(3, []byte("c")))

	all, err := a.Since(0)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, seqs(all))

	greatest, _, err := b.Greatest()
	require.NoError(t, err)
	require.EqualValues(t, 2, greatest)
}

func TestStore_Series(t *testing.T) {
	s := openTestStore(t)
	for _, key := range []SeriesKey{{UseCase: "leader"}, {Namespace: "c1", UseCase: "timestamp"}} {
		log, err := s.Log(KindLearner, key)
		require.NoError(t, err)
		for seq := int64(0); seq < 3; seq++ {
			require.NoError(t, log.Put(seq, []byte("v")))
		}
	}
	acc, err := s.Log(KindAcceptor, SeriesKey{Namespace: "c2", UseCase: "timestamp"})
	require.NoError(t, err)
	require.NoError(t, acc.Put(0, []byte("v")))

	series, err := s.Series(KindLearner)
	require.NoError(t, err)
	require.ElementsMatch(t, []SeriesKey{{UseCase: "leader"}, {Namespace: "c1", UseCase: "timestamp"}}, series)

	series, err = s.Series(KindAcceptor)
	require.NoError(t, err)
	require.Equal(t, []SeriesKey{{Namespace: "c2", UseCase: "timestamp"}}, series)
}

func TestStore_RejectsNulInNames(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Log(KindLearner, SeriesKey{Namespace: "a\x00b"})
	require.ErrorIs(t, err, ErrInvalidName)
}

func seqs(entries []Entry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Seq)
	}
	return out
}
