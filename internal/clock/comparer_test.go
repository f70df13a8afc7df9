package clock

import (
	"bytes"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"timelock/internal/logging"
)

type skewEvent struct {
	peer     string
	skew     time.Duration
	duration time.Duration
}

type recordingEvents struct {
	skews      []skewEvent
	backwards  []time.Duration
	exceptions []error
}

func (r *recordingEvents) ClockSkew(peer string, skew, requestDuration time.Duration) {
	r.skews = append(r.skews, skewEvent{peer, skew, requestDuration})
}

func (r *recordingEvents) ClockWentBackwards(peer string, amount time.Duration) {
	r.backwards = append(r.backwards, amount)
}

func (r *recordingEvents) Exception(peer string, err error) {
	r.exceptions = append(r.exceptions, err)
}

func TestSkewComparer(t *testing.T) {
	prev := RequestTime{LocalTimeAtStart: 1000, LocalTimeAtEnd: 1100, RemoteSystemTime: 5000}

	tests := []struct {
		name   string
		remote int64
		skew   time.Duration
	}{
		{"inside bracket", 6050, 0},
		{"lower edge", 5900, 0},
		{"upper edge", 6100, 0},
		{"remote too slow", 5800, 100},
		{"remote too fast", 6300, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &recordingEvents{}
			cur := RequestTime{LocalTimeAtStart: 2000, LocalTimeAtEnd: 2100, RemoteSystemTime: tt.remote}

			NewSkewComparer(events).Compare("x", prev, cur)

			require.Equal(t, []skewEvent{{"x", tt.skew, 100}}, events.skews)
			require.Empty(t, events.backwards)
		})
	}
}

func TestSkewComparer_ClockWentBackwards(t *testing.T) {
	events := &recordingEvents{}
	prev := RequestTime{LocalTimeAtStart: 1000, LocalTimeAtEnd: 1100, RemoteSystemTime: 5000}
	cur := RequestTime{LocalTimeAtStart: 2000, LocalTimeAtEnd: 2100, RemoteSystemTime: 4000}

	NewSkewComparer(events).Compare("x", prev, cur)

	require.Equal(t, []time.Duration{1000}, events.backwards)
	require.Empty(t, events.skews)
}

// The reported skew is never negative and is zero exactly when the remote
// elapsed time falls inside the local bracket.
func TestSkewComparer_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		start1 := rapid.Int64Range(0, 1e12).Draw(t, "start1")
		rtt1 := rapid.Int64Range(0, 1e9).Draw(t, "rtt1")
		gap := rapid.Int64Range(0, 1e12).Draw(t, "gap")
		rtt2 := rapid.Int64Range(0, 1e9).Draw(t, "rtt2")
		remote1 := rapid.Int64Range(0, 1e15).Draw(t, "remote1")
		remoteElapsed := rapid.Int64Range(0, 3e12).Draw(t, "remoteElapsed")

		prev := RequestTime{start1, start1 + rtt1, remote1}
		start2 := start1 + rtt1 + gap
		cur := RequestTime{start2, start2 + rtt2, remote1 + remoteElapsed}

		events := &recordingEvents{}
		NewSkewComparer(events).Compare("p", prev, cur)

		if len(events.skews) != 1 {
			t.Fatalf("expected one skew event, got %d", len(events.skews))
		}
		skew := events.skews[0].skew
		inside := remoteElapsed >= gap && remoteElapsed <= gap+rtt1+rtt2
		if skew < 0 {
			t.Fatalf("negative skew %v", skew)
		}
		if inside != (skew == 0) {
			t.Fatalf("skew %v for remote elapsed %d in [%d, %d]", skew, remoteElapsed, gap, gap+rtt1+rtt2)
		}
	})
}

func TestLoggedEvents(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewLogger()
	log.SetOutput(&buf)
	log.SetLevel(logging.Info)

	reg := prometheus.NewRegistry()
	events := NewLoggedEvents(log, reg, 50*time.Millisecond)

	events.ClockSkew("b", time.Millisecond, time.Millisecond)
	require.Zero(t, buf.Len())

	events.ClockSkew("b", 80*time.Millisecond, time.Millisecond)
	require.Contains(t, buf.String(), "clock skew above threshold")

	events.ClockWentBackwards("c", time.Second)
	require.Contains(t, buf.String(), "went backwards")
	require.Equal(t, 1.0, testutil.ToFloat64(events.backwards.WithLabelValues("c")))

	events.Exception("c", errTest)
	require.Equal(t, 1.0, testutil.ToFloat64(events.failures.WithLabelValues("c")))
	require.Equal(t, 1, testutil.CollectAndCount(events.skew))
}
