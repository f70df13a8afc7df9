package clock

import (
	"context"
	"fmt"
	"time"
)

// RequestTime is one clock sample of a peer. The local times come from the
// local monotonic clock, the remote time from the peer's system clock. All
// values are nanoseconds.
type RequestTime struct {
	LocalTimeAtStart int64
	LocalTimeAtEnd   int64
	RemoteSystemTime int64
}

// EmptyRequestTime marks a peer that has not been sampled yet.
var EmptyRequestTime = RequestTime{}

// IsEmpty reports whether r is the EmptyRequestTime sentinel.
func (r RequestTime) IsEmpty() bool {
	return r == EmptyRequestTime
}

// Duration is the local round trip of the sample.
func (r RequestTime) Duration() time.Duration {
	return time.Duration(r.LocalTimeAtEnd - r.LocalTimeAtStart)
}

func (r RequestTime) String() string {
	return fmt.Sprintf("RequestTime{start=%d end=%d remote=%d}", r.LocalTimeAtStart, r.LocalTimeAtEnd, r.RemoteSystemTime)
}

// ClockService reads a node's system clock.
type ClockService interface {
	GetSystemTimeInNanos(ctx context.Context) (int64, error)
}

// SystemClock is the ClockService of this process.
type SystemClock struct{}

func (SystemClock) GetSystemTimeInNanos(context.Context) (int64, error) {
	return time.Now().UnixNano(), nil
}

var epoch = time.Now()

// MonotonicNanos reads the local monotonic clock.
func MonotonicNanos() int64 {
	return int64(time.Since(epoch))
}
