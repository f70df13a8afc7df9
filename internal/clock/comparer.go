package clock

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"timelock/internal/logging"
)

// DefaultSkewThreshold is the skew above which a warning is logged.
const DefaultSkewThreshold = 50 * time.Millisecond

// Comparer inspects two consecutive samples of the same peer.
type Comparer interface {
	Compare(peer string, previous, current RequestTime)
}

// Events receives the findings of the monitor.
type Events interface {
	// ClockSkew reports how far the remote elapsed time fell outside the
	// local bracket. skew is zero when the clocks agree.
	ClockSkew(peer string, skew, requestDuration time.Duration)
	// ClockWentBackwards reports a remote clock that moved back by amount.
	ClockWentBackwards(peer string, amount time.Duration)
	// Exception reports a failed sample or cycle. peer is empty when the
	// failure is not tied to one peer.
	Exception(peer string, err error)
}

// SkewComparer estimates skew from the local bracket of two samples.
//
// Between the two remote reads, between cur.start-prev.end and
// cur.end-prev.start local nanoseconds passed. A remote clock running at the
// local rate reports an elapsed time inside that window; the distance outside
// it is the skew.
type SkewComparer struct {
	events Events
}

// NewSkewComparer returns a comparer reporting to events.
func NewSkewComparer(events Events) *SkewComparer {
	return &SkewComparer{events: events}
}

func (c *SkewComparer) Compare(peer string, previous, current RequestTime) {
	minElapsed := current.LocalTimeAtStart - previous.LocalTimeAtEnd
	maxElapsed := current.LocalTimeAtEnd - previous.LocalTimeAtStart
	remoteElapsed := current.RemoteSystemTime - previous.RemoteSystemTime

	if remoteElapsed < 0 {
		c.events.ClockWentBackwards(peer, time.Duration(-remoteElapsed))
		return
	}

	var skew int64
	switch {
	case remoteElapsed < minElapsed:
		skew = minElapsed - remoteElapsed
	case remoteElapsed > maxElapsed:
		skew = remoteElapsed - maxElapsed
	}
	c.events.ClockSkew(peer, time.Duration(skew), current.Duration())
}

// LoggedEvents logs monitor findings and records them as metrics.
type LoggedEvents struct {
	log       logging.Logger
	threshold time.Duration

	skew      *prometheus.HistogramVec
	backwards *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

// NewLoggedEvents creates the default Events sink. reg may be nil, in which
// case metrics are kept but not exported.
func NewLoggedEvents(log logging.Logger, reg prometheus.Registerer, threshold time.Duration) *LoggedEvents {
	if threshold <= 0 {
		threshold = DefaultSkewThreshold
	}
	e := &LoggedEvents{
		log:       log.With("component", "clock"),
		threshold: threshold,
		skew: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "timelock",
			Subsystem: "clock",
			Name:      "skew_seconds",
			Help:      "Estimated clock skew per peer.",
			Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"peer"}),
		backwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "timelock",
			Subsystem: "clock",
			Name:      "went_backwards_total",
			Help:      "Samples in which a peer clock moved backwards.",
		}, []string{"peer"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "timelock",
			Subsystem: "clock",
			Name:      "sample_failures_total",
			Help:      "Failed clock samples per peer.",
		}, []string{"peer"}),
	}
	if reg != nil {
		reg.MustRegister(e.skew, e.backwards, e.failures)
	}
	return e
}

func (e *LoggedEvents) ClockSkew(peer string, skew, requestDuration time.Duration) {
	e.skew.WithLabelValues(peer).Observe(skew.Seconds())
	if skew >= e.threshold {
		e.log.WithFields(logging.Fields{"peer": peer, "skew": skew, "requestDuration": requestDuration}).
			Warn("clock skew above threshold")
		return
	}
	e.log.WithFields(logging.Fields{"peer": peer, "skew": skew}).Debug("clock skew")
}

func (e *LoggedEvents) ClockWentBackwards(peer string, amount time.Duration) {
	e.backwards.WithLabelValues(peer).Inc()
	e.log.WithFields(logging.Fields{"peer": peer, "amount": amount}).Warn("peer clock went backwards")
}

func (e *LoggedEvents) Exception(peer string, err error) {
	e.failures.WithLabelValues(peer).Inc()
	e.log.With("peer", peer).Warnf("clock sample failed: %v", err)
}
