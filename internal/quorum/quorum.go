package quorum

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"timelock/internal/logging"
)

// DefaultTimeout bounds every quorum call unless configured otherwise.
const DefaultTimeout = 5 * time.Second

// Params controls a quorum call.
type Params struct {
	QuorumSize int
	Timeout    time.Duration
	// CancelRemainingCalls cancels the context of remote calls still in flight
	// once the outcome is decided. Local calls are never cancelled.
	CancelRemainingCalls bool
}

// MajorityOf returns floor(n/2)+1.
func MajorityOf(n int) int {
	return n/2 + 1
}

// Validate checks the params against the number of participants.
func (p Params) Validate(participants int) error {
	if p.QuorumSize < 1 || p.QuorumSize > participants {
		return fmt.Errorf("invalid quorum size %d for %d participants", p.QuorumSize, participants)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("invalid quorum timeout %v", p.Timeout)
	}
	return nil
}

// Metrics counts quorum outcomes and peer failures per component.
type Metrics struct {
	outcomes     *prometheus.CounterVec
	peerFailures *prometheus.CounterVec
}

// NewMetrics registers the quorum metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "timelock",
			Subsystem: "quorum",
			Name:      "calls_total",
			Help:      "Quorum calls by component and outcome.",
		}, []string{"component", "outcome"}),
		peerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "timelock",
			Subsystem: "quorum",
			Name:      "peer_failures_total",
			Help:      "Failed or unanswered peer calls by component and peer.",
		}, []string{"component", "peer"}),
	}
	reg.MustRegister(m.outcomes, m.peerFailures)
	return m
}

// Checker runs quorum calls with fixed params for one component.
type Checker struct {
	component string
	params    Params
	log       logging.Logger
	metrics   *Metrics
}

// NewChecker validates params for the given number of participants.
// metrics may be nil.
func NewChecker(component string, params Params, participants int, log logging.Logger, metrics *Metrics) (*Checker, error) {
	if err := params.Validate(participants); err != nil {
		return nil, fmt.Errorf("%s: %w", component, err)
	}
	return &Checker{
		component: component,
		params:    params,
		log:       log.With("component", component),
		metrics:   metrics,
	}, nil
}

// Params returns the checker's params.
func (c *Checker) Params() Params {
	return c.params
}

type outcome[T Response] struct {
	peer string
	resp T
	err  error
}

// Collect calls every member of env concurrently and returns once
// QuorumSize successful responses have arrived, once so many peers failed
// that a quorum is impossible, or once the timeout expires. Peer errors and
// panics are logged and counted as failures; they never reach the caller.
// Responses arriving after Collect returns are dropped.
func Collect[S any, T Response](ctx context.Context, c *Checker, env *Environment[S], call func(context.Context, S) (T, error)) ResponsesWithRemote[T] {
	p := c.params
	n := env.Size()
	results := make(chan outcome[T], n)

	waitCtx, stopWaiting := context.WithTimeout(ctx, p.Timeout)
	defer stopWaiting()
	remoteCtx, cancelRemotes := context.WithTimeout(ctx, p.Timeout)

	var inflight sync.WaitGroup
	inflight.Add(n)

	go func() {
		defer inflight.Done()
		resp, err := callSafely(context.WithoutCancel(ctx), env.Local, call)
		results <- outcome[T]{peer: env.LocalID, resp: resp, err: err}
	}()

	for _, r := range env.Remotes {
		r := r
		err := r.Executor.Submit(remoteCtx, func(ctx context.Context) error {
			defer inflight.Done()
			resp, err := callSafely(ctx, r.Service, call)
			results <- outcome[T]{peer: r.ID, resp: resp, err: err}
			return nil
		}, func(err error) {
			c.log.With("peer", r.ID).Errorf("quorum task failed outside of the call: %v", err)
		})
		if err != nil {
			inflight.Done()
			results <- outcome[T]{peer: r.ID, err: err}
		}
	}

	if p.CancelRemainingCalls {
		defer cancelRemotes()
	} else {
		go func() {
			inflight.Wait()
			cancelRemotes()
		}()
	}

	byPeer := make(map[string]T, n)
	successes, failures := 0, 0
	maxFailures := n - p.QuorumSize

wait:
	for received := 0; received < n; received++ {
		select {
		case o := <-results:
			if o.err != nil {
				failures++
				c.log.With("peer", o.peer).Warnf("quorum call failed: %v", o.err)
				c.peerFailed(o.peer)
			} else {
				byPeer[o.peer] = o.resp
				if o.resp.IsSuccessful() {
					successes++
				} else {
					failures++
				}
			}
		case <-waitCtx.Done():
			c.log.Debugf("quorum call timed out after %v with %d/%d successes", p.Timeout, successes, p.QuorumSize)
			break wait
		}
		if successes >= p.QuorumSize || failures > maxFailures {
			break
		}
	}

	c.observe(successes >= p.QuorumSize)
	return ResponsesWithRemote[T]{quorumSize: p.QuorumSize, byPeer: byPeer}
}

func callSafely[S any, T Response](ctx context.Context, service S, call func(context.Context, S) (T, error)) (resp T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during quorum call: %v", r)
		}
	}()
	return call(ctx, service)
}

func (c *Checker) observe(quorum bool) {
	if c.metrics == nil {
		return
	}
	outcome := "no_quorum"
	if quorum {
		outcome = "quorum"
	}
	c.metrics.outcomes.WithLabelValues(c.component, outcome).Inc()
}

func (c *Checker) peerFailed(peer string) {
	if c.metrics == nil {
		return
	}
	c.metrics.peerFailures.WithLabelValues(c.component, peer).Inc()
}
