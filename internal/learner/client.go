// Package learner broadcasts learned Paxos values to every peer and answers
// quorum-gated questions about what the cluster has learned.
package learner

import (
	"context"
	"fmt"

	"timelock/internal/config"
	"timelock/internal/logging"
	"timelock/internal/paxos"
	"timelock/internal/quorum"
)

// LearnedValue is one peer's answer about a sequence. Value is nil when the
// peer has learned nothing there. Any answer counts as a successful response.
type LearnedValue struct {
	Value *paxos.Value
}

func (LearnedValue) IsSuccessful() bool { return true }

// AsLearnedValue is the identity mapper for GetLearnedValue.
func AsLearnedValue(v *paxos.Value) LearnedValue {
	return LearnedValue{Value: v}
}

// DefaultParams returns majority quorum params with the process-wide remote
// timeout.
func DefaultParams(participants int) quorum.Params {
	return quorum.Params{
		QuorumSize:           quorum.MajorityOf(participants),
		Timeout:              config.DefaultRemoteTimeout,
		CancelRemainingCalls: true,
	}
}

// NetworkClient is the learner side of Paxos for one series, spanning the
// local learner and every remote one.
type NetworkClient struct {
	series  paxos.Series
	env     *quorum.Environment[paxos.Learner]
	checker *quorum.Checker
	log     logging.Logger
}

// NewNetworkClient builds a client over env. It fails if params cannot be
// satisfied by the participants in env.
func NewNetworkClient(series paxos.Series, env *quorum.Environment[paxos.Learner], params quorum.Params, log logging.Logger, metrics *quorum.Metrics) (*NetworkClient, error) {
	log = log.WithFields(logging.Fields{"series": series.String(), "node": env.LocalID})
	checker, err := quorum.NewChecker("learner", params, env.Size(), log, metrics)
	if err != nil {
		return nil, fmt.Errorf("learner client for %s: %w", series, err)
	}
	return &NetworkClient{series: series, env: env, checker: checker, log: log}, nil
}

// Series returns the Paxos log this client serves.
func (c *NetworkClient) Series() paxos.Series {
	return c.series
}

// Learn records value at seq locally and then propagates it to every remote.
// A local failure is returned; remote failures are only logged.
func (c *NetworkClient) Learn(ctx context.Context, seq int64, value paxos.Value) error {
	if err := c.env.Local.Learn(ctx, seq, value); err != nil {
		return fmt.Errorf("local learn of %s seq %d failed: %w", c.series, seq, err)
	}

	timeout := c.checker.Params().Timeout
	for _, r := range c.env.Remotes {
		r := r
		onError := func(err error) {
			c.log.WithFields(logging.Fields{"peer": r.ID, "seq": seq, "value": value.Hash()}).
				Warnf("remote learn failed: %v", err)
		}
		err := r.Executor.Submit(ctx, func(ctx context.Context) error {
			// The remote learn outlives the caller's request.
			callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
			defer cancel()
			return r.Service.Learn(callCtx, seq, value)
		}, onError)
		if err != nil {
			onError(err)
		}
	}
	return nil
}

// GetLearnedValue asks every learner what it learned at seq and maps each
// answer with mapper. mapper receives nil when a learner has nothing at seq.
func GetLearnedValue[T quorum.Response](ctx context.Context, c *NetworkClient, seq int64, mapper func(*paxos.Value) T) quorum.Responses[T] {
	return quorum.Collect(ctx, c.checker, c.env, func(ctx context.Context, l paxos.Learner) (T, error) {
		v, err := l.GetLearnedValue(ctx, seq)
		if err != nil {
			var zero T
			return zero, err
		}
		return mapper(v), nil
	}).WithoutRemotes()
}

// GetLearnedValuesSince asks every learner for the values it learned from seq
// onwards.
func (c *NetworkClient) GetLearnedValuesSince(ctx context.Context, seq int64) quorum.Responses[paxos.Update] {
	return quorum.Collect(ctx, c.checker, c.env, func(ctx context.Context, l paxos.Learner) (paxos.Update, error) {
		return l.GetLearnedValuesSince(ctx, seq)
	}).WithoutRemotes()
}

// GetGreatestLearnedValue asks every learner for its highest learned value.
func (c *NetworkClient) GetGreatestLearnedValue(ctx context.Context) quorum.Responses[LearnedValue] {
	return quorum.Collect(ctx, c.checker, c.env, func(ctx context.Context, l paxos.Learner) (LearnedValue, error) {
		v, err := l.GetGreatestLearnedValue(ctx)
		return LearnedValue{Value: v}, err
	}).WithoutRemotes()
}

// AgreedValue returns the value that a quorum of responders reported
// identically. It returns false when the responses lack a quorum or no value
// reaches one.
func AgreedValue(responses quorum.Responses[LearnedValue]) (*paxos.Value, bool) {
	if !responses.HasQuorum() {
		return nil, false
	}
	var candidates []*paxos.Value
	var counts []int
	for _, r := range responses.Get() {
		if r.Value == nil {
			continue
		}
		found := false
		for i, c := range candidates {
			if c.Equal(r.Value) {
				counts[i]++
				found = true
				break
			}
		}
		if !found {
			candidates = append(candidates, r.Value)
			counts = append(counts, 1)
		}
	}
	for i, c := range candidates {
		if counts[i] >= responses.QuorumSize() {
			return c, true
		}
	}
	return nil, false
}
