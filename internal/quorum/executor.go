package quorum

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentPerPeer bounds in-flight calls to a single peer.
const DefaultMaxConcurrentPerPeer = 16

// ErrExecutorSaturated is returned by Submit when the peer already has the
// maximum number of calls in flight.
var ErrExecutorSaturated = errors.New("peer executor saturated")

// Executor runs tasks for a single peer with bounded concurrency. Each
// component owns its own executors so a slow peer cannot starve another
// component's calls.
type Executor struct {
	peer string
	sem  *semaphore.Weighted
}

// NewExecutor creates an executor allowing maxConcurrent tasks in flight.
func NewExecutor(peer string, maxConcurrent int64) *Executor {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentPerPeer
	}
	return &Executor{peer: peer, sem: semaphore.NewWeighted(maxConcurrent)}
}

// Peer returns the peer this executor serves.
func (e *Executor) Peer() string {
	return e.peer
}

// Submit runs task asynchronously. It never blocks: when the executor is
// full it returns ErrExecutorSaturated and task does not run. A panic in task
// is recovered and passed to onError, which must not be nil.
func (e *Executor) Submit(ctx context.Context, task func(context.Context) error, onError func(error)) error {
	if !e.sem.TryAcquire(1) {
		return fmt.Errorf("%s: %w", e.peer, ErrExecutorSaturated)
	}
	go func() {
		defer e.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				onError(fmt.Errorf("panic calling %s: %v", e.peer, r))
			}
		}()
		if err := task(ctx); err != nil {
			onError(err)
		}
	}()
	return nil
}
