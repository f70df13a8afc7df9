package repair

import (
	"context"
	"errors"
	"fmt"

	"timelock/internal/logging"
	"timelock/internal/paxos"
	"timelock/internal/quorum"
)

// Source answers which values the cluster learned from a sequence onwards.
// learner.NetworkClient implements it.
type Source interface {
	GetLearnedValuesSince(ctx context.Context, seq int64) quorum.Responses[paxos.Update]
}

// Result summarises one catch-up run.
type Result struct {
	From      int64
	Learned   int
	Conflicts []int64
}

// CatchUp fills the local learner with values learned elsewhere.
type CatchUp struct {
	local  paxos.Learner
	source Source
	log    logging.Logger
}

// NewCatchUp creates a catch-up for local fed by source.
func NewCatchUp(local paxos.Learner, source Source, log logging.Logger) *CatchUp {
	return &CatchUp{local: local, source: source, log: log}
}

// Run learns every agreed value above the greatest locally learned sequence.
// Conflicting sequences are logged and skipped.
func (c *CatchUp) Run(ctx context.Context) (Result, error) {
	greatest, err := c.local.GetGreatestLearnedValue(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read greatest learned value: %w", err)
	}
	from := int64(0)
	if greatest != nil {
		from = greatest.Seq + 1
	}

	responses := c.source.GetLearnedValuesSince(ctx, from)
	reconciled := Reconcile(responses.Get())
	result := Result{From: from, Conflicts: reconciled.Conflicts}

	for _, seq := range reconciled.Conflicts {
		c.log.With("seq", seq).Warn("catch-up: learners disagree, skipping")
	}

	for _, seq := range reconciled.Sequences() {
		v := reconciled.Agreed[seq]
		err := c.local.Learn(ctx, seq, v)
		switch {
		case errors.Is(err, paxos.ErrConflictingValue):
			c.log.WithFields(logging.Fields{"seq": seq, "value": v.Hash()}).Warn("catch-up: local learner holds a different value")
			result.Conflicts = append(result.Conflicts, seq)
		case err != nil:
			return result, fmt.Errorf("failed to learn seq %d: %w", seq, err)
		default:
			result.Learned++
		}
	}

	if result.Learned > 0 || len(result.Conflicts) > 0 {
		c.log.Infof("catch-up from seq %d: %d learned, %d conflicts", from, result.Learned, len(result.Conflicts))
	}
	return result, nil
}
