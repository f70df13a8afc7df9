package repair

import (
	"slices"

	"timelock/internal/paxos"
)

// ReconcileResult is the outcome of reconciling the updates of several learners.
type ReconcileResult struct {
	// Agreed holds, per sequence, the single value every reporter returned.
	Agreed map[int64]paxos.Value

	// Conflicts lists, sorted, the sequences where reporters returned
	// different values.
	Conflicts []int64
}

// Reconcile merges the updates returned by several learners. A learner that
// has nothing at a sequence does not vote on it.
func Reconcile(updates []paxos.Update) ReconcileResult {
	agreed := make(map[int64]paxos.Value)
	conflicted := make(map[int64]bool)

	for _, u := range updates {
		for _, v := range u.Values {
			if conflicted[v.Seq] {
				continue
			}
			existing, seen := agreed[v.Seq]
			if !seen {
				agreed[v.Seq] = v
				continue
			}
			if !existing.Equal(&v) {
				delete(agreed, v.Seq)
				conflicted[v.Seq] = true
			}
		}
	}

	conflicts := make([]int64, 0, len(conflicted))
	for seq := range conflicted {
		conflicts = append(conflicts, seq)
	}
	slices.Sort(conflicts)

	return ReconcileResult{Agreed: agreed, Conflicts: conflicts}
}

// HasConflict returns true if any sequence has more than one value.
func (r *ReconcileResult) HasConflict() bool {
	return len(r.Conflicts) > 0
}

// Sequences returns the agreed sequences in ascending order.
func (r *ReconcileResult) Sequences() []int64 {
	seqs := make([]int64, 0, len(r.Agreed))
	for seq := range r.Agreed {
		seqs = append(seqs, seq)
	}
	slices.Sort(seqs)
	return seqs
}
