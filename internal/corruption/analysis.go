package corruption

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"timelock/internal/paxos"
	"timelock/internal/quorum"
)

// Violation is a broken Paxos invariant found in a series.
type Violation int

const (
	None Violation = iota
	// DivergedLearners: two nodes learned different values at one sequence.
	DivergedLearners
	// ValueLearnedWithoutQuorum: so many acceptors recorded another value, or
	// none, at a learned sequence that no majority can have accepted it.
	ValueLearnedWithoutQuorum
	// AcceptedValueGreaterThanLearned: the highest-ballot accepted value at a
	// learned sequence differs from the learned value.
	AcceptedValueGreaterThanLearned
)

func (v Violation) String() string {
	switch v {
	case None:
		return "NONE"
	case DivergedLearners:
		return "DIVERGED_LEARNERS"
	case ValueLearnedWithoutQuorum:
		return "VALUE_LEARNED_WITHOUT_QUORUM"
	case AcceptedValueGreaterThanLearned:
		return "ACCEPTED_VALUE_GREATER_THAN_LEARNED"
	default:
		return fmt.Sprintf("Violation(%d)", int(v))
	}
}

// ShouldRejectRequests reports whether the violation makes the log unsafe
// to serve from.
func (v Violation) ShouldRejectRequests() bool {
	switch v {
	case DivergedLearners, ValueLearnedWithoutQuorum, AcceptedValueGreaterThanLearned:
		return true
	default:
		return false
	}
}

func (v Violation) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// HealthReport is the immutable result of one analysis.
type HealthReport struct {
	violations map[paxos.Series]Violation
}

// HealthyReport is a report without violations.
func HealthyReport() HealthReport {
	return HealthReport{}
}

// NewHealthReport builds a report from per-series findings. None entries are
// dropped.
func NewHealthReport(violations map[paxos.Series]Violation) HealthReport {
	r := HealthReport{violations: make(map[paxos.Series]Violation, len(violations))}
	for s, v := range violations {
		if v != None {
			r.violations[s] = v
		}
	}
	return r
}

// Violations returns the violation found per series.
func (r HealthReport) Violations() map[paxos.Series]Violation {
	out := make(map[paxos.Series]Violation, len(r.violations))
	for s, v := range r.violations {
		out[s] = v
	}
	return out
}

// SeriesWith returns the series that show v, sorted.
func (r HealthReport) SeriesWith(v Violation) []paxos.Series {
	var out []paxos.Series
	for s, found := range r.violations {
		if found == v {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// ShouldRejectRequests reports whether any series shows a violation.
func (r HealthReport) ShouldRejectRequests() bool {
	for _, v := range r.violations {
		if v.ShouldRejectRequests() {
			return true
		}
	}
	return false
}

func (r HealthReport) String() string {
	if len(r.violations) == 0 {
		return "healthy"
	}
	parts := make([]string, 0, len(r.violations))
	for s, v := range r.violations {
		parts = append(parts, s.String()+"="+v.String())
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (r HealthReport) MarshalJSON() ([]byte, error) {
	violations := make(map[string]Violation, len(r.violations))
	for s, v := range r.violations {
		violations[s.String()] = v
	}
	return json.Marshal(struct {
		ShouldRejectRequests bool                 `json:"shouldRejectRequests"`
		Violations           map[string]Violation `json:"violations"`
	}{r.ShouldRejectRequests(), violations})
}

// Analyze checks every series of history. clusterSize is the number of
// acceptors in the cluster. Per series only the first violation in
// declaration order is reported.
func Analyze(history History, clusterSize int) HealthReport {
	found := make(map[paxos.Series]Violation)
	for series, nodes := range history {
		if v := analyzeSeries(nodes, clusterSize); v != None {
			found[series] = v
		}
	}
	return NewHealthReport(found)
}

// seqState is what the cluster holds at one sequence.
type seqState struct {
	learned  []*paxos.Value
	accepted []*paxos.AcceptorState
}

func analyzeSeries(nodes []NodeHistory, clusterSize int) Violation {
	bySeq := make(map[int64]*seqState)
	for _, n := range nodes {
		for i := range n.Records {
			r := &n.Records[i]
			st, ok := bySeq[r.Seq]
			if !ok {
				st = &seqState{}
				bySeq[r.Seq] = st
			}
			if r.Learned != nil {
				st.learned = append(st.learned, r.Learned)
			}
			if r.Accepted != nil {
				st.accepted = append(st.accepted, r.Accepted)
			}
		}
	}
	seqs := make([]int64, 0, len(bySeq))
	for seq := range bySeq {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	for _, seq := range seqs {
		if diverged(bySeq[seq].learned) {
			return DivergedLearners
		}
	}

	majority := quorum.MajorityOf(clusterSize)
	for _, seq := range seqs {
		st := bySeq[seq]
		if len(st.learned) == 0 {
			continue
		}
		// Only an acceptor record at seq holding another value, or none, counts
		// against the learned value. A node without an acceptor record at seq
		// may have accepted it.
		rejected := len(st.accepted) - acceptedCount(st.accepted, st.learned[0])
		if clusterSize-rejected < majority {
			return ValueLearnedWithoutQuorum
		}
	}

	for _, seq := range seqs {
		st := bySeq[seq]
		if len(st.learned) == 0 {
			continue
		}
		if best := highestAccepted(st.accepted); best != nil && !best.Equal(st.learned[0]) {
			return AcceptedValueGreaterThanLearned
		}
	}
	return None
}

func diverged(learned []*paxos.Value) bool {
	for _, v := range learned[min(1, len(learned)):] {
		if !v.Equal(learned[0]) {
			return true
		}
	}
	return false
}

func acceptedCount(accepted []*paxos.AcceptorState, learned *paxos.Value) int {
	n := 0
	for _, a := range accepted {
		if a.Value != nil && a.Value.Equal(learned) {
			n++
		}
	}
	return n
}

func highestAccepted(accepted []*paxos.AcceptorState) *paxos.Value {
	var (
		best   *paxos.Ballot
		chosen *paxos.Value
	)
	for _, a := range accepted {
		if a.LastAccepted == nil || a.Value == nil {
			continue
		}
		if best == nil || a.LastAccepted.Compare(*best) > 0 {
			best = a.LastAccepted
			chosen = a.Value
		}
	}
	return chosen
}
