package quorum

import (
	"sort"
)

// Response is a per-peer answer. Only successful responses count towards
// a quorum.
type Response interface {
	IsSuccessful() bool
}

// Responses is the set of answers gathered by a quorum call, stripped of
// which peer produced them.
type Responses[T Response] struct {
	quorumSize int
	responses  []T
}

// Get returns the collected responses.
func (r Responses[T]) Get() []T {
	return r.responses
}

// Size returns how many responses were collected.
func (r Responses[T]) Size() int {
	return len(r.responses)
}

// SuccessCount returns how many collected responses are successful.
func (r Responses[T]) SuccessCount() int {
	n := 0
	for _, resp := range r.responses {
		if resp.IsSuccessful() {
			n++
		}
	}
	return n
}

// QuorumSize returns the number of successes needed for a quorum.
func (r Responses[T]) QuorumSize() int {
	return r.quorumSize
}

// HasQuorum reports whether at least quorumSize responses succeeded.
func (r Responses[T]) HasQuorum() bool {
	return r.SuccessCount() >= r.quorumSize
}

// AllSuccessful reports whether no collected response was unsuccessful.
func (r Responses[T]) AllSuccessful() bool {
	return r.SuccessCount() == len(r.responses)
}

// ResponsesWithRemote keeps the responses keyed by the peer that sent them.
type ResponsesWithRemote[T Response] struct {
	quorumSize int
	byPeer     map[string]T
}

// ByPeer returns the responses keyed by peer ID.
func (r ResponsesWithRemote[T]) ByPeer() map[string]T {
	return r.byPeer
}

// Peers returns the IDs that responded, sorted.
func (r ResponsesWithRemote[T]) Peers() []string {
	ids := make([]string, 0, len(r.byPeer))
	for id := range r.byPeer {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Successes returns the successful responses keyed by peer ID.
func (r ResponsesWithRemote[T]) Successes() map[string]T {
	out := make(map[string]T, len(r.byPeer))
	for id, resp := range r.byPeer {
		if resp.IsSuccessful() {
			out[id] = resp
		}
	}
	return out
}

func (r ResponsesWithRemote[T]) HasQuorum() bool {
	return r.WithoutRemotes().HasQuorum()
}

// WithoutRemotes drops the per-peer bookkeeping and keeps the values,
// ordered by peer ID.
func (r ResponsesWithRemote[T]) WithoutRemotes() Responses[T] {
	out := Responses[T]{quorumSize: r.quorumSize, responses: make([]T, 0, len(r.byPeer))}
	for _, id := range r.Peers() {
		out.responses = append(out.responses, r.byPeer[id])
	}
	return out
}

// NewResponses builds a Responses value; mainly useful for callers that
// aggregate responses themselves.
func NewResponses[T Response](quorumSize int, responses []T) Responses[T] {
	return Responses[T]{quorumSize: quorumSize, responses: responses}
}
