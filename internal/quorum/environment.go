package quorum

import (
	"sort"
)

// Remote is a remotely addressable instance of a capability bound to the
// executor that runs calls against it.
type Remote[S any] struct {
	ID       string
	Service  S
	Executor *Executor
}

// Environment is one local instance plus the remote instances of the same
// capability. The local instance is always called in-process.
type Environment[S any] struct {
	LocalID string
	Local   S
	Remotes []Remote[S]
}

// NewEnvironment builds an environment with a dedicated executor per remote.
// Remotes are ordered by ID.
func NewEnvironment[S any](localID string, local S, remotes map[string]S, maxConcurrentPerPeer int64) *Environment[S] {
	ids := make([]string, 0, len(remotes))
	for id := range remotes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	env := &Environment[S]{LocalID: localID, Local: local}
	for _, id := range ids {
		env.Remotes = append(env.Remotes, Remote[S]{
			ID:       id,
			Service:  remotes[id],
			Executor: NewExecutor(id, maxConcurrentPerPeer),
		})
	}
	return env
}

// Size is the number of participants including the local one.
func (e *Environment[S]) Size() int {
	return len(e.Remotes) + 1
}

// AllIDs returns the local ID followed by the remote IDs.
func (e *Environment[S]) AllIDs() []string {
	ids := make([]string, 0, e.Size())
	ids = append(ids, e.LocalID)
	for _, r := range e.Remotes {
		ids = append(ids, r.ID)
	}
	return ids
}
