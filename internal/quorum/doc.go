// Package quorum fans a call out to the local node and every remote peer and
// returns as soon as the outcome is decided: a quorum of successful responses
// has arrived, or enough peers have failed that a quorum can no longer form.
package quorum
