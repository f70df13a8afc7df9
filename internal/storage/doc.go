// Package storage persists the Paxos learner and acceptor logs. Each log is
// an ordered map from sequence number to an encoded record, kept per series
// (namespace + use case) in a single pebble database.
package storage
