package paxos

import (
	"context"
	"errors"
	"fmt"

	"timelock/internal/storage"
)

// ErrConflictingValue is returned when a different value is already learned
// at the sequence being learned.
var ErrConflictingValue = errors.New("a different value is already learned at this sequence")

// Learner is the learner side of Paxos, served locally and to peers.
type Learner interface {
	// Learn records value as learned at seq.
	Learn(ctx context.Context, seq int64, value Value) error
	// GetLearnedValue returns the value learned at seq, or nil.
	GetLearnedValue(ctx context.Context, seq int64) (*Value, error)
	// GetLearnedValuesSince returns every learned value with sequence >= seq.
	GetLearnedValuesSince(ctx context.Context, seq int64) (Update, error)
	// GetGreatestLearnedValue returns the learned value with the highest sequence, or nil.
	GetGreatestLearnedValue(ctx context.Context) (*Value, error)
}

// LocalLearner is a Learner over this node's persisted learner log.
type LocalLearner struct {
	series Series
	log    *storage.Log
}

// NewLocalLearner opens the learner log of series in store.
func NewLocalLearner(store storage.Store, series Series) (*LocalLearner, error) {
	log, err := store.Log(storage.KindLearner, series.key())
	if err != nil {
		return nil, fmt.Errorf("failed to open learner log for %s: %w", series, err)
	}
	return &LocalLearner{series: series, log: log}, nil
}

// Series returns the log this learner serves.
func (l *LocalLearner) Series() Series {
	return l.series
}

// Learn persists value at seq. Learning the same value twice is a no-op.
func (l *LocalLearner) Learn(ctx context.Context, seq int64, value Value) error {
	if value.Seq != seq {
		return fmt.Errorf("value sequence %d does not match learn sequence %d", value.Seq, seq)
	}
	encoded, err := value.MarshalWire()
	if err != nil {
		return err
	}
	stored, wrote, err := l.log.PutIfAbsent(seq, encoded)
	if err != nil {
		return fmt.Errorf("failed to persist learned value %d for %s: %w", seq, l.series, err)
	}
	if wrote {
		return nil
	}
	var existing Value
	if err := existing.UnmarshalWire(stored); err != nil {
		return err
	}
	if !existing.Equal(&value) {
		return fmt.Errorf("%s seq %d: %w", l.series, seq, ErrConflictingValue)
	}
	return nil
}

// GetLearnedValue returns the value learned at seq, or nil.
func (l *LocalLearner) GetLearnedValue(ctx context.Context, seq int64) (*Value, error) {
	raw, found, err := l.log.Get(seq)
	if err != nil || !found {
		return nil, err
	}
	var v Value
	if err := v.UnmarshalWire(raw); err != nil {
		return nil, fmt.Errorf("corrupt learner record %d for %s: %w", seq, l.series, err)
	}
	return &v, nil
}

// GetLearnedValuesSince returns all learned values from seq onwards.
func (l *LocalLearner) GetLearnedValuesSince(ctx context.Context, seq int64) (Update, error) {
	entries, err := l.log.Since(seq)
	if err != nil {
		return Update{}, err
	}
	update := Update{Values: make([]Value, 0, len(entries))}
	for _, e := range entries {
		var v Value
		if err := v.UnmarshalWire(e.Value); err != nil {
			return Update{}, fmt.Errorf("corrupt learner record %d for %s: %w", e.Seq, l.series, err)
		}
		update.Values = append(update.Values, v)
	}
	return update, nil
}

// GetGreatestLearnedValue returns the value at the highest learned sequence.
func (l *LocalLearner) GetGreatestLearnedValue(ctx context.Context) (*Value, error) {
	seq, found, err := l.log.Greatest()
	if err != nil || !found {
		return nil, err
	}
	return l.GetLearnedValue(ctx, seq)
}

// LearnedRange returns learned values with from <= seq <= to, keyed by sequence.
func (l *LocalLearner) LearnedRange(from, to int64) (map[int64]Value, error) {
	entries, err := l.log.Range(from, to)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]Value, len(entries))
	for _, e := range entries {
		var v Value
		if err := v.UnmarshalWire(e.Value); err != nil {
			return nil, fmt.Errorf("corrupt learner record %d for %s: %w", e.Seq, l.series, err)
		}
		out[e.Seq] = v
	}
	return out, nil
}

// GreatestSeq returns the highest learned sequence.
func (l *LocalLearner) GreatestSeq() (int64, bool, error) {
	return l.log.Greatest()
}

// AcceptorLog gives read and write access to the persisted acceptor states of
// a series. The acceptor algorithm lives elsewhere; this node only persists
// and reads the records for corruption analysis.
type AcceptorLog struct {
	series Series
	log    *storage.Log
}

// NewAcceptorLog opens the acceptor log of series in store.
func NewAcceptorLog(store storage.Store, series Series) (*AcceptorLog, error) {
	log, err := store.Log(storage.KindAcceptor, series.key())
	if err != nil {
		return nil, fmt.Errorf("failed to open acceptor log for %s: %w", series, err)
	}
	return &AcceptorLog{series: series, log: log}, nil
}

// Put persists the acceptor state at seq.
func (a *AcceptorLog) Put(seq int64, state AcceptorState) error {
	encoded, err := state.MarshalWire()
	if err != nil {
		return err
	}
	return a.log.Put(seq, encoded)
}

// Range returns acceptor states with from <= seq <= to.
func (a *AcceptorLog) Range(from, to int64) (map[int64]AcceptorState, error) {
	entries, err := a.log.Range(from, to)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]AcceptorState, len(entries))
	for _, e := range entries {
		var s AcceptorState
		if err := s.UnmarshalWire(e.Value); err != nil {
			return nil, fmt.Errorf("corrupt acceptor record %d for %s: %w", e.Seq, a.series, err)
		}
		out[e.Seq] = s
	}
	return out, nil
}

// Greatest returns the highest sequence with an acceptor record.
func (a *AcceptorLog) Greatest() (int64, bool, error) {
	return a.log.Greatest()
}
