package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/algorand/go-deadlock"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Kind distinguishes the learner log from the acceptor log.
type Kind string

const (
	KindLearner  Kind = "learner"
	KindAcceptor Kind = "acceptor"
)

const sep = 0x00

var (
	// ErrInvalidSeq is returned for negative sequence numbers.
	ErrInvalidSeq = errors.New("sequence numbers must be non-negative")
	// ErrInvalidName is returned when a namespace or use case contains a NUL byte.
	ErrInvalidName = errors.New("namespace and use case must not contain NUL")
)

// SeriesKey names one Paxos log.
type SeriesKey struct {
	Namespace string
	UseCase   string
}

// Entry is one persisted record.
type Entry struct {
	Seq   int64
	Value []byte
}

// Store defines the persisted log operations used by learners and the
// history loader.
type Store interface {
	// Log returns the log of the given kind for a series.
	Log(kind Kind, series SeriesKey) (*Log, error)
	// Series lists every series with at least one record of the given kind.
	Series(kind Kind) ([]SeriesKey, error)
	Close() error
}

// PebbleStore implements Store on top of pebble.
type PebbleStore struct {
	pdb *pebble.DB
	wo  *pebble.WriteOptions

	// serializes conditional writes
	mu deadlock.Mutex
}

// Open opens a PebbleStore in dir. When inMem is set the data lives in memory
// only and dir is used as a name.
func Open(dir string, inMem bool) (*PebbleStore, error) {
	opts := &pebble.Options{}
	if inMem {
		opts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open paxos log store at %s: %w", dir, err)
	}
	return &PebbleStore{pdb: db, wo: pebble.Sync}, nil
}

// Close closes the database
func (s *PebbleStore) Close() error {
	return s.pdb.Close()
}

// Log returns the log of kind for series.
func (s *PebbleStore) Log(kind Kind, series SeriesKey) (*Log, error) {
	if strings.IndexByte(series.Namespace, sep) >= 0 || strings.IndexByte(series.UseCase, sep) >= 0 {
		return nil, ErrInvalidName
	}
	prefix := make([]byte, 0, len(kind)+len(series.Namespace)+len(series.UseCase)+3)
	prefix = append(prefix, kind...)
	prefix = append(prefix, sep)
	prefix = append(prefix, series.Namespace...)
	prefix = append(prefix, sep)
	prefix = append(prefix, series.UseCase...)
	prefix = append(prefix, sep)
	return &Log{store: s, prefix: prefix}, nil
}

// Series lists every series with at least one record of kind.
func (s *PebbleStore) Series(kind Kind) ([]SeriesKey, error) {
	kindPrefix := append([]byte(kind), sep)
	iter := s.pdb.NewIter(&pebble.IterOptions{
		LowerBound: kindPrefix,
		UpperBound: upperBound(kindPrefix),
	})
	defer iter.Close()

	var out []SeriesKey
	for valid := iter.First(); valid; {
		rest := iter.Key()[len(kindPrefix):]
		parts := bytes.SplitN(rest, []byte{sep}, 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed log key %q", iter.Key())
		}
		out = append(out, SeriesKey{Namespace: string(parts[0]), UseCase: string(parts[1])})

		// skip the remaining records of this series
		seriesPrefix := iter.Key()[:len(iter.Key())-len(parts[2])]
		valid = iter.SeekGE(upperBound(seriesPrefix))
	}
	return out, nil
}

// Log is the ordered record log of one series.
type Log struct {
	store  *PebbleStore
	prefix []byte
}

func (l *Log) key(seq int64) []byte {
	k := make([]byte, len(l.prefix)+8)
	copy(k, l.prefix)
	binary.BigEndian.PutUint64(k[len(l.prefix):], uint64(seq))
	return k
}

// Put writes value at seq, replacing any previous record.
func (l *Log) Put(seq int64, value []byte) error {
	if seq < 0 {
		return ErrInvalidSeq
	}
	return l.store.pdb.Set(l.key(seq), value, l.store.wo)
}

// PutIfAbsent writes value at seq unless a record already exists there.
// It returns the record that is stored after the call and whether this call
// wrote it.
func (l *Log) PutIfAbsent(seq int64, value []byte) ([]byte, bool, error) {
	if seq < 0 {
		return nil, false, ErrInvalidSeq
	}
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	existing, found, err := l.Get(seq)
	if err != nil {
		return nil, false, err
	}
	if found {
		return existing, false, nil
	}
	if err := l.store.pdb.Set(l.key(seq), value, l.store.wo); err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Get returns the record at seq.
func (l *Log) Get(seq int64) ([]byte, bool, error) {
	if seq < 0 {
		return nil, false, ErrInvalidSeq
	}
	v, closer, err := l.store.pdb.Get(l.key(seq))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), true, nil
}

// Since returns every record with sequence >= seq in order.
func (l *Log) Since(seq int64) ([]Entry, error) {
	if seq < 0 {
		seq = 0
	}
	return l.scan(l.key(seq), upperBound(l.prefix))
}

// Range returns the records with from <= sequence <= to in order.
func (l *Log) Range(from, to int64) ([]Entry, error) {
	if from < 0 {
		from = 0
	}
	if to < from {
		return nil, nil
	}
	return l.scan(l.key(from), upperBound(l.key(to)))
}

// Greatest returns the highest sequence number in the log.
func (l *Log) Greatest() (int64, bool, error) {
	iter := l.store.pdb.NewIter(&pebble.IterOptions{
		LowerBound: l.prefix,
		UpperBound: upperBound(l.prefix),
	})
	defer iter.Close()

	if !iter.Last() {
		return 0, false, nil
	}
	return l.seqOf(iter.Key()), true, nil
}

func (l *Log) scan(lower, upper []byte) ([]Entry, error) {
	iter := l.store.pdb.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})

	var out []Entry
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, Entry{
			Seq:   l.seqOf(iter.Key()),
			Value: append([]byte(nil), iter.Value()...),
		})
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Log) seqOf(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(l.prefix):]))
}

// upperBound returns the smallest key greater than every key starting with p.
func upperBound(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
