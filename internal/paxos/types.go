// Package paxos holds the value types shared by the learner, the quorum
// reads and the corruption analysis, plus the local learner backed by the
// persisted learner log.
package paxos

import (
	"bytes"
	"cmp"
	"fmt"

	"timelock/internal/logging"
	"timelock/internal/storage"
	"timelock/internal/wire"
)

// Well-known use cases.
const (
	UseCaseLeader    = "leader"
	UseCaseTimestamp = "timestamp"
)

// Series identifies one independent Paxos log.
type Series struct {
	Namespace string
	UseCase   string
}

// LeaderSeries is the log used to elect and confirm leadership.
var LeaderSeries = Series{UseCase: UseCaseLeader}

func (s Series) String() string {
	if s.Namespace == "" {
		return s.UseCase
	}
	return s.Namespace + "/" + s.UseCase
}

func (s Series) key() storage.SeriesKey {
	return storage.SeriesKey{Namespace: s.Namespace, UseCase: s.UseCase}
}

// SeriesFromKey converts a storage key back into a Series.
func SeriesFromKey(k storage.SeriesKey) Series {
	return Series{Namespace: k.Namespace, UseCase: k.UseCase}
}

// Value is a learned Paxos value. It is immutable once learned.
type Value struct {
	Seq        int64
	ProposerID string
	Data       []byte
}

// Equal reports whether two values are the same learned value.
func (v *Value) Equal(o *Value) bool {
	if v == nil || o == nil {
		return v == o
	}
	return v.Seq == o.Seq && v.ProposerID == o.ProposerID && bytes.Equal(v.Data, o.Data)
}

// Hash is a short digest of the payload, safe to log.
func (v *Value) Hash() string {
	if v == nil {
		return "<nil>"
	}
	return logging.ValueHash(v.Data)
}

func (v *Value) String() string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Value{seq=%d proposer=%s hash=%s}", v.Seq, v.ProposerID, v.Hash())
}

func (v *Value) MarshalWire() ([]byte, error) {
	var e wire.Encoder
	e.Int64(1, v.Seq)
	e.String(2, v.ProposerID)
	e.Bytes(3, v.Data)
	return e.Encoded(), nil
}

func (v *Value) UnmarshalWire(b []byte) error {
	*v = Value{}
	return wire.Decode(b, func(f wire.Field) error {
		switch f.Num {
		case 1:
			v.Seq = f.Int64()
		case 2:
			v.ProposerID = f.String()
		case 3:
			v.Data = f.BytesValue()
		}
		return nil
	})
}

// Update is an ordered batch of learned values used to catch up a learner.
type Update struct {
	Values []Value
}

// IsSuccessful implements quorum.Response. A learner that answered at all
// answered successfully.
func (Update) IsSuccessful() bool { return true }

func (u *Update) MarshalWire() ([]byte, error) {
	var e wire.Encoder
	for i := range u.Values {
		if err := e.Message(1, &u.Values[i]); err != nil {
			return nil, err
		}
	}
	return e.Encoded(), nil
}

func (u *Update) UnmarshalWire(b []byte) error {
	*u = Update{}
	return wire.Decode(b, func(f wire.Field) error {
		if f.Num != 1 {
			return nil
		}
		var v Value
		if err := f.Message(&v); err != nil {
			return err
		}
		u.Values = append(u.Values, v)
		return nil
	})
}

// Ballot orders proposals: by number, then by proposer.
type Ballot struct {
	Number     int64
	ProposerID string
}

// Compare returns -1, 0 or 1.
func (b Ballot) Compare(o Ballot) int {
	if c := cmp.Compare(b.Number, o.Number); c != 0 {
		return c
	}
	return cmp.Compare(b.ProposerID, o.ProposerID)
}

func (b *Ballot) MarshalWire() ([]byte, error) {
	var e wire.Encoder
	e.Int64(1, b.Number)
	e.String(2, b.ProposerID)
	return e.Encoded(), nil
}

func (b *Ballot) UnmarshalWire(data []byte) error {
	*b = Ballot{}
	return wire.Decode(data, func(f wire.Field) error {
		switch f.Num {
		case 1:
			b.Number = f.Int64()
		case 2:
			b.ProposerID = f.String()
		}
		return nil
	})
}

// AcceptorState is the persisted state of an acceptor at one sequence.
// LastAccepted and Value are nil until the acceptor has accepted a proposal.
type AcceptorState struct {
	LastPromised Ballot
	LastAccepted *Ballot
	Value        *Value
}

func (a *AcceptorState) MarshalWire() ([]byte, error) {
	var e wire.Encoder
	if err := e.Message(1, &a.LastPromised); err != nil {
		return nil, err
	}
	if a.LastAccepted != nil {
		if err := e.Message(2, a.LastAccepted); err != nil {
			return nil, err
		}
	}
	if a.Value != nil {
		if err := e.Message(3, a.Value); err != nil {
			return nil, err
		}
	}
	return e.Encoded(), nil
}

func (a *AcceptorState) UnmarshalWire(b []byte) error {
	*a = AcceptorState{}
	return wire.Decode(b, func(f wire.Field) error {
		switch f.Num {
		case 1:
			return f.Message(&a.LastPromised)
		case 2:
			a.LastAccepted = &Ballot{}
			return f.Message(a.LastAccepted)
		case 3:
			a.Value = &Value{}
			return f.Message(a.Value)
		}
		return nil
	})
}
