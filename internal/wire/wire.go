// Package wire provides the small protobuf-compatible encoding helpers used
// for persisted Paxos records and RPC messages.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is implemented by every type that travels over the wire or is
// persisted in the Paxos logs.
type Message interface {
	MarshalWire() ([]byte, error)
	UnmarshalWire([]byte) error
}

// Encoder appends protobuf fields to a buffer. Zero values are omitted.
type Encoder struct {
	buf []byte
}

// Encoded returns the encoded buffer.
func (e *Encoder) Encoded() []byte {
	return e.buf
}

func (e *Encoder) Int64(num protowire.Number, v int64) {
	if v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, uint64(v))
}

func (e *Encoder) Bool(num protowire.Number, v bool) {
	if !v {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, protowire.EncodeBool(v))
}

func (e *Encoder) String(num protowire.Number, v string) {
	if v == "" {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, v)
}

func (e *Encoder) Bytes(num protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, v)
}

// Message appends an embedded message. Unlike scalar fields an empty message
// is still written, so presence survives the round trip.
func (e *Encoder) Message(num protowire.Number, m Message) error {
	b, err := m.MarshalWire()
	if err != nil {
		return err
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, b)
	return nil
}

// Field is one decoded field handed to a Decode callback.
type Field struct {
	Num    protowire.Number
	Type   protowire.Type
	varint uint64
	bytes  []byte
}

func (f Field) Int64() int64 { return int64(f.varint) }

func (f Field) Bool() bool { return protowire.DecodeBool(f.varint) }

func (f Field) String() string { return string(f.bytes) }

// BytesValue returns a copy of a length-delimited field.
func (f Field) BytesValue() []byte {
	if len(f.bytes) == 0 {
		return nil
	}
	return append([]byte(nil), f.bytes...)
}

// Message decodes an embedded message field into m.
func (f Field) Message(m Message) error {
	if f.Type != protowire.BytesType {
		return fmt.Errorf("field %d: expected embedded message, got wire type %d", f.Num, f.Type)
	}
	return m.UnmarshalWire(f.bytes)
}

// Decode walks the fields of b and calls fn for each known wire type.
// Unknown wire types are skipped.
func Decode(b []byte, fn func(Field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := Field{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			f.varint = v
			n = m
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			f.bytes = v
			n = m
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			b = b[m:]
			continue
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
