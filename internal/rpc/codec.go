// Package rpc carries the learner, clock and corruption services over gRPC.
// Messages use the protobuf wire format through the wire package and travel
// with the "timelock-wire" content subtype.
package rpc

import (
	"fmt"

	"google.golang.org/grpc/encoding"

	"timelock/internal/wire"
)

// CodecName is the gRPC content subtype of every timelock RPC.
const CodecName = "timelock-wire"

type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wire.Message)
	if !ok {
		return nil, fmt.Errorf("rpc: cannot marshal %T", v)
	}
	return m.MarshalWire()
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wire.Message)
	if !ok {
		return fmt.Errorf("rpc: cannot unmarshal into %T", v)
	}
	return m.UnmarshalWire(data)
}

func (codec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(codec{})
}
