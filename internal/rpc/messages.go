package rpc

import (
	"timelock/internal/corruption"
	"timelock/internal/paxos"
	"timelock/internal/wire"
)

// Empty is the request or response of calls that carry nothing.
type Empty struct{}

func (*Empty) MarshalWire() ([]byte, error) { return nil, nil }

func (*Empty) UnmarshalWire([]byte) error { return nil }

// SeriesRef names a series on the wire.
type SeriesRef struct {
	Namespace string
	UseCase   string
}

func refOf(s paxos.Series) SeriesRef {
	return SeriesRef{Namespace: s.Namespace, UseCase: s.UseCase}
}

func (r SeriesRef) series() paxos.Series {
	return paxos.Series{Namespace: r.Namespace, UseCase: r.UseCase}
}

func (r *SeriesRef) MarshalWire() ([]byte, error) {
	var e wire.Encoder
	e.String(1, r.Namespace)
	e.String(2, r.UseCase)
	return e.Encoded(), nil
}

func (r *SeriesRef) UnmarshalWire(b []byte) error {
	*r = SeriesRef{}
	return wire.Decode(b, func(f wire.Field) error {
		switch f.Num {
		case 1:
			r.Namespace = f.String()
		case 2:
			r.UseCase = f.String()
		}
		return nil
	})
}

// SeqRequest addresses one sequence of a series. Learner reads that do not
// need a sequence leave Seq zero.
type SeqRequest struct {
	Series SeriesRef
	Seq    int64
}

func (r *SeqRequest) MarshalWire() ([]byte, error) {
	var e wire.Encoder
	if err := e.Message(1, &r.Series); err != nil {
		return nil, err
	}
	e.Int64(2, r.Seq)
	return e.Encoded(), nil
}

func (r *SeqRequest) UnmarshalWire(b []byte) error {
	*r = SeqRequest{}
	return wire.Decode(b, func(f wire.Field) error {
		switch f.Num {
		case 1:
			return f.Message(&r.Series)
		case 2:
			r.Seq = f.Int64()
		}
		return nil
	})
}

// LearnRequest carries a value to learn.
type LearnRequest struct {
	Series SeriesRef
	Seq    int64
	Value  paxos.Value
}

func (r *LearnRequest) MarshalWire() ([]byte, error) {
	var e wire.Encoder
	if err := e.Message(1, &r.Series); err != nil {
		return nil, err
	}
	e.Int64(2, r.Seq)
	if err := e.Message(3, &r.Value); err != nil {
		return nil, err
	}
	return e.Encoded(), nil
}

func (r *LearnRequest) UnmarshalWire(b []byte) error {
	*r = LearnRequest{}
	return wire.Decode(b, func(f wire.Field) error {
		switch f.Num {
		case 1:
			return f.Message(&r.Series)
		case 2:
			r.Seq = f.Int64()
		case 3:
			return f.Message(&r.Value)
		}
		return nil
	})
}

// ValueResponse carries an optional learned value.
type ValueResponse struct {
	Value *paxos.Value
}

func (r *ValueResponse) MarshalWire() ([]byte, error) {
	var e wire.Encoder
	if r.Value != nil {
		if err := e.Message(1, r.Value); err != nil {
			return nil, err
		}
	}
	return e.Encoded(), nil
}

func (r *ValueResponse) UnmarshalWire(b []byte) error {
	*r = ValueResponse{}
	return wire.Decode(b, func(f wire.Field) error {
		if f.Num == 1 {
			r.Value = &paxos.Value{}
			return f.Message(r.Value)
		}
		return nil
	})
}

// TimeResponse carries a clock reading.
type TimeResponse struct {
	TimeNanos int64
}

func (r *TimeResponse) MarshalWire() ([]byte, error) {
	var e wire.Encoder
	e.Int64(1, r.TimeNanos)
	return e.Encoded(), nil
}

func (r *TimeResponse) UnmarshalWire(b []byte) error {
	*r = TimeResponse{}
	return wire.Decode(b, func(f wire.Field) error {
		if f.Num == 1 {
			r.TimeNanos = f.Int64()
		}
		return nil
	})
}

// CorruptionReport tells a peer which node detected corruption.
type CorruptionReport struct {
	From string
}

func (r *CorruptionReport) MarshalWire() ([]byte, error) {
	var e wire.Encoder
	e.String(1, r.From)
	return e.Encoded(), nil
}

func (r *CorruptionReport) UnmarshalWire(b []byte) error {
	*r = CorruptionReport{}
	return wire.Decode(b, func(f wire.Field) error {
		if f.Num == 1 {
			r.From = f.String()
		}
		return nil
	})
}

// HistoryRequest asks for the last Window sequences of every series.
type HistoryRequest struct {
	Window int64
}

func (r *HistoryRequest) MarshalWire() ([]byte, error) {
	var e wire.Encoder
	e.Int64(1, r.Window)
	return e.Encoded(), nil
}

func (r *HistoryRequest) UnmarshalWire(b []byte) error {
	*r = HistoryRequest{}
	return wire.Decode(b, func(f wire.Field) error {
		if f.Num == 1 {
			r.Window = f.Int64()
		}
		return nil
	})
}

type record struct {
	corruption.Record
}

func (r *record) MarshalWire() ([]byte, error) {
	var e wire.Encoder
	e.Int64(1, r.Seq)
	if r.Learned != nil {
		if err := e.Message(2, r.Learned); err != nil {
			return nil, err
		}
	}
	if r.Accepted != nil {
		if err := e.Message(3, r.Accepted); err != nil {
			return nil, err
		}
	}
	return e.Encoded(), nil
}

func (r *record) UnmarshalWire(b []byte) error {
	*r = record{}
	return wire.Decode(b, func(f wire.Field) error {
		switch f.Num {
		case 1:
			r.Seq = f.Int64()
		case 2:
			r.Learned = &paxos.Value{}
			return f.Message(r.Learned)
		case 3:
			r.Accepted = &paxos.AcceptorState{}
			return f.Message(r.Accepted)
		}
		return nil
	})
}

type seriesHistory struct {
	Series SeriesRef
	Log    corruption.SeriesLog
}

func (h *seriesHistory) MarshalWire() ([]byte, error) {
	var e wire.Encoder
	if err := e.Message(1, &h.Series); err != nil {
		return nil, err
	}
	e.Int64(2, h.Log.From)
	for i := range h.Log.Records {
		if err := e.Message(3, &record{h.Log.Records[i]}); err != nil {
			return nil, err
		}
	}
	return e.Encoded(), nil
}

func (h *seriesHistory) UnmarshalWire(b []byte) error {
	*h = seriesHistory{}
	return wire.Decode(b, func(f wire.Field) error {
		switch f.Num {
		case 1:
			return f.Message(&h.Series)
		case 2:
			h.Log.From = f.Int64()
		case 3:
			var r record
			if err := f.Message(&r); err != nil {
				return err
			}
			h.Log.Records = append(h.Log.Records, r.Record)
		}
		return nil
	})
}

// HistoryResponse carries one node's recent records.
type HistoryResponse struct {
	Records corruption.SeriesRecords
}

func (r *HistoryResponse) MarshalWire() ([]byte, error) {
	var e wire.Encoder
	for s, log := range r.Records {
		if err := e.Message(1, &seriesHistory{Series: refOf(s), Log: log}); err != nil {
			return nil, err
		}
	}
	return e.Encoded(), nil
}

func (r *HistoryResponse) UnmarshalWire(b []byte) error {
	*r = HistoryResponse{Records: make(corruption.SeriesRecords)}
	return wire.Decode(b, func(f wire.Field) error {
		if f.Num != 1 {
			return nil
		}
		var h seriesHistory
		if err := f.Message(&h); err != nil {
			return err
		}
		r.Records[h.Series.series()] = h.Log
		return nil
	})
}
