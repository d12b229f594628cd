// Package message implements the wire envelope and the one-shot
// promise/future pair that the rest of taskmaster correlates
// request/response traffic with.
package message

import (
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind distinguishes a Request from a Response on the wire.
type Kind uint8

const (
	KindRequest Kind = iota
	KindResponse
)

func (k Kind) String() string {
	if k == KindRequest {
		return "request"
	}
	return "response"
}

// Envelope is the self-describing record carried by one frame.
//
// For a Request, ID is freshly allocated by the sender and
// CorrelationID is unused (zero). For a Response, CorrelationID
// equals the ID of the Request it answers.
type Envelope struct {
	ID            uint64 `msgpack:"id"`
	Kind          Kind   `msgpack:"kind"`
	CorrelationID uint64 `msgpack:"cid,omitempty"`
	Type          string `msgpack:"type"`
	Data          []byte `msgpack:"data,omitempty"`
}

// Encode serializes an Envelope to its wire representation.
func Encode(e Envelope) ([]byte, error) {
	return msgpack.Marshal(e)
}

// Decode parses a wire representation back into an Envelope.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// EncodePayload is a convenience for handlers that marshal a typed
// request/response payload into Envelope.Data.
func EncodePayload(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// DecodePayload unmarshals Envelope.Data into a typed payload.
func DecodePayload(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// IDGenerator allocates monotonically increasing message ids, unique
// within the lifetime of a single socket endpoint (spec §3 invariant).
type IDGenerator struct {
	counter atomic.Uint64
}

// Next returns the next id, starting at 1.
func (g *IDGenerator) Next() uint64 {
	return g.counter.Add(1)
}
