// Package protocol defines the envelope format carried over an established
// peer channel. Each unit is a msgpack two-element array [kind, body]; the
// body is opaque to the channel layer.
package protocol

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Envelope kinds. Single-character tags keep the per-message overhead small.
const (
	KindPresence  = "p"
	KindBroadcast = "b"
	KindDirect    = "d"
)

// Envelope is the unit exchanged over a peer channel.
type Envelope struct {
	Kind string
	Body msgpack.RawMessage
}

// KnownKind reports whether k is one of the three recognized kinds.
// Decoders drop envelopes with unknown kinds silently, so new kinds can be
// added without breaking old receivers.
func KnownKind(k string) bool {
	return k == KindPresence || k == KindBroadcast || k == KindDirect
}

// Encode serializes an envelope of the given kind around body. A body that
// cannot be serialized is a caller error.
func Encode(kind string, body any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeArrayLen(2); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(kind); err != nil {
		return nil, err
	}
	if err := enc.Encode(body); err != nil {
		return nil, fmt.Errorf("failed to encode envelope body: %w", err)
	}

	return buf.Bytes(), nil
}

// Decode deserializes a channel message into an Envelope. The body is kept
// raw; callers decode it with Unmarshal once they know what it holds.
func Decode(data []byte) (*Envelope, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if n != 2 {
		return nil, fmt.Errorf("malformed envelope: expected 2 elements, got %d", n)
	}

	kind, err := dec.DecodeString()
	if err != nil {
		return nil, fmt.Errorf("malformed envelope kind: %w", err)
	}

	// Decoding a nil body into a RawMessage zeroes it instead of keeping
	// the nil byte, so a nil body must be captured explicitly to survive
	// the round trip.
	code, err := dec.PeekCode()
	if err != nil {
		return nil, fmt.Errorf("malformed envelope body: %w", err)
	}

	var body msgpack.RawMessage
	if code == msgpcode.Nil {
		if err := dec.DecodeNil(); err != nil {
			return nil, fmt.Errorf("malformed envelope body: %w", err)
		}
		body = msgpack.RawMessage{msgpcode.Nil}
	} else if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("malformed envelope body: %w", err)
	}

	return &Envelope{Kind: kind, Body: body}, nil
}

// Unmarshal decodes a raw envelope body into v.
func Unmarshal(body msgpack.RawMessage, v any) error {
	return msgpack.Unmarshal(body, v)
}
