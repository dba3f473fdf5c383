package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds the declared length of an incoming frame. Anything
// larger is treated as a broken connection.
const MaxFrameSize = 10 * 1024 * 1024

// ErrFrameTooLarge is returned when a peer declares a frame length above
// MaxFrameSize.
var ErrFrameTooLarge = errors.New("declared frame length too large")

// Envelope is one decoded control frame: the mandatory type discriminator
// plus the raw JSON for a second, type-specific unmarshal.
type Envelope struct {
	Type string
	Raw  json.RawMessage
}

// WriteFrame serializes v to JSON and writes it prefixed with a 4-byte
// big-endian length. The header and body go out in a single Write so the
// frame is all-or-nothing from the caller's perspective.
func WriteFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one length-prefixed JSON frame. Every failure mode
// (short read, closed connection, oversized declared length, JSON that does
// not parse) comes back as an error; callers treat all of them as "no
// message" and tear the session down.
func ReadFrame(r io.Reader) (*Envelope, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}

	return &Envelope{Type: env.Type, Raw: body}, nil
}

// Decode unmarshals the envelope body into v.
func (e *Envelope) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}
