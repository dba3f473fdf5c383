package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// UDP media packets (video and client-to-server audio) share one layout:
// a 4-byte big-endian username length, the username, then the opaque
// payload (compressed frame or PCM16 chunk).

// MinPacketSize is the smallest well-formed media packet: header, at least
// a 3-byte username and at least one payload byte.
const MinPacketSize = 9

// MaxUsernameLen is a sanity bound on the declared username length;
// registration enforces a much tighter limit but the relay must never trust
// the wire.
const MaxUsernameLen = 1024

// ParseMediaPacket splits a datagram into sender username and payload.
// Malformed packets (too short, absurd username length, username overrunning
// the datagram) report ok=false and are dropped by callers without any
// response.
func ParseMediaPacket(data []byte) (username string, payload []byte, ok bool) {
	if len(data) < MinPacketSize {
		return "", nil, false
	}

	nameLen := binary.BigEndian.Uint32(data[:4])
	if nameLen == 0 || nameLen > MaxUsernameLen {
		return "", nil, false
	}
	if int(4+nameLen) > len(data) {
		return "", nil, false
	}

	return string(data[4 : 4+nameLen]), data[4+nameLen:], true
}

// EncodeMediaPacket builds the relay-direction packet: same header shape,
// sender username, payload verbatim.
func EncodeMediaPacket(username string, payload []byte) []byte {
	name := []byte(username)
	buf := make([]byte, 4+len(name)+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(name)))
	copy(buf[4:], name)
	copy(buf[4+len(name):], payload)
	return buf
}

// EncodeMixedPacket builds the server-to-client audio packet: a 4-byte
// big-endian sender count, each contributing sender's name terminated by a
// NUL byte, then the mixed PCM16 bytes.
// DecodeMixedPacket parses a server-to-client audio packet back into its
// contributing sender names and mixed PCM bytes.
func DecodeMixedPacket(data []byte) (senders []string, pcm []byte, err error) {
	if len(data) < 4 {
		return nil, nil, errors.New("mixed packet too short")
	}
	count := binary.BigEndian.Uint32(data[:4])
	if count > MaxUsernameLen {
		return nil, nil, errors.New("mixed packet sender count out of range")
	}

	rest := data[4:]
	senders = make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		end := bytes.IndexByte(rest, 0x00)
		if end < 0 {
			return nil, nil, errors.New("mixed packet sender list truncated")
		}
		senders = append(senders, string(rest[:end]))
		rest = rest[end+1:]
	}
	return senders, rest, nil
}

func EncodeMixedPacket(senders []string, pcm []byte) []byte {
	size := 4 + len(pcm)
	for _, s := range senders {
		size += len(s) + 1
	}

	buf := make([]byte, 0, size)
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(senders)))
	buf = append(buf, header[:]...)
	for _, s := range senders {
		buf = append(buf, s...)
		buf = append(buf, 0x00)
	}
	return append(buf, pcm...)
}
