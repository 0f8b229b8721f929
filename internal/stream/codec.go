package stream

import (
	"encoding/binary"
)

// payload formats carried by the envelope
const (
	FormatJSON byte = 0
)

// fixed header: 8-byte message id, 2 reserved, 1-byte reference length
const envelopePrefixLen = 8 + 2 + 1

// Envelope is one decoded streamer message.
type Envelope struct {
	MessageID uint64
	Reference string
	Format    byte
	Payload   []byte
}

// DecodeEnvelopes parses consecutive envelopes from buf and returns them
// together with the number of bytes consumed. A truncated or malformed tail
// stops the scan; whatever parsed cleanly before it is still returned. The
// payload slices alias buf and must be copied if retained.
//
// Wire layout, little endian:
//
//	[0:8]   message id
//	[8:10]  reserved
//	[10]    reference id length
//	[11:n]  reference id (ASCII)
//	[n]     payload format
//	[n+1:m] payload length (uint32)
//	[m:]    payload
func DecodeEnvelopes(buf []byte) ([]Envelope, int) {
	var (
		out      []Envelope
		consumed int
	)
	for {
		env, n, ok := decodeOne(buf[consumed:])
		if !ok {
			return out, consumed
		}
		out = append(out, env)
		consumed += n
		if consumed == len(buf) {
			return out, consumed
		}
	}
}

func decodeOne(buf []byte) (Envelope, int, bool) {
	if len(buf) < envelopePrefixLen {
		return Envelope{}, 0, false
	}
	refLen := int(buf[10])
	// reference + format byte + payload length
	headerLen := envelopePrefixLen + refLen + 1 + 4
	if len(buf) < headerLen {
		return Envelope{}, 0, false
	}
	payloadLen := int(binary.LittleEndian.Uint32(buf[envelopePrefixLen+refLen+1 : headerLen]))
	total := headerLen + payloadLen
	if len(buf) < total {
		return Envelope{}, 0, false
	}
	return Envelope{
		MessageID: binary.LittleEndian.Uint64(buf[0:8]),
		Reference: string(buf[envelopePrefixLen : envelopePrefixLen+refLen]),
		Format:    buf[envelopePrefixLen+refLen],
		Payload:   buf[headerLen:total],
	}, total, true
}

// EncodeEnvelope appends one envelope in wire layout to dst.
func EncodeEnvelope(dst []byte, env Envelope) []byte {
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], env.MessageID)
	dst = append(dst, scratch[:8]...)
	dst = append(dst, 0, 0)
	dst = append(dst, byte(len(env.Reference)))
	dst = append(dst, env.Reference...)
	dst = append(dst, env.Format)
	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(env.Payload)))
	dst = append(dst, scratch[:4]...)
	return append(dst, env.Payload...)
}
