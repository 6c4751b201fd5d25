package wsecho

import (
	"encoding/binary"
	"math"
)

// header represents a WebSocket frame header.
// See https://tools.ietf.org/html/rfc6455#section-5.2.
type header struct {
	fin    bool
	rsv1   bool
	rsv2   bool
	rsv3   bool
	opcode opcode

	payloadLength uint64

	masked  bool
	maskKey [4]byte
}

// First byte contains fin, rsv1, rsv2, rsv3 and the opcode.
// Second byte contains the mask flag and payload len.
// Next 8 bytes are the maximum extended payload length.
// Last 4 bytes are the mask key.
const maxHeaderSize = 1 + 1 + 8 + 4

// Values of the 7 bit payload length field.
const (
	maxShortLength    = 125
	extendedLength16  = 126
	extendedLength64  = 127
	extendedLength16N = 2
	extendedLength64N = 8
	maskKeyLen        = 4
)

// lengthTier returns the number of extended payload length
// bytes a frame carrying n bytes needs: 0, 2 or 8.
func lengthTier(n uint64) int {
	switch {
	case n <= maxShortLength:
		return 0
	case n <= math.MaxUint16:
		return extendedLength16N
	default:
		return extendedLength64N
	}
}

// writeHeader appends the wire form of h to b.
// See https://tools.ietf.org/html/rfc6455#section-5.2
func writeHeader(b []byte, h header) []byte {
	var b0 byte
	if h.fin {
		b0 |= 1 << 7
	}
	if h.rsv1 {
		b0 |= 1 << 6
	}
	if h.rsv2 {
		b0 |= 1 << 5
	}
	if h.rsv3 {
		b0 |= 1 << 4
	}
	b0 |= byte(h.opcode) & 0xf

	var b1 byte
	if h.masked {
		b1 |= 1 << 7
	}

	switch lengthTier(h.payloadLength) {
	case 0:
		b = append(b, b0, b1|byte(h.payloadLength))
	case extendedLength16N:
		b = append(b, b0, b1|extendedLength16)
		b = binary.BigEndian.AppendUint16(b, uint16(h.payloadLength))
	default:
		b = append(b, b0, b1|extendedLength64)
		b = binary.BigEndian.AppendUint64(b, h.payloadLength)
	}

	if h.masked {
		b = append(b, h.maskKey[:]...)
	}
	return b
}

// encodeFrame returns a complete frame with header h carrying p.
// h.payloadLength is taken from p. If h is masked, the payload is
// masked in the returned frame and p is left untouched.
func encodeFrame(h header, p []byte) []byte {
	h.payloadLength = uint64(len(p))

	b := make([]byte, 0, maxHeaderSize+len(p))
	b = writeHeader(b, h)
	off := len(b)
	b = append(b, p...)
	if h.masked {
		mask(h.maskKey, 0, b[off:])
	}
	return b
}

// encodeDataFrame returns the frame the server echoes p in.
// Server frames are never masked and are always binary so the
// payload never needs to be valid UTF-8.
func encodeDataFrame(p []byte) []byte {
	return encodeFrame(header{
		fin:    true,
		opcode: opBinary,
	}, p)
}

// encodeCloseFrame returns a close frame carrying code and reason.
func encodeCloseFrame(code StatusCode, reason string) []byte {
	ce := CloseError{
		Code:   code,
		Reason: reason,
	}
	return encodeFrame(header{
		fin:    true,
		opcode: opClose,
	}, ce.bytes())
}
