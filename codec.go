package rudp

import (
	"encoding/binary"
	"hash/fnv"
)

// integrityPreimageSalt is folded into every integrity code so that a
// stray, non-rudp UDP datagram arriving on the same socket cannot pass
// validation by accident.
var integrityPreimageSalt = [6]byte{'f', 'f', 'm', 'e', 's', 'h'}

// Header layout, big-endian, 9 bytes total, uniform across every packet
// type (spec.md §4.2):
//
//	byte 0:    type
//	bytes 1-4: integrity code (FNV-1a 32-bit)
//	bytes 5-8: seq — the assigned sequence number for data, unused
//	           (zero) for every other type; ack/nack carry their
//	           sequence numbers in the body
//
// Everything from byte 9 onward is the body, whose shape depends on
// type: the raw payload for data, an 8-byte timestamp for ping/ping-ack,
// a count byte plus 4 bytes per entry for ack/nack, nothing for
// close/close-ack.
const (
	offType      = 0
	offIntegrity = 1
	offSeq       = 5
)

// Packet is the decoded form of any of the seven wire packet types.
type Packet struct {
	Type    uint8
	Seq     uint32   // data: the sequence number
	Acks    []uint32 // data-ack / data-nack: the carried sequence list
	Ts      uint64   // ping / ping-ack: the 8-byte probe timestamp
	Payload []byte   // data: the payload bytes (aliases the input slice)
}

// hashPreimage computes the FNV-1a 32-bit integrity code over:
// salt(6) ‖ type(1) ‖ seq-or-zero(4, big-endian) ‖ body-length(2,
// big-endian, the true length) ‖ first 16 bytes of body, zero-padded up
// to 16 bytes when the body is shorter, truncated to the first 16 bytes
// when it is longer. This fixes the ambiguity spec.md §9 flags by
// following the original integrity-code calculation exactly: the code
// covers only a fixed-size prefix of the body, not the whole thing.
// Encode and Decode both call this single function so the two ends can
// never disagree.
func hashPreimage(typ uint8, seqOrZero uint32, body []byte) uint32 {
	h := fnv.New32a()
	h.Write(integrityPreimageSalt[:])
	h.Write([]byte{typ})

	var seqBuf [4]byte
	binary.BigEndian.PutUint32(seqBuf[:], seqOrZero)
	h.Write(seqBuf[:])

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(body)))
	h.Write(lenBuf[:])

	if len(body) >= 16 {
		h.Write(body[:16])
	} else {
		var prefix [16]byte
		copy(prefix[:], body)
		h.Write(prefix[:])
	}
	return h.Sum32()
}

// EncodeDataInto stamps a data packet's header directly into buf's
// reserved header region and returns the framed wire slice. buf must
// already hold the payload (via Payload()/SetLen). This is the
// zero-copy hot path: the returned slice aliases buf's own array, so no
// allocation occurs per send, and the same slice is retained verbatim
// for retransmission.
func EncodeDataInto(buf *Buffer, seq uint32) []byte {
	hdr := buf.header()
	hdr[offType] = packetData
	binary.BigEndian.PutUint32(hdr[offSeq:offSeq+4], seq)
	code := hashPreimage(packetData, seq, buf.Payload()[:buf.Len()])
	binary.BigEndian.PutUint32(hdr[offIntegrity:offIntegrity+4], code)
	return buf.wire()
}

// Encode serializes a control packet (everything except data, which
// goes through EncodeDataInto) to a freshly allocated byte slice.
func Encode(p Packet) []byte {
	switch p.Type {
	case packetPing, packetPingAck:
		out := make([]byte, headerSize+8)
		binary.BigEndian.PutUint64(out[headerSize:headerSize+8], p.Ts)
		out[offType] = p.Type
		code := hashPreimage(p.Type, 0, out[headerSize:])
		binary.BigEndian.PutUint32(out[offIntegrity:offIntegrity+4], code)
		return out

	case packetDataAck, packetDataNack:
		n := len(p.Acks)
		if n > 255 {
			n = 255
		}
		out := make([]byte, headerSize+1+4*n)
		out[offType] = p.Type
		out[headerSize] = uint8(n)
		for i := 0; i < n; i++ {
			binary.BigEndian.PutUint32(out[headerSize+1+4*i:headerSize+5+4*i], p.Acks[i])
		}
		code := hashPreimage(p.Type, 0, out[headerSize:])
		binary.BigEndian.PutUint32(out[offIntegrity:offIntegrity+4], code)
		return out

	case packetClose, packetCloseAck:
		out := make([]byte, headerSize)
		out[offType] = p.Type
		code := hashPreimage(p.Type, 0, nil)
		binary.BigEndian.PutUint32(out[offIntegrity:offIntegrity+4], code)
		return out

	default:
		panic("rudp: Encode called with unknown packet type")
	}
}

// Decode parses a received datagram. It returns ErrMalformedPacket for
// headers shorter than 9 bytes or internally inconsistent length fields,
// and ErrIntegrityMismatch when the FNV-1a code doesn't match — both
// policy-dropped by the caller, never surfaced to the application
// (spec.md §4.2, §7).
func Decode(data []byte) (Packet, error) {
	if len(data) < headerSize {
		return Packet{}, ErrMalformedPacket
	}

	typ := data[offType]
	wantCode := binary.BigEndian.Uint32(data[offIntegrity : offIntegrity+4])
	body := data[headerSize:]

	switch typ {
	case packetPing, packetPingAck:
		if len(body) < 8 {
			return Packet{}, ErrMalformedPacket
		}
		gotCode := hashPreimage(typ, 0, body)
		if gotCode != wantCode {
			return Packet{}, ErrIntegrityMismatch
		}
		return Packet{Type: typ, Ts: binary.BigEndian.Uint64(body[:8])}, nil

	case packetData:
		seq := binary.BigEndian.Uint32(data[offSeq : offSeq+4])
		if len(body) > maxPayloadSize {
			return Packet{}, ErrMalformedPacket
		}
		gotCode := hashPreimage(typ, seq, body)
		if gotCode != wantCode {
			return Packet{}, ErrIntegrityMismatch
		}
		return Packet{Type: typ, Seq: seq, Payload: body}, nil

	case packetDataAck, packetDataNack:
		if len(body) < 1 {
			return Packet{}, ErrMalformedPacket
		}
		n := int(body[0])
		if len(body) < 1+4*n {
			return Packet{}, ErrMalformedPacket
		}
		gotCode := hashPreimage(typ, 0, body)
		if gotCode != wantCode {
			return Packet{}, ErrIntegrityMismatch
		}
		acks := make([]uint32, n)
		for i := 0; i < n; i++ {
			acks[i] = binary.BigEndian.Uint32(body[1+4*i : 5+4*i])
		}
		return Packet{Type: typ, Acks: acks}, nil

	case packetClose, packetCloseAck:
		gotCode := hashPreimage(typ, 0, nil)
		if gotCode != wantCode {
			return Packet{}, ErrIntegrityMismatch
		}
		return Packet{Type: typ}, nil

	default:
		return Packet{}, ErrMalformedPacket
	}
}
