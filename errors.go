package rudp

import "errors"

// Error kinds surfaced by the public API, per spec.md §7.
var (
	// ErrMalformedPacket is returned (and only ever logged, never
	// surfaced from a received datagram) when a header is shorter than
	// 9 bytes or a length field is inconsistent.
	ErrMalformedPacket = errors.New("rudp: malformed packet")

	// ErrIntegrityMismatch means the computed FNV-1a code did not match
	// the header. Packets failing this check are dropped silently;
	// reliability recovers them through retransmission.
	ErrIntegrityMismatch = errors.New("rudp: integrity code mismatch")

	// ErrPayloadTooLarge is returned to the caller of Write/WriteBytes
	// when the payload exceeds 1200 bytes.
	ErrPayloadTooLarge = errors.New("rudp: payload exceeds 1200 bytes")

	// ErrPoolExhausted is returned by AcquireBuffer when the pool is
	// empty and allocation is refused.
	ErrPoolExhausted = errors.New("rudp: buffer pool exhausted")

	// ErrPeerDead is returned by Write (and may be carried by a queued
	// ReadBuffer) when the target peer's liveness is Dead.
	ErrPeerDead = errors.New("rudp: peer is dead")

	// ErrClosed is returned by operations on a closed Transport.
	ErrClosed = errors.New("rudp: transport closed")

	// errMaxRetriesExceeded is internal; it is never returned from a
	// public method. It is attached as the cause of the log line emitted
	// when retry exhaustion declares a peer dead.
	errMaxRetriesExceeded = errors.New("rudp: max retries exceeded")
)
