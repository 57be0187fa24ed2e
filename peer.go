package rudp

import (
	"log/slog"
	"net"
	"time"
)

// inFlightEntry is one sent-but-unacknowledged data packet (spec.md §3).
type inFlightEntry struct {
	buf      *Buffer
	seq      uint32
	sendTime time.Time // first-send time; used for RTT sampling only if retries==0
	deadline time.Time
	retries  int
	rto      time.Duration
}

// ackCacheEntry records when an ACK was last emitted for a seq, so a
// duplicate data packet can re-trigger it without re-processing
// (spec.md §3, §4.5).
type ackCacheEntry struct {
	emittedAt time.Time
}

// peer is all per-peer state: the in-flight send table, the
// seen-sequence set, the ACK cache, the pending-ACK batch, RTT/RTO
// state, liveness state, and accounting. It is owned exclusively by the
// Transport that created it — nothing here is accessed concurrently
// (spec.md §5).
type peer struct {
	addr net.Addr
	log  *slog.Logger

	// Send Engine state (spec.md §4.4).
	nextSeq  uint32
	inFlight map[uint32]*inFlightEntry

	// Receive Engine state (spec.md §4.5).
	seenSeq     map[uint32]time.Time
	ackCache    map[uint32]ackCacheEntry
	pendingAck  []uint32
	pendingSince time.Time
	gaps        *gapTracker
	wrapped     bool // true once this peer's seq space has wrapped, until the next GC pass

	// RTT / RTO (spec.md §4.3).
	rtt *rttEstimator

	// Liveness FSM (spec.md §4.6).
	status           ConnectionStatus
	lastActivity     time.Time
	pingSentAt       time.Time
	pingOutstanding  bool
	pingFailures     int
	degradedOnce     bool

	// Close handshake (spec.md §5 "Cancellation").
	closeSentAt  time.Time
	closeRetries int
	closing      bool

	// Accounting (spec.md §3 "Connection statistics").
	packetsSent     uint64
	packetsReceived uint64
	packetsLost     uint64
	retransmissions uint64

	createdAt time.Time
}

func newPeer(addr net.Addr, cfg Config, log *slog.Logger) *peer {
	now := time.Now()
	return &peer{
		addr:         addr,
		log:          log,
		inFlight:     make(map[uint32]*inFlightEntry),
		seenSeq:      make(map[uint32]time.Time),
		ackCache:     make(map[uint32]ackCacheEntry),
		gaps:         newGapTracker(),
		rtt:          newRTTEstimator(cfg.ARQ.InitialRTO, cfg.ARQ.MinRTO, cfg.ARQ.MaxRTO),
		status:       StatusAlive,
		lastActivity: now,
		createdAt:    now,
	}
}

// touch marks the peer as having just sent us a packet, resetting the liveness failure counter and returning the
// peer to Alive from either Probing or Degraded (spec.md §4.6: "Any →
// inbound data or ack received → Alive").
func (p *peer) touch(now time.Time) {
	p.lastActivity = now
	p.pingFailures = 0
	p.pingOutstanding = false
	p.degradedOnce = false
	if p.status == StatusProbing || p.status == StatusDegraded {
		p.status = StatusAlive
	}
}

// stats snapshots this peer's ConnectionStats.
func (p *peer) stats() ConnectionStats {
	var avg time.Duration
	if p.rtt.initialized {
		avg = p.rtt.srtt
	}
	return ConnectionStats{
		PacketsSent:     p.packetsSent,
		PacketsReceived: p.packetsReceived,
		PacketsLost:     p.packetsLost,
		Retransmissions: p.retransmissions,
		AverageRTT:      avg,
		LastActivity:    p.lastActivity,
		Status:          p.status,
		InFlightCount:   len(p.inFlight),
		PendingGapCount: p.gaps.pendingCount(),
	}
}
