package rudp

import "time"

// ConnectionStats holds per-peer counters, per spec.md §3. The four
// packet counters are monotonic for the lifetime of the peer entry; the
// remaining fields are current-value snapshots.
type ConnectionStats struct {
	PacketsSent       uint64
	PacketsReceived   uint64
	PacketsLost       uint64
	Retransmissions   uint64
	AverageRTT        time.Duration
	LastActivity      time.Time
	Status            ConnectionStatus
	InFlightCount     int
	PendingGapCount   uint
}
