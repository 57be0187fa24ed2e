package rudp

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the Prometheus collector set a Transport records into when
// constructed with RegisterMetrics. Field names mirror the ARQ
// gauge/counter/histogram set found in the reference pack's own metrics
// package, retargeted at this protocol's peer-keyed statistics.
type Metrics struct {
	PacketsSent     *prometheus.CounterVec
	PacketsReceived *prometheus.CounterVec
	PacketsLost     *prometheus.CounterVec
	Retransmissions *prometheus.CounterVec
	RTT             *prometheus.GaugeVec
	Status          *prometheus.GaugeVec

	PoolFreeBuffers   prometheus.Gauge
	PoolAcquisitions  prometheus.Counter
	PoolHits          prometheus.Counter
	PoolMisses        prometheus.Counter

	// lastLost/lastRetransmissions hold the last cumulative total seen
	// per peer, so observePeer can Add() the delta into the Counter
	// rather than re-adding the whole running total every tick.
	lastLost            map[string]uint64
	lastRetransmissions map[string]uint64
	lastAcquisitions    uint64
	lastHits            uint64
	lastMisses          uint64
}

// RegisterMetrics constructs the collector set and registers it on reg.
// A Transport built without calling this runs with a nil *Metrics, and
// every recording call site nil-checks before touching it — metrics are
// strictly optional.
func RegisterMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rudp_packets_sent_total",
			Help: "Total data packets sent, by peer.",
		}, []string{"peer"}),
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rudp_packets_received_total",
			Help: "Total data packets accepted (post-dedupe), by peer.",
		}, []string{"peer"}),
		PacketsLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rudp_packets_lost_total",
			Help: "Total data packets declared lost after retry exhaustion, by peer.",
		}, []string{"peer"}),
		Retransmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rudp_retransmissions_total",
			Help: "Total retransmissions (timeout- or NACK-triggered), by peer.",
		}, []string{"peer"}),
		RTT: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rudp_rtt_seconds",
			Help: "Current smoothed RTT, by peer.",
		}, []string{"peer"}),
		Status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rudp_peer_status",
			Help: "Peer liveness classification (0=alive,1=probing,2=degraded,3=dead), by peer.",
		}, []string{"peer"}),
		PoolFreeBuffers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rudp_pool_free_buffers",
			Help: "Buffers currently sitting in the free list.",
		}),
		PoolAcquisitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rudp_pool_acquisitions_total",
			Help: "Total buffer pool acquisitions.",
		}),
		PoolHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rudp_pool_hits_total",
			Help: "Buffer pool acquisitions served from the free list.",
		}),
		PoolMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rudp_pool_misses_total",
			Help: "Buffer pool acquisitions that allocated on demand.",
		}),
		lastLost:            make(map[string]uint64),
		lastRetransmissions: make(map[string]uint64),
	}
	reg.MustRegister(
		m.PacketsSent, m.PacketsReceived, m.PacketsLost, m.Retransmissions,
		m.RTT, m.Status,
		m.PoolFreeBuffers, m.PoolAcquisitions, m.PoolHits, m.PoolMisses,
	)
	return m
}

// observePeer records a peer's current stats snapshot into the metrics
// set. It is a no-op on a nil *Metrics. PacketsLost and Retransmissions
// are cumulative totals on ConnectionStats, not per-tick deltas, so
// observePeer tracks the last total seen per peer and Adds only the
// increase — the Counter must never be handed the running total twice.
func (m *Metrics) observePeer(addrKey string, s ConnectionStats) {
	if m == nil {
		return
	}
	m.PacketsSent.WithLabelValues(addrKey).Add(0) // ensure the series exists even at zero
	m.RTT.WithLabelValues(addrKey).Set(s.AverageRTT.Seconds())
	m.Status.WithLabelValues(addrKey).Set(float64(s.Status))

	if delta := s.PacketsLost - m.lastLost[addrKey]; delta > 0 {
		m.PacketsLost.WithLabelValues(addrKey).Add(float64(delta))
	}
	m.lastLost[addrKey] = s.PacketsLost

	if delta := s.Retransmissions - m.lastRetransmissions[addrKey]; delta > 0 {
		m.Retransmissions.WithLabelValues(addrKey).Add(float64(delta))
	}
	m.lastRetransmissions[addrKey] = s.Retransmissions
}

// observePool records a pool stats snapshot. No-op on a nil *Metrics.
// PoolAcquisitions/PoolHits/PoolMisses are likewise cumulative totals on
// PoolStats, so only their deltas since the last observation are added.
func (m *Metrics) observePool(s PoolStats) {
	if m == nil {
		return
	}
	m.PoolFreeBuffers.Set(float64(s.FreeCount))

	if delta := s.TotalAcquisitions - m.lastAcquisitions; delta > 0 {
		m.PoolAcquisitions.Add(float64(delta))
	}
	m.lastAcquisitions = s.TotalAcquisitions

	if delta := s.PoolHits - m.lastHits; delta > 0 {
		m.PoolHits.Add(float64(delta))
	}
	m.lastHits = s.PoolHits

	if delta := s.PoolMisses - m.lastMisses; delta > 0 {
		m.PoolMisses.Add(float64(delta))
	}
	m.lastMisses = s.PoolMisses
}
