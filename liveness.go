package rudp

import "time"

// checkIdle implements the Alive→Probing transition: if no inbound
// activity has been seen for idleTimeout, a ping is emitted and the peer
// enters Probing (spec.md §4.6).
func (p *peer) checkIdle(now time.Time, idleTimeout time.Duration) []byte {
	if p.status != StatusAlive {
		return nil
	}
	if now.Sub(p.lastActivity) <= idleTimeout {
		return nil
	}
	p.log.Debug("idle timeout, probing liveness", "idle_for", now.Sub(p.lastActivity))
	p.status = StatusProbing
	p.pingSentAt = now
	p.pingOutstanding = true
	return Encode(Packet{Type: packetPing, Ts: uint64(now.UnixNano())})
}

// forceProbe drives the same Alive→Probing transition as checkIdle but
// bypasses the idle-timeout check, for callers that already have an
// independent reason to suspect the peer — specifically the NACK gap
// tracker exhausting its retry budget (spec.md §4.5: "if still missing
// after 3 NACK retries, emit a ping to verify liveness"). Without this,
// a peer that is only ever receiving, with no outbound in-flight data of
// its own, would have no path to a liveness check at all.
func (p *peer) forceProbe(now time.Time) []byte {
	if p.status != StatusAlive {
		return nil
	}
	p.log.Debug("nack retries exhausted, probing liveness")
	p.status = StatusProbing
	p.pingSentAt = now
	p.pingOutstanding = true
	return Encode(Packet{Type: packetPing, Ts: uint64(now.UnixNano())})
}

// checkProbeTimeout implements Probing's self-loop and its escalation to
// Dead: re-emit a ping on every RTO until maxPingFailures consecutive
// failures accrue, at which point the peer is declared Dead (spec.md
// §4.6, §3's consecutive_ping_failures invariant).
func (p *peer) checkProbeTimeout(now time.Time, rto time.Duration) (ping []byte, wentDead bool) {
	if p.status != StatusProbing || !p.pingOutstanding {
		return nil, false
	}
	if now.Sub(p.pingSentAt) <= rto {
		return nil, false
	}
	p.pingFailures++
	if p.pingFailures >= maxPingFailures {
		p.status = StatusDead
		return nil, true
	}
	p.log.Debug("probe unanswered, re-pinging", "failures", p.pingFailures)
	p.pingSentAt = now
	return Encode(Packet{Type: packetPing, Ts: uint64(now.UnixNano())}), false
}

// handlePingAck processes an echoed probe timestamp: it feeds an RTT
// sample, resets the failure counter, and returns the peer to Alive
// (spec.md §4.6).
func (p *peer) handlePingAck(ts uint64, now time.Time) {
	sent := time.Unix(0, int64(ts))
	if rttSample := now.Sub(sent); rttSample > 0 {
		p.rtt.sample(rttSample)
	}
	p.pingOutstanding = false
	p.pingFailures = 0
	if p.status == StatusProbing {
		p.status = StatusAlive
	}
}

// reportRetryExhaustion implements the policy resolved in SPEC_FULL.md
// §4.6 for the ambiguous "Degraded" state in spec.md §9: the first
// single-sequence retry exhaustion on this peer downgrades it to
// Degraded; a second (or three ping failures, handled separately)
// downgrades it to Dead.
func (p *peer) reportRetryExhaustion() (wentDead bool) {
	if p.status == StatusDead {
		return true
	}
	if !p.degradedOnce {
		p.degradedOnce = true
		if p.status != StatusDegraded {
			p.log.Warn("retry budget exhausted, degrading")
			p.status = StatusDegraded
		}
		return false
	}
	p.status = StatusDead
	return true
}
