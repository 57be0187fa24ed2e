package rudp

import (
	"net"
	"time"
)

// outboundDatagram pairs an encoded wire datagram with the address it
// must be sent to. tick and the dispatch path both produce these; only
// Transport ever touches a socket.
type outboundDatagram struct {
	addr net.Addr
	data []byte
}

// tick drives every peer through one scheduling pass, in the fixed
// order spec.md §4.8 requires: retransmission deadlines, then ACK batch
// flushes, then NACK emission, then liveness advancement, then (at most
// once per cleanup_interval) registry cleanup. Running cleanup last
// means a peer that went Dead earlier in this same pass is evicted
// before the next tick, not the one after. dead carries every address
// that transitioned to Dead during this pass, so the caller can surface
// it to the application through PollRead.
func (r *registry) tick(now time.Time) (out []outboundDatagram, dead []net.Addr) {
	for _, p := range r.peers {
		if p.status == StatusDead {
			continue
		}

		retransmits, lostCount := p.tickRetransmits(now, r.cfg.ARQ.MaxRetries)
		for _, w := range retransmits {
			out = append(out, outboundDatagram{p.addr, w})
		}
		if lostCount > 0 {
			if p.reportRetryExhaustion() {
				r.log.Error("peer declared dead after retry exhaustion", "peer", p.addr.String(), "cause", errMaxRetriesExceeded)
				dead = append(dead, p.addr)
			}
		}

		if w := p.flushAckBatch(now, r.cfg.ARQ.AckBatchFlushEvery, maxAckBatch); w != nil {
			out = append(out, outboundDatagram{p.addr, w})
		}

		nacks, nackExhausted := p.dueNacks(now)
		for _, w := range nacks {
			out = append(out, outboundDatagram{p.addr, w})
		}
		if nackExhausted {
			if w := p.forceProbe(now); w != nil {
				out = append(out, outboundDatagram{p.addr, w})
			}
		}

		if w := p.checkIdle(now, r.cfg.ARQ.IdleTimeout); w != nil {
			out = append(out, outboundDatagram{p.addr, w})
		}
		if ping, wentDead := p.checkProbeTimeout(now, p.rtt.RTO()); ping != nil || wentDead {
			if ping != nil {
				out = append(out, outboundDatagram{p.addr, ping})
			}
			if wentDead {
				r.log.Error("peer declared dead after probe failures", "peer", p.addr.String())
				dead = append(dead, p.addr)
			}
		}

		if p.closing {
			out = append(out, r.tickClose(p, now)...)
		}
	}

	r.cleanup(now)
	return out, dead
}

// tickClose advances a peer's close handshake (spec.md §5
// "Cancellation"): resend the close packet on every RTO, up to 3
// retries, after which the peer is torn down unconditionally.
func (r *registry) tickClose(p *peer, now time.Time) []outboundDatagram {
	if now.Sub(p.closeSentAt) < p.rtt.RTO() {
		return nil
	}
	if p.closeRetries >= 3 {
		r.remove(p.addr.String())
		return nil
	}
	p.closeRetries++
	p.closeSentAt = now
	return []outboundDatagram{{p.addr, Encode(Packet{Type: packetClose})}}
}
