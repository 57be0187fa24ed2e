package rudp

import "time"

// acceptWrite assigns the next sequence number to buf, stamps its
// header, and records an in-flight entry (spec.md §4.4). The caller owns
// sending the returned wire slice; buf's ownership transfers to the
// in-flight table (it will be released on ACK or retry exhaustion).
func (p *peer) acceptWrite(buf *Buffer, rto time.Duration, now time.Time) (wire []byte, seq uint32) {
	seq = p.nextSeq
	p.nextSeq++
	if p.nextSeq == 0 {
		p.wrapped = true // sequence space wrapped; the next pruneSeen pass keeps entries for the longer 1h window
	}

	wire = EncodeDataInto(buf, seq)
	p.inFlight[seq] = &inFlightEntry{
		buf:      buf,
		seq:      seq,
		sendTime: now,
		deadline: now.Add(rto),
		retries:  0,
		rto:      rto,
	}
	p.packetsSent++
	return wire, seq
}

// handleDataAck removes each acknowledged in-flight entry, releasing its
// buffer back to its pool, and feeds a fresh RTT sample when the entry
// was never retried (Karn's rule, spec.md §4.3/§4.4). Unknown or
// already-acked sequences are ignored — applying the same ACK twice is a
// no-op (spec.md §8's idempotence law).
func (p *peer) handleDataAck(acks []uint32, now time.Time) {
	for _, seq := range acks {
		entry, ok := p.inFlight[seq]
		if !ok {
			continue
		}
		if entry.retries == 0 {
			p.rtt.sample(now.Sub(entry.sendTime))
		}
		delete(p.inFlight, seq)
		entry.buf.Release()
	}
}

// handleDataNack retransmits each listed in-flight entry immediately,
// treating the retransmit as timeout-equivalent: retries increments and
// the RTO backs off exactly as it would on a deadline-driven retransmit
// (spec.md §4.4, the NACK-equivalence resolved in SPEC_FULL.md §4.4).
// Sequences already exhausted are reported via lost.
func (p *peer) handleDataNack(acks []uint32, now time.Time, maxRetries int) (retransmits [][]byte, lost []uint32) {
	for _, seq := range acks {
		entry, ok := p.inFlight[seq]
		if !ok {
			continue
		}
		if entry.retries >= maxRetries {
			delete(p.inFlight, seq)
			entry.buf.Release()
			p.packetsLost++
			lost = append(lost, seq)
			p.log.Debug("seq lost after nack retry exhaustion", "seq", seq, "retries", entry.retries)
			continue
		}
		entry.retries++
		entry.rto = p.rtt.backoff(entry.rto)
		entry.deadline = now.Add(entry.rto)
		p.retransmissions++
		p.log.Debug("retransmitting on nack", "seq", seq, "retries", entry.retries)
		retransmits = append(retransmits, entry.buf.wire())
	}
	return retransmits, lost
}

// tickRetransmits walks every in-flight entry whose deadline has passed.
// Entries with retries == maxRetries are dropped and counted as lost,
// signaling the liveness FSM of a definitive loss; others back off and
// are retransmitted unchanged (spec.md §4.4).
func (p *peer) tickRetransmits(now time.Time, maxRetries int) (retransmits [][]byte, lostCount int) {
	for seq, entry := range p.inFlight {
		if now.Before(entry.deadline) {
			continue
		}
		if entry.retries >= maxRetries {
			delete(p.inFlight, seq)
			entry.buf.Release()
			p.packetsLost++
			lostCount++
			p.log.Debug("seq lost after retry exhaustion", "seq", seq, "retries", entry.retries)
			continue
		}
		entry.retries++
		entry.rto = p.rtt.backoff(entry.rto)
		entry.deadline = now.Add(entry.rto)
		p.retransmissions++
		p.log.Debug("retransmitting on deadline", "seq", seq, "retries", entry.retries)
		retransmits = append(retransmits, entry.buf.wire())
	}
	return retransmits, lostCount
}

// releaseAllInFlight drops every in-flight entry for this peer, releasing
// its buffer back to the pool without sending anything further — used on
// peer teardown (dead declaration, registry GC, or transport close).
func (p *peer) releaseAllInFlight() {
	for seq, entry := range p.inFlight {
		entry.buf.Release()
		delete(p.inFlight, seq)
	}
}
