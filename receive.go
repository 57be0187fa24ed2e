package rudp

import "time"

// handleData processes one validated inbound data packet (spec.md
// §4.5). If seq has already been accepted, it returns needsDup=true so
// the caller re-emits a fresh ACK without touching the delivery queue.
// Otherwise it records the seq as seen, updates accounting and the gap
// tracker, and returns deliver=true so the caller copies payload into a
// queued buffer and schedules an ACK.
func (p *peer) handleData(seq uint32, now time.Time) (deliver bool, needsDup bool) {
	p.gaps.observe(seq, now)

	if _, ok := p.seenSeq[seq]; ok {
		return false, true
	}
	p.seenSeq[seq] = now
	p.packetsReceived++
	return true, false
}

// scheduleAck records seq as awaiting acknowledgment. If the pending
// batch was empty, it returns a ready-to-send singleton ACK datagram
// immediately (spec.md §4.5's "Immediate" mode); otherwise seq joins the
// batch for the Tick Scheduler to flush later ("Batched" mode).
func (p *peer) scheduleAck(seq uint32, now time.Time) []byte {
	wasEmpty := len(p.pendingAck) == 0
	if wasEmpty {
		p.pendingSince = now
	}
	p.pendingAck = append(p.pendingAck, seq)
	if wasEmpty {
		wire := Encode(Packet{Type: packetDataAck, Acks: p.pendingAck})
		p.ackCache[seq] = ackCacheEntry{emittedAt: now}
		p.pendingAck = p.pendingAck[:0]
		return wire
	}
	return nil
}

// duplicateAck builds the fast-path ACK for an already-seen seq without
// re-delivering its payload (spec.md §4.5's ACK-cache fast path).
func (p *peer) duplicateAck(seq uint32, now time.Time) []byte {
	p.log.Debug("duplicate data, re-acking", "seq", seq)
	p.ackCache[seq] = ackCacheEntry{emittedAt: now}
	return Encode(Packet{Type: packetDataAck, Acks: []uint32{seq}})
}

// flushAckBatch returns a batched ACK datagram if the pending batch has
// reached batchCap or aged past flushInterval, draining at most batchCap
// sequences and leaving any remainder pending for the next call (spec.md
// §4.5, §6's ack_batch_flush_interval).
func (p *peer) flushAckBatch(now time.Time, flushInterval time.Duration, batchCap int) []byte {
	if len(p.pendingAck) == 0 {
		return nil
	}
	if len(p.pendingAck) < batchCap && now.Sub(p.pendingSince) < flushInterval {
		return nil
	}

	n := len(p.pendingAck)
	if n > batchCap {
		n = batchCap
	}
	seqs := make([]uint32, n)
	copy(seqs, p.pendingAck[:n])
	for _, s := range seqs {
		p.ackCache[s] = ackCacheEntry{emittedAt: now}
	}

	remainder := len(p.pendingAck) - n
	if remainder > 0 {
		copy(p.pendingAck, p.pendingAck[n:])
		p.pendingAck = p.pendingAck[:remainder]
		p.pendingSince = now
	} else {
		p.pendingAck = p.pendingAck[:0]
	}

	return Encode(Packet{Type: packetDataAck, Acks: seqs})
}

// dueNacks returns ready-to-send NACK sequence batches (chunked at
// maxAckBatch) for gaps that have persisted past 1.5·RTO, and whether any
// gap has exhausted its NACK retry budget (spec.md §4.5 — callers should
// treat the latter as a cue to probe liveness).
func (p *peer) dueNacks(now time.Time) (batches [][]byte, probeLiveness bool) {
	ready, exhausted := p.gaps.due(p.rtt.RTO(), now)
	if len(ready) == 0 {
		return nil, exhausted
	}
	p.gaps.markSent(ready, now)
	p.log.Debug("nacking missing sequences", "count", len(ready))
	for start := 0; start < len(ready); start += maxAckBatch {
		end := start + maxAckBatch
		if end > len(ready) {
			end = len(ready)
		}
		batches = append(batches, Encode(Packet{Type: packetDataNack, Acks: ready[start:end]}))
	}
	return batches, exhausted
}

// pruneSeen evicts seen-sequence and ack-cache entries older than the
// retention window. The window is 1 hour whenever this peer's sequence
// space has wrapped since the last prune, 60s otherwise — the longer of
// the two rules from spec.md §3/§4.7/§9 is always the one applied, never
// both independently.
func (p *peer) pruneSeen(now time.Time) {
	retention := seenSeqRetention
	if p.wrapped {
		retention = seenSeqWrapRetain
	}
	for seq, ts := range p.seenSeq {
		if now.Sub(ts) > retention {
			delete(p.seenSeq, seq)
		}
	}
	for seq, entry := range p.ackCache {
		if now.Sub(entry.emittedAt) > retention {
			delete(p.ackCache, seq)
		}
	}
	p.wrapped = false
}
