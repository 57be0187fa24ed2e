package rudp

import (
	"time"

	"github.com/bits-and-blooms/bitset"
)

// gapWindowBits bounds how many trailing sequence numbers the gap
// tracker remembers relative to the highest one seen. It is a
// performance/observability structure only — see SPEC_FULL.md §3 — never
// the authority on duplicate suppression, which remains the peer's
// seen-sequence map.
const gapWindowBits = 4096

// missingEntry records when a gap was first observed and how many times
// a NACK has already been sent for it (spec.md §4.5's NACK policy: wait
// 1.5·RTO, then re-emit once per RTO up to 3 times, then escalate to a
// liveness ping).
type missingEntry struct {
	firstSeen time.Time
	lastNack  time.Time
	nackCount int
}

// gapTracker tracks, per peer, which recent sequence numbers are known
// to be missing from the arrival stream, backed by a bitset rebuilt from
// the authoritative missing map whenever the tracked window moves. The
// bitset exists purely so gap lists can be produced by deterministic,
// word-at-a-time NextSet iteration instead of ranging a Go map.
type gapTracker struct {
	hasHigh bool
	high    uint32
	base    uint32
	bits    *bitset.BitSet
	missing map[uint32]*missingEntry
}

func newGapTracker() *gapTracker {
	return &gapTracker{missing: make(map[uint32]*missingEntry)}
}

// observe records the arrival of seq (duplicate or not) and updates the
// set of believed-missing sequence numbers between the previous high
// watermark and seq.
func (g *gapTracker) observe(seq uint32, now time.Time) {
	if !g.hasHigh {
		g.hasHigh = true
		g.high = seq
		g.rebuild()
		return
	}
	if seqLessEq(seq, g.high) {
		delete(g.missing, seq)
		g.rebuild()
		return
	}

	gapCount := seq - g.high - 1
	if gapCount > gapWindowBits {
		gapCount = gapWindowBits // cap pathological jumps; very old gaps age out of the window
	}
	start := seq - gapCount
	for s := start; s != seq; s++ {
		if _, ok := g.missing[s]; !ok {
			g.missing[s] = &missingEntry{firstSeen: now}
		}
	}
	g.high = seq
	g.rebuild()
}

// rebuild recomputes base/bits so the window covers the gapWindowBits
// sequence numbers trailing g.high, dropping any missing entry that has
// aged out of that window (the sender's own retransmission timer, or
// eventual dead-peer declaration, subsumes tracking beyond this point).
func (g *gapTracker) rebuild() {
	if g.high+1 >= gapWindowBits {
		g.base = g.high - gapWindowBits + 1
	} else {
		g.base = 0
	}
	g.bits = bitset.New(gapWindowBits)
	for seq := range g.missing {
		off := seq - g.base
		if off < gapWindowBits {
			g.bits.Set(uint(off))
		} else {
			delete(g.missing, seq)
		}
	}
}

// due returns the sequence numbers that have been missing for longer
// than 1.5·rto, have been NACKed fewer than nackRepeatLimit times, and
// are not waiting out their own per-RTO re-send cooldown. It also
// returns whether any tracked gap has exhausted its NACK budget (a
// signal for the caller to probe liveness instead).
func (g *gapTracker) due(rto time.Duration, now time.Time) (ready []uint32, exhausted bool) {
	if g.bits == nil {
		return nil, false // nothing observed yet, so nothing can be missing
	}
	threshold := time.Duration(float64(rto) * 1.5)
	i, ok := g.bits.NextSet(0)
	for ok {
		seq := g.base + uint32(i)
		entry := g.missing[seq]
		if entry != nil {
			age := now.Sub(entry.firstSeen)
			if entry.nackCount >= nackRepeatLimit {
				exhausted = true
			} else if age >= threshold && now.Sub(entry.lastNack) >= rto {
				ready = append(ready, seq)
			}
		}
		i, ok = g.bits.NextSet(i + 1)
	}
	return ready, exhausted
}

// markSent records that a NACK was just emitted for each seq in seqs.
func (g *gapTracker) markSent(seqs []uint32, now time.Time) {
	for _, seq := range seqs {
		if entry, ok := g.missing[seq]; ok {
			entry.nackCount++
			entry.lastNack = now
		}
	}
}

// pendingCount reports how many gaps are currently tracked, for stats.
func (g *gapTracker) pendingCount() uint {
	if g.bits == nil {
		return 0
	}
	return g.bits.Count()
}
