package rudp

import (
	"log/slog"
	"net"
	"time"
)

// registry owns the address → peer map. It is the only place peers are
// created or destroyed, so lifecycle invariants (no two peer structs for
// the same address, in-flight buffers always released before eviction)
// hold in one place (spec.md §4.7).
type registry struct {
	log       *slog.Logger
	cfg       Config
	peers     map[string]*peer
	lastClean time.Time
}

func newRegistry(cfg Config, log *slog.Logger) *registry {
	return &registry{
		log:       log,
		cfg:       cfg,
		peers:     make(map[string]*peer),
		lastClean: time.Now(),
	}
}

// getOrCreate returns the existing peer for addr, or lazily creates one
// on first contact — whichever direction (first Write, or first inbound
// datagram) touches that address first (spec.md §4.7).
func (r *registry) getOrCreate(addr net.Addr, now time.Time) *peer {
	key := addr.String()
	p, ok := r.peers[key]
	if ok {
		return p
	}
	p = newPeer(addr, r.cfg, r.log.With("peer", key))
	p.lastActivity = now
	r.peers[key] = p
	r.log.Debug("peer created", "peer", key)
	return p
}

// get returns the peer for addr without creating one.
func (r *registry) get(addr net.Addr) (*peer, bool) {
	p, ok := r.peers[addr.String()]
	return p, ok
}

// all returns every tracked peer. Callers must not mutate the returned
// map's membership; peer lifecycle changes go through this registry.
func (r *registry) all() map[string]*peer {
	return r.peers
}

// remove tears a peer down immediately: releases any in-flight buffers
// and drops it from the map. Used when a peer is declared Dead or the
// Transport is closing.
func (r *registry) remove(key string) {
	p, ok := r.peers[key]
	if !ok {
		return
	}
	p.releaseAllInFlight()
	delete(r.peers, key)
	r.log.Debug("peer removed", "peer", key)
}

// cleanup runs the periodic GC pass (spec.md §4.7): it evicts peers that
// have been idle beyond peer_gc_timeout with nothing in flight, prunes
// the seen-sequence/ack-cache windows of every peer that survives, and
// immediately evicts any peer already marked Dead. It is a no-op unless
// at least cleanup_interval has elapsed since the last pass (or, before
// the first pass, since the registry was created).
func (r *registry) cleanup(now time.Time) {
	if now.Sub(r.lastClean) < r.cfg.ARQ.CleanupEvery {
		return
	}
	r.lastClean = now

	for key, p := range r.peers {
		if p.status == StatusDead {
			r.remove(key)
			continue
		}
		if len(p.inFlight) == 0 && now.Sub(p.lastActivity) > r.cfg.ARQ.PeerGCTimeout {
			r.remove(key)
			continue
		}
		p.pruneSeen(now)
	}
}

// closeAll releases every peer's in-flight buffers, for use during
// Transport.Close.
func (r *registry) closeAll() {
	for key := range r.peers {
		r.remove(key)
	}
}
