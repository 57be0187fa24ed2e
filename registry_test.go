package rudp

import (
	"net"
	"testing"
	"time"
)

func testAddr(port int) net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func TestRegistryGetOrCreateIsLazyAndStable(t *testing.T) {
	r := newRegistry(NewConfig(), discardLogger())
	addr := testAddr(1)
	now := time.Now()

	p1 := r.getOrCreate(addr, now)
	p2 := r.getOrCreate(addr, now)
	if p1 != p2 {
		t.Fatalf("expected the same peer struct on repeated getOrCreate")
	}
	if _, ok := r.get(addr); !ok {
		t.Fatalf("expected peer to be retrievable via get")
	}
}

func TestRegistryCleanupEvictsIdlePeers(t *testing.T) {
	cfg := NewConfig()
	cfg.ARQ.PeerGCTimeout = 10 * time.Millisecond
	cfg.ARQ.CleanupEvery = 0
	r := newRegistry(cfg, discardLogger())

	now := time.Now()
	addr := testAddr(2)
	p := r.getOrCreate(addr, now)
	p.lastActivity = now

	r.cleanup(now.Add(20 * time.Millisecond))

	if _, ok := r.get(addr); ok {
		t.Fatalf("expected idle peer with no in-flight entries to be evicted")
	}
}

func TestRegistryCleanupSparesPeersWithInFlightData(t *testing.T) {
	cfg := NewConfig()
	cfg.ARQ.PeerGCTimeout = 10 * time.Millisecond
	cfg.ARQ.CleanupEvery = 0
	r := newRegistry(cfg, discardLogger())

	now := time.Now()
	addr := testAddr(3)
	p := r.getOrCreate(addr, now)
	p.lastActivity = now
	pool := NewBufferPool(1, 1)
	b, _ := pool.Acquire()
	p.acceptWrite(b, p.rtt.RTO(), now)

	r.cleanup(now.Add(20 * time.Millisecond))

	if _, ok := r.get(addr); !ok {
		t.Fatalf("expected peer with in-flight entries to survive idle GC")
	}
}

func TestRegistryCleanupEvictsDeadPeersImmediately(t *testing.T) {
	cfg := NewConfig()
	cfg.ARQ.CleanupEvery = 0
	r := newRegistry(cfg, discardLogger())

	now := time.Now()
	addr := testAddr(4)
	p := r.getOrCreate(addr, now)
	p.status = StatusDead

	r.cleanup(now)

	if _, ok := r.get(addr); ok {
		t.Fatalf("expected dead peer to be evicted on the next cleanup pass regardless of idle time")
	}
}

func TestRegistryCleanupRespectsCleanupInterval(t *testing.T) {
	cfg := NewConfig()
	cfg.ARQ.PeerGCTimeout = 1 * time.Millisecond
	cfg.ARQ.CleanupEvery = 1 * time.Hour
	r := newRegistry(cfg, discardLogger())

	now := time.Now()
	addr := testAddr(5)
	r.getOrCreate(addr, now)

	r.cleanup(now.Add(time.Second)) // far past PeerGCTimeout but not CleanupEvery
	if _, ok := r.get(addr); !ok {
		t.Fatalf("expected cleanup to be a no-op before cleanup_interval elapses")
	}
}

func TestRegistryRemoveReleasesInFlightBuffers(t *testing.T) {
	r := newRegistry(NewConfig(), discardLogger())
	now := time.Now()
	addr := testAddr(6)
	p := r.getOrCreate(addr, now)
	pool := NewBufferPool(1, 1)
	b, _ := pool.Acquire()
	p.acceptWrite(b, p.rtt.RTO(), now)

	r.remove(addr.String())

	if got := pool.Stats().FreeCount; got != 1 {
		t.Fatalf("expected in-flight buffer released on peer removal, free count = %d", got)
	}
}
