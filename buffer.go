package rudp

import (
	"sync"
	"sync/atomic"
)

// Buffer is a fixed-size, pooled 1409-byte datagram buffer: 9 reserved
// header bytes plus a 1400-byte payload region. Callers never touch the
// header region directly; the wire codec owns it. A Buffer returned by
// BufferPool.Acquire must be released back to its originating pool via
// Release (idiomatically via defer) once the caller is done with it —
// on ACK, on retry exhaustion, or when the application has consumed a
// delivered payload.
type Buffer struct {
	pool *BufferPool
	buf  [bufferSize]byte
	n    int // effective payload length, 0..=1200
}

// Payload returns the mutable payload region. Its capacity is always
// 1400 bytes; only the first Len() bytes are meaningful.
func (b *Buffer) Payload() []byte {
	return b.buf[headerSize:]
}

// Len returns the effective payload length set by SetLen.
func (b *Buffer) Len() int { return b.n }

// SetLen sets the effective payload length. It fails with
// ErrPayloadTooLarge if n exceeds 1200.
func (b *Buffer) SetLen(n int) error {
	if n > maxPayloadSize {
		return ErrPayloadTooLarge
	}
	b.n = n
	return nil
}

// header returns the 9 reserved header bytes, for use by the codec only.
func (b *Buffer) header() []byte { return b.buf[:headerSize] }

// wire returns the full framed datagram (header + effective payload),
// for use by the codec and the send engine only.
func (b *Buffer) wire() []byte { return b.buf[:headerSize+b.n] }

// Release returns the buffer to its originating pool. It is safe to call
// more than once; subsequent calls are no-ops. A Buffer acquired without
// a pool (e.g. constructed directly in a test) is simply discarded.
func (b *Buffer) Release() {
	if b.pool == nil {
		return
	}
	p := b.pool
	b.pool = nil
	b.n = 0
	p.release(b)
}

// PoolStats reports Buffer Pool accounting, per spec.md §4.1 and §8's
// pool-accounting invariant.
type PoolStats struct {
	TotalAcquisitions uint64
	PoolHits          uint64
	PoolMisses        uint64
	FreeCount         int
}

// BufferPool is a thread-safe pool of fixed-size 1409-byte buffers,
// backed by a free-list deque: Acquire pops from the front, release
// pushes to the back, so reuse is FIFO and cache freshness is spread
// evenly across the pool. A single pool may be shared across multiple
// Transport instances running on independent goroutines — it is the one
// piece of core state that is concurrency-safe by design (spec.md §5).
type BufferPool struct {
	mu       sync.Mutex
	free     []*Buffer
	maxCap   int
	acquires uint64
	hits     uint64
	misses   uint64
}

// NewBufferPool creates a pool pre-warmed with initialCap buffers and
// capped at maxCap total free buffers (spec.md §4.1: defaults 500 /
// 200,000).
func NewBufferPool(initialCap, maxCap int) *BufferPool {
	if maxCap <= 0 {
		maxCap = defaultPoolMaxCapacity
	}
	p := &BufferPool{
		free:   make([]*Buffer, 0, initialCap),
		maxCap: maxCap,
	}
	for i := 0; i < initialCap; i++ {
		p.free = append(p.free, &Buffer{pool: p})
	}
	return p
}

// DefaultPool is a process-wide pool pre-warmed with the default initial
// capacity, offered as a convenience for callers who don't need isolated
// pools per spec.md §9 ("implementers SHOULD expose the pool as an
// explicit handle" — DefaultPool is just one such handle, not a hidden
// global: tests construct their own via NewBufferPool).
var DefaultPool = NewBufferPool(defaultPoolInitialCapacity, defaultPoolMaxCapacity)

// Acquire pops a buffer from the free list, or allocates a new one on
// demand. It fails with ErrPoolExhausted only when the pool has decided
// to refuse further on-demand allocation — in this implementation that
// never happens (allocation is always permitted; MAX_POOL_CAPACITY only
// bounds retention on Release), but the signature is kept so a future
// capacity-enforcing policy doesn't need an API change.
func (p *BufferPool) Acquire() (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	atomic.AddUint64(&p.acquires, 1)
	if len(p.free) == 0 {
		atomic.AddUint64(&p.misses, 1)
		return &Buffer{pool: p}, nil
	}
	b := p.free[0]
	p.free = p.free[1:]
	atomic.AddUint64(&p.hits, 1)
	return b, nil
}

// release returns b to the free list, unless the pool is already at
// capacity, in which case b is simply dropped (freed by the GC).
func (p *BufferPool) release(b *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) >= p.maxCap {
		return
	}
	if len(p.free) == 0 {
		// re-slicing does not move the slice's start back, so the
		// capacity trimmed off the front by prior Acquire calls is not
		// recovered here; it is dropped when append next has to grow
		// the backing array.
		p.free = p.free[:0]
	}
	p.free = append(p.free, b)
}

// Stats returns a snapshot of pool accounting.
func (p *BufferPool) Stats() PoolStats {
	p.mu.Lock()
	free := len(p.free)
	p.mu.Unlock()
	return PoolStats{
		TotalAcquisitions: atomic.LoadUint64(&p.acquires),
		PoolHits:          atomic.LoadUint64(&p.hits),
		PoolMisses:        atomic.LoadUint64(&p.misses),
		FreeCount:         free,
	}
}
