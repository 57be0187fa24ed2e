package rudp

import (
	"fmt"
	"log/slog"
	"net"
	"time"
)

// ReadBuffer is one delivered payload handed back by PollRead, carrying
// the originating peer address alongside either a payload buffer or an
// error — e.g. a notification that the peer transitioned to Dead
// (spec.md §6).
type ReadBuffer struct {
	Addr    net.Addr
	Payload []byte
	Err     error
}

// Transport is a reliable datagram endpoint over one bound UDP socket.
// It is single-threaded and cooperative: Write, PollRead, Tick, and
// Close are serialized relative to one another by the caller (spec.md
// §5) — nothing here spawns a goroutine; all socket I/O happens inside
// whichever call the caller is currently making.
type Transport struct {
	conn net.PacketConn
	pool *BufferPool
	reg  *registry
	cfg  Config
	log  *slog.Logger
	mx   *Metrics

	readQueue []ReadBuffer
	closed    bool

	recvBuf [bufferSize]byte
}

// TransportOption customizes a Transport at construction time.
type TransportOption func(*Transport)

// WithBufferPool overrides the default per-transport buffer pool,
// letting several Transport instances share one pool (spec.md §5,
// "the buffer pool alone is concurrency-safe").
func WithBufferPool(p *BufferPool) TransportOption {
	return func(t *Transport) { t.pool = p }
}

// WithLogger overrides the default discard logger.
func WithLogger(log *slog.Logger) TransportOption {
	return func(t *Transport) { t.log = log }
}

// WithMetrics attaches a Prometheus collector set built by
// RegisterMetrics.
func WithMetrics(m *Metrics) TransportOption {
	return func(t *Transport) { t.mx = m }
}

// WithConfig overrides the default Config.
func WithConfig(cfg Config) TransportOption {
	return func(t *Transport) { t.cfg = cfg }
}

// WithConnWrapper wraps the just-bound socket with decorate before any
// I/O happens. Options run after NewTransport binds the real socket, so
// this lets a caller — typically a test — interpose packet loss or
// other network conditions around a genuine loopback connection instead
// of faking the transport layer.
func WithConnWrapper(decorate func(net.PacketConn) net.PacketConn) TransportOption {
	return func(t *Transport) { t.conn = decorate(t.conn) }
}

// NewTransport binds a UDP socket to localAddr and pre-warms the buffer
// pool (spec.md §6). Use opts to attach a shared pool, a logger,
// metrics, or a non-default Config before the socket is used.
func NewTransport(localAddr string, opts ...TransportOption) (*Transport, error) {
	conn, err := net.ListenPacket("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("rudp: listen: %w", err)
	}

	t := &Transport{
		conn: conn,
		cfg:  NewConfig(),
		log:  discardLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.pool == nil {
		t.pool = NewBufferPool(t.cfg.Pool.InitialCapacity, t.cfg.Pool.MaxCapacity)
	}
	t.reg = newRegistry(t.cfg, t.log)
	return t, nil
}

// LocalAddr returns the bound socket's local address.
func (t *Transport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// AcquireBuffer pops a buffer from this Transport's pool for the caller
// to fill and hand to Write.
func (t *Transport) AcquireBuffer() (*Buffer, error) {
	buf, err := t.pool.Acquire()
	if err != nil {
		t.log.Warn("buffer pool exhausted", "max_capacity", t.cfg.Pool.MaxCapacity)
	}
	return buf, err
}

// Write sends buf to target, assigning its sequence number internally
// and registering it in the target peer's in-flight table. Ownership of
// buf transfers to Transport; the caller must not touch it again.
func (t *Transport) Write(buf *Buffer, target net.Addr) error {
	if t.closed {
		buf.Release()
		return ErrClosed
	}
	now := time.Now()
	p := t.reg.getOrCreate(target, now)
	if p.status == StatusDead {
		buf.Release()
		return ErrPeerDead
	}

	wire, _ := p.acceptWrite(buf, p.rtt.RTO(), now)
	if t.mx != nil {
		t.mx.PacketsSent.WithLabelValues(target.String()).Inc()
	}
	_, err := t.conn.WriteTo(wire, target)
	if err != nil {
		t.log.Warn("write failed", "peer", target.String(), "err", err)
		return fmt.Errorf("rudp: write: %w", err)
	}
	return nil
}

// WriteBytes is a convenience wrapper: it acquires a buffer, copies
// data into it, and writes it. It fails with ErrPayloadTooLarge if
// len(data) > 1200.
func (t *Transport) WriteBytes(data []byte, target net.Addr) error {
	if len(data) > maxPayloadSize {
		return ErrPayloadTooLarge
	}
	buf, err := t.AcquireBuffer()
	if err != nil {
		return err
	}
	n := copy(buf.Payload(), data)
	if err := buf.SetLen(n); err != nil {
		buf.Release()
		return err
	}
	return t.Write(buf, target)
}

// PollRead dequeues one delivered payload, if any is waiting. It never
// blocks; Tick is what actually pumps the socket.
func (t *Transport) PollRead() (ReadBuffer, bool) {
	if len(t.readQueue) == 0 {
		return ReadBuffer{}, false
	}
	rb := t.readQueue[0]
	t.readQueue = t.readQueue[1:]
	return rb, true
}

// Tick drains every inbound datagram currently waiting on the socket,
// dispatches each to the owning peer, then runs the Tick Scheduler pass
// (retransmission, ACK flush, NACK emission, liveness, cleanup) and
// flushes whatever outbound datagrams that pass produced. Callers must
// invoke this on a schedule no coarser than 50 ms (spec.md §6).
func (t *Transport) Tick() error {
	if t.closed {
		return ErrClosed
	}
	now := time.Now()

	if err := t.drainInbound(now); err != nil {
		return err
	}

	outbound, dead := t.reg.tick(now)
	for _, out := range outbound {
		if _, err := t.conn.WriteTo(out.data, out.addr); err != nil {
			t.log.Warn("tick write failed", "peer", out.addr.String(), "err", err)
		}
	}
	for _, addr := range dead {
		t.readQueue = append(t.readQueue, ReadBuffer{Addr: addr, Err: ErrPeerDead})
	}

	if t.mx != nil {
		t.mx.observePool(t.pool.Stats())
		for key, p := range t.reg.all() {
			t.mx.observePeer(key, p.stats())
		}
	}
	return nil
}

// drainInbound reads every datagram currently queued on the socket
// without blocking, by setting a deadline in the past the instant the
// first read would otherwise block. This is the one place a blocking
// net.PacketConn is driven cooperatively instead of via a reader
// goroutine, matching the single-threaded model of spec.md §5.
func (t *Transport) drainInbound(now time.Time) error {
	for {
		if err := t.conn.SetReadDeadline(now); err != nil {
			return fmt.Errorf("rudp: set read deadline: %w", err)
		}
		n, addr, err := t.conn.ReadFrom(t.recvBuf[:])
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil
			}
			return nil // a transient socket error drops this pass; the caller's next Tick retries
		}
		t.handleDatagram(t.recvBuf[:n], addr, now)
	}
}

// handleDatagram decodes one inbound datagram and routes it to the
// owning peer's Send/Receive/Liveness state, per spec.md §4.2/§4.4-4.6.
// Malformed or integrity-mismatched datagrams are dropped silently.
func (t *Transport) handleDatagram(data []byte, addr net.Addr, now time.Time) {
	pkt, err := Decode(data)
	if err != nil {
		t.log.Debug("dropping undecodable datagram", "peer", addr.String(), "err", err)
		return
	}

	p := t.reg.getOrCreate(addr, now)
	p.touch(now)

	switch pkt.Type {
	case packetPing:
		wire := Encode(Packet{Type: packetPingAck, Ts: pkt.Ts})
		t.conn.WriteTo(wire, addr)

	case packetPingAck:
		p.handlePingAck(pkt.Ts, now)

	case packetData:
		deliver, needsDup := p.handleData(pkt.Seq, now)
		if needsDup {
			if wire := p.duplicateAck(pkt.Seq, now); wire != nil {
				t.conn.WriteTo(wire, addr)
			}
			return
		}
		if deliver {
			t.readQueue = append(t.readQueue, ReadBuffer{Addr: addr, Payload: append([]byte(nil), pkt.Payload...)})
			if t.mx != nil {
				t.mx.PacketsReceived.WithLabelValues(addr.String()).Inc()
			}
			if wire := p.scheduleAck(pkt.Seq, now); wire != nil {
				t.conn.WriteTo(wire, addr)
			}
		}

	case packetDataAck:
		p.handleDataAck(pkt.Acks, now)

	case packetDataNack:
		retransmits, lost := p.handleDataNack(pkt.Acks, now, t.cfg.ARQ.MaxRetries)
		for _, w := range retransmits {
			t.conn.WriteTo(w, addr)
		}
		if len(lost) > 0 && p.reportRetryExhaustion() {
			t.log.Error("peer declared dead after retry exhaustion", "peer", addr.String(), "cause", errMaxRetriesExceeded)
			t.readQueue = append(t.readQueue, ReadBuffer{Addr: addr, Err: ErrPeerDead})
		}

	case packetClose:
		wire := Encode(Packet{Type: packetCloseAck})
		t.conn.WriteTo(wire, addr)
		t.reg.remove(addr.String())

	case packetCloseAck:
		t.reg.remove(addr.String())
	}
}

// ConnectionStatus reports a peer's current liveness classification.
// An address never seen by this Transport reports StatusDead.
func (t *Transport) ConnectionStatus(addr net.Addr) ConnectionStatus {
	p, ok := t.reg.get(addr)
	if !ok {
		return StatusDead
	}
	return p.status
}

// GetStats returns a peer's connection statistics, if it is known.
func (t *Transport) GetStats(addr net.Addr) (ConnectionStats, bool) {
	p, ok := t.reg.get(addr)
	if !ok {
		return ConnectionStats{}, false
	}
	return p.stats(), true
}

// GetBufferPoolStats returns this Transport's buffer pool accounting.
func (t *Transport) GetBufferPoolStats() PoolStats {
	return t.pool.Stats()
}

// Close sends a close packet to every live peer and blocks, awaiting
// close-acks up to 3 retries spaced by each peer's own RTO, after which
// that peer is torn down regardless (spec.md §5). It then releases
// every remaining peer's in-flight buffers and closes the socket.
// Dropping a Transport without calling Close skips the close packets
// entirely but still must not leak buffers — callers that need that
// path should call releaseAll-equivalent cleanup via Close anyway.
func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	now := time.Now()
	for _, p := range t.reg.all() {
		if p.status == StatusDead {
			continue
		}
		p.closing = true
		p.closeSentAt = now
		t.conn.WriteTo(Encode(Packet{Type: packetClose}), p.addr)
	}

	for t.anyClosing() {
		time.Sleep(10 * time.Millisecond)
		now = time.Now()
		t.drainInbound(now)
		for _, p := range t.reg.all() {
			if !p.closing {
				continue
			}
			for _, out := range t.reg.tickClose(p, now) {
				t.conn.WriteTo(out.data, out.addr)
			}
		}
	}

	t.reg.closeAll()
	t.closed = true
	return t.conn.Close()
}

// anyClosing reports whether any peer is still mid close-handshake.
func (t *Transport) anyClosing() bool {
	for _, p := range t.reg.all() {
		if p.closing {
			return true
		}
	}
	return false
}
