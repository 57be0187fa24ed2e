package rudp

import (
	"net"
	"testing"
	"time"
)

func mustTransport(t *testing.T) *Transport {
	t.Helper()
	tr, err := NewTransport("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func mustTransportWithOpts(t *testing.T, opts ...TransportOption) *Transport {
	t.Helper()
	tr, err := NewTransport("127.0.0.1:0", opts...)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func pumpUntil(t *testing.T, deadline time.Duration, transports []*Transport, cond func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		for _, tr := range transports {
			tr.Tick()
		}
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not satisfied within %v", deadline)
}

func TestTransportHappyPathDeliversPayload(t *testing.T) {
	a := mustTransport(t)
	b := mustTransport(t)

	payload := []byte("integration test payload")
	if err := a.WriteBytes(payload, b.LocalAddr()); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}

	var got ReadBuffer
	pumpUntil(t, 2*time.Second, []*Transport{a, b}, func() bool {
		rb, ok := b.PollRead()
		if ok {
			got = rb
			return true
		}
		return false
	})

	if string(got.Payload) != string(payload) {
		t.Fatalf("payload = %q, want %q", got.Payload, payload)
	}

	// the sender's in-flight entry must clear once the ack round-trips.
	pumpUntil(t, 2*time.Second, []*Transport{a, b}, func() bool {
		stats, ok := a.GetStats(b.LocalAddr())
		return ok && stats.InFlightCount == 0
	})
}

func TestTransportWriteBytesRejectsOversizedPayload(t *testing.T) {
	a := mustTransport(t)
	b := mustTransport(t)

	big := make([]byte, maxPayloadSize+1)
	if err := a.WriteBytes(big, b.LocalAddr()); err != ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestTransportConnectionStatusUnknownPeerIsDead(t *testing.T) {
	a := mustTransport(t)
	other := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	if status := a.ConnectionStatus(other); status != StatusDead {
		t.Fatalf("expected StatusDead for an unknown peer, got %v", status)
	}
}

// TestTransportAckLossTriggersRetransmission covers spec.md §8 scenario
// 2: an ACK is lost, the sender's unacked deadline fires, and it
// retransmits until a later ACK gets through.
func TestTransportAckLossTriggersRetransmission(t *testing.T) {
	cfg := NewConfig()
	cfg.ARQ.InitialRTO = 20 * time.Millisecond
	cfg.ARQ.MinRTO = 20 * time.Millisecond

	a := mustTransportWithOpts(t, WithConfig(cfg))
	dropFirstTwoAcks := dropFirstN(2, func(pkt Packet) bool { return pkt.Type == packetDataAck })
	b := mustTransportWithOpts(t, WithConfig(cfg), WithConnWrapper(func(c net.PacketConn) net.PacketConn {
		return &lossyConn{PacketConn: c, dropOut: dropFirstTwoAcks}
	}))

	payload := []byte("ack loss scenario")
	if err := a.WriteBytes(payload, b.LocalAddr()); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}

	var got ReadBuffer
	pumpUntil(t, 2*time.Second, []*Transport{a, b}, func() bool {
		rb, ok := b.PollRead()
		if ok {
			got = rb
			return true
		}
		return false
	})
	if string(got.Payload) != string(payload) {
		t.Fatalf("payload = %q, want %q", got.Payload, payload)
	}

	pumpUntil(t, 2*time.Second, []*Transport{a, b}, func() bool {
		stats, ok := a.GetStats(b.LocalAddr())
		return ok && stats.InFlightCount == 0
	})

	stats, _ := a.GetStats(b.LocalAddr())
	if stats.Retransmissions == 0 {
		t.Fatalf("expected at least one retransmission once the first acks were dropped, got %+v", stats)
	}
}

// TestTransportDataLossTriggersNackRetransmission covers spec.md §8
// scenario 3: a data packet is lost in flight, the receiver detects the
// gap and NACKs it, and the sender retransmits off the NACK. The
// sender's own deadline-driven retry is pinned far beyond the test
// window so the only path that can possibly deliver seq 1 is the NACK.
func TestTransportDataLossTriggersNackRetransmission(t *testing.T) {
	senderCfg := NewConfig()
	senderCfg.ARQ.InitialRTO = 10 * time.Second
	senderCfg.ARQ.MinRTO = 10 * time.Second
	senderCfg.ARQ.MaxRTO = 10 * time.Second

	receiverCfg := NewConfig()
	receiverCfg.ARQ.InitialRTO = 30 * time.Millisecond
	receiverCfg.ARQ.MinRTO = 30 * time.Millisecond

	dropSeq1Once := dropFirstN(1, func(pkt Packet) bool { return pkt.Type == packetData && pkt.Seq == 1 })
	a := mustTransportWithOpts(t, WithConfig(senderCfg), WithConnWrapper(func(c net.PacketConn) net.PacketConn {
		return &lossyConn{PacketConn: c, dropOut: dropSeq1Once}
	}))
	b := mustTransportWithOpts(t, WithConfig(receiverCfg))

	payloads := [][]byte{[]byte("p0"), []byte("p1"), []byte("p2")}
	for i, payload := range payloads {
		if err := a.WriteBytes(payload, b.LocalAddr()); err != nil {
			t.Fatalf("WriteBytes %d: %v", i, err)
		}
	}

	delivered := make(map[string]bool)
	pumpUntil(t, 3*time.Second, []*Transport{a, b}, func() bool {
		for {
			rb, ok := b.PollRead()
			if !ok {
				break
			}
			delivered[string(rb.Payload)] = true
		}
		return len(delivered) == len(payloads)
	})

	stats, _ := a.GetStats(b.LocalAddr())
	if stats.Retransmissions == 0 {
		t.Fatalf("expected the dropped sequence to come back as a NACK-triggered retransmit, got %+v", stats)
	}
}

// TestTransportDeclaresPeerDeadWhenUnreachable covers spec.md §8
// scenario 4: a target that never answers is eventually declared Dead
// through the idle-ping escalation, not through a socket error — UDP
// gives an unconnected sender no such signal.
func TestTransportDeclaresPeerDeadWhenUnreachable(t *testing.T) {
	cfg := NewConfig()
	cfg.ARQ.IdleTimeout = 5 * time.Millisecond
	cfg.ARQ.InitialRTO = 30 * time.Millisecond
	cfg.ARQ.MinRTO = 30 * time.Millisecond

	a := mustTransportWithOpts(t, WithConfig(cfg))

	gone := mustTransport(t)
	unreachable := gone.LocalAddr()
	gone.Close() // nothing will ever answer at this address again

	if err := a.WriteBytes([]byte("into the void"), unreachable); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}

	end := time.Now().Add(3 * time.Second)
	for time.Now().Before(end) {
		if err := a.Tick(); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		if a.ConnectionStatus(unreachable) == StatusDead {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected peer to be declared dead, got %v", a.ConnectionStatus(unreachable))
}

// TestTransportIdleTriggersPingPongRecovery covers spec.md §8 scenario
// 5: silence past idle_timeout moves a peer to Probing, and a normal
// pong brings it straight back to Alive without ever escalating.
func TestTransportIdleTriggersPingPongRecovery(t *testing.T) {
	cfg := NewConfig()
	cfg.ARQ.IdleTimeout = 20 * time.Millisecond
	cfg.ARQ.InitialRTO = 20 * time.Millisecond
	cfg.ARQ.MinRTO = 20 * time.Millisecond

	a := mustTransportWithOpts(t, WithConfig(cfg))
	b := mustTransportWithOpts(t, WithConfig(cfg))

	if err := a.WriteBytes([]byte("hello"), b.LocalAddr()); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	pumpUntil(t, time.Second, []*Transport{a, b}, func() bool {
		_, ok := b.PollRead()
		return ok
	})

	sawProbing := false
	end := time.Now().Add(2 * time.Second)
	for time.Now().Before(end) {
		a.Tick()
		b.Tick()
		switch a.ConnectionStatus(b.LocalAddr()) {
		case StatusDead:
			t.Fatalf("peer should recover via ping/pong, not be declared dead")
		case StatusProbing:
			sawProbing = true
		case StatusAlive:
			if sawProbing {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	if !sawProbing {
		t.Fatalf("expected the idle timeout to trigger a Probing transition")
	}
	t.Fatalf("peer never returned to Alive after a ping/pong round trip")
}

// TestTransportRejectsIntegrityMismatchedDatagram covers spec.md §8
// scenario 6: a datagram whose integrity code doesn't match its body is
// dropped silently at the wire layer, never reaching PollRead, and
// leaves the socket fully usable for subsequent legitimate traffic.
func TestTransportRejectsIntegrityMismatchedDatagram(t *testing.T) {
	a := mustTransport(t)

	raw, err := net.Dial("udp", a.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer raw.Close()

	garbage := Encode(Packet{Type: packetPing, Ts: 12345})
	garbage[headerSize] ^= 0xFF // corrupt the timestamp body without fixing the integrity code
	if _, err := raw.Write(garbage); err != nil {
		t.Fatalf("Write: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if err := a.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if rb, ok := a.PollRead(); ok {
		t.Fatalf("expected the corrupted datagram to be dropped silently, got %+v", rb)
	}

	b := mustTransport(t)
	if err := a.WriteBytes([]byte("still alive"), b.LocalAddr()); err != nil {
		t.Fatalf("WriteBytes after corrupted datagram: %v", err)
	}
}

func TestTransportBufferPoolStatsTrackAcquisitions(t *testing.T) {
	a := mustTransport(t)
	before := a.GetBufferPoolStats()

	buf, err := a.AcquireBuffer()
	if err != nil {
		t.Fatalf("AcquireBuffer: %v", err)
	}
	buf.Release()

	after := a.GetBufferPoolStats()
	if after.TotalAcquisitions != before.TotalAcquisitions+1 {
		t.Fatalf("expected one more acquisition recorded")
	}
}
