package rudp

import "net"

// lossyConn wraps a real, bound net.PacketConn and lets a test drop
// datagrams matching a predicate in either direction. It exists so the
// socket-level scenario tests in transport_test.go exercise packet loss
// against a genuine loopback connection rather than a faked transport
// layer.
type lossyConn struct {
	net.PacketConn
	dropOut func(Packet) bool // applied to every outgoing WriteTo
	dropIn  func(Packet) bool // applied to every incoming ReadFrom
}

func (c *lossyConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	if c.dropOut != nil {
		if pkt, err := Decode(b); err == nil && c.dropOut(pkt) {
			return len(b), nil
		}
	}
	return c.PacketConn.WriteTo(b, addr)
}

func (c *lossyConn) ReadFrom(b []byte) (int, net.Addr, error) {
	for {
		n, addr, err := c.PacketConn.ReadFrom(b)
		if err != nil {
			return n, addr, err
		}
		if c.dropIn != nil {
			if pkt, derr := Decode(b[:n]); derr == nil && c.dropIn(pkt) {
				continue
			}
		}
		return n, addr, nil
	}
}

// dropFirstN builds a lossyConn predicate that drops only the first n
// datagrams matching match, letting every later one through — enough to
// force exactly one retransmission cycle without losing a stream
// permanently.
func dropFirstN(n int, match func(Packet) bool) func(Packet) bool {
	count := 0
	return func(pkt Packet) bool {
		if !match(pkt) || count >= n {
			return false
		}
		count++
		return true
	}
}
