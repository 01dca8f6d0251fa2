package p2p

import (
	"net"
	"testing"
	"time"

	"github.com/tcoin-network/tcoind/tangle"
	"github.com/tcoin-network/tcoind/wallet"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	return New(wallet.New(), tangle.New(), "127.0.0.1", 0, 0, "")
}

// tcpPair returns both ends of a loopback TCP connection. performHandshake
// writes before it reads on both sides, which needs the socket buffering
// that an unbuffered net.Pipe does not provide.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	a, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	b, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	return a, b
}

func TestPerformHandshakeSucceedsBothSides(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	connA, connB := tcpPair(t)
	defer connA.Close()
	defer connB.Close()

	type result struct {
		conn *Connection
		err  error
	}
	resA := make(chan result, 1)
	resB := make(chan result, 1)

	go func() {
		c, err := a.performHandshake(connA)
		resA <- result{c, err}
	}()
	go func() {
		c, err := b.performHandshake(connB)
		resB <- result{c, err}
	}()

	ra := <-resA
	rb := <-resB

	if ra.err != nil {
		t.Fatalf("a.performHandshake: %v", ra.err)
	}
	if rb.err != nil {
		t.Fatalf("b.performHandshake: %v", rb.err)
	}

	if ra.conn.id != b.wallet.Address() {
		t.Fatalf("a learned id %q, want %q", ra.conn.id, b.wallet.Address())
	}
	if rb.conn.id != a.wallet.Address() {
		t.Fatalf("b learned id %q, want %q", rb.conn.id, a.wallet.Address())
	}
}

func TestPerformHandshakeRejectsForgedAddress(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	connA, connB := net.Pipe()

	done := make(chan error, 1)
	go func() {
		_, err := a.performHandshake(connA)
		done <- err
	}()

	// b impersonates some other address but signs with its own key; the
	// signature cannot verify against the claimed address.
	go func() {
		conn := connB
		conn.SetDeadline(time.Now().Add(2 * time.Second))

		buf := make([]byte, 256)
		nBytes, _ := conn.Read(buf)
		_ = buf[:nBytes]

		conn.Write([]byte("Tforged-address:0123456789abcdef0123456789abcdef\n"))

		sigBuf := make([]byte, 256)
		conn.Read(sigBuf)

		conn.Write([]byte(b.wallet.Sign("wrong-challenge") + "\n"))
	}()

	if err := <-done; err == nil {
		t.Fatalf("expected handshake to fail against a forged address")
	}
}
