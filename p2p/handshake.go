package p2p

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/tcoin-network/tcoind/wallet"
)

// handshakeChallengeLen is the byte length of the random challenge each
// side signs, producing a 32-character hex string.
const handshakeChallengeLen = 16

// performHandshake runs the signed-challenge exchange: a deliberate
// hardening of node.py's bare id exchange (sock.send(self.id.encode())),
// which trusted whatever address a peer claimed. Each side sends
// "<address>:<challenge>", then a signature
// over the other side's challenge, and only accepts the connection once
// the peer's signature verifies against the address it claimed.
//
// Both sides run this same sequence concurrently; since each message fits
// well within a single TCP segment, the write-then-read ordering does not
// deadlock.
func (n *Node) performHandshake(conn net.Conn) (*Connection, error) {
	reader := bufio.NewReader(conn)
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	myChallenge, err := randomHex(handshakeChallengeLen)
	if err != nil {
		return nil, err
	}

	if _, err := fmt.Fprintf(conn, "%s:%s\n", n.wallet.Address(), myChallenge); err != nil {
		return nil, err
	}

	theirLine, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	peerAddr, peerChallenge, err := parseHandshakeLine(theirLine)
	if err != nil {
		return nil, err
	}

	if _, err := fmt.Fprintf(conn, "%s\n", n.wallet.Sign(peerChallenge)); err != nil {
		return nil, err
	}

	theirSigLine, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	theirSignature := strings.TrimSpace(theirSigLine)

	if !wallet.IsSignatureValid(peerAddr, theirSignature, myChallenge) {
		return nil, fmt.Errorf("handshake signature from %s does not verify", peerAddr)
	}

	return &Connection{conn: conn, reader: reader, id: peerAddr, node: n}, nil
}

func parseHandshakeLine(line string) (address, challenge string, err error) {
	line = strings.TrimSpace(line)
	idx := strings.LastIndex(line, ":")
	if idx <= 0 || idx == len(line)-1 {
		return "", "", fmt.Errorf("malformed handshake line %q", line)
	}
	return line[:idx], line[idx+1:], nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

const handshakeTimeout = 10 * time.Second
