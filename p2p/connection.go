package p2p

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/tcoin-network/tcoind/logs"
	"github.com/tcoin-network/tcoind/params"
)

// Connection is one peer socket, read by its own goroutine and written to
// through Send by any goroutine (without the Node's peer-table lock held),
// grounded on
// original_source/tcoin/p2p/nodes/node_connection.py: NodeConnection.
type Connection struct {
	conn     net.Conn
	reader   *bufio.Reader
	id       string
	host     string
	port     int
	outbound bool
	node     *Node
}

// Send encodes v as a frame and writes it, closing the connection if the
// write fails.
func (c *Connection) Send(v interface{}) {
	frame, err := EncodeFrame(v)
	if err != nil {
		logs.P2P.Warnf("failed to encode frame for %s: %v", c.id, err)
		return
	}

	c.conn.SetWriteDeadline(time.Now().Add(params.ConnectionReadTimeout))
	if _, err := c.conn.Write(frame); err != nil {
		logs.P2P.Debugf("write to %s failed, closing connection: %v", c.id, err)
		c.Close()
	}
}

// Close tears down the socket and removes c from the node's peer tables.
func (c *Connection) Close() {
	c.conn.Close()
	c.node.disconnected(c)
}

// Run reads EOT-delimited frames off the socket until ctx is cancelled or
// the peer disconnects, grounded on NodeConnection.run's buffer-scanning
// loop, translated from its polling sleep into a read-deadline/ctx check.
func (c *Connection) Run(ctx context.Context) {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(params.ConnectionReadTimeout))
		frame, err := c.reader.ReadBytes(eotByte)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			logs.P2P.Debugf("connection to %s closed: %v", c.id, err)
			return
		}

		c.node.handleFrame(c, frame[:len(frame)-1])
	}
}
