// Package p2p implements the gossip peer runtime: framed connections,
// the signed-challenge handshake, message propagation, and the
// request/response dispatch layer, grounded on
// original_source/tcoin/p2p/nodes/node.py: Node.
package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/tcoin-network/tcoind/logs"
	"github.com/tcoin-network/tcoind/params"
	"github.com/tcoin-network/tcoind/request"
	"github.com/tcoin-network/tcoind/scheduler"
	"github.com/tcoin-network/tcoind/tangle"
	"github.com/tcoin-network/tcoind/tangle/message"
	"github.com/tcoin-network/tcoind/wallet"
)

// maxValidationDepth bounds the recursive parent walk IsValid performs,
// the Go analogue of the Python source's implicit recursion limit.
const maxValidationDepth = 64

// Node is one gossip peer: it owns a tangle, a wallet identity, a
// scheduler, and the inbound/outbound connection tables that peers are
// propagated across. Grounded on node.py: Node.
type Node struct {
	wallet   *wallet.Wallet
	tangle   *tangle.Tangle
	sched    *scheduler.Scheduler
	host     string
	port     int
	maxConns int

	knownPeersPath string

	mu         sync.Mutex
	listener   net.Listener
	inbound    map[string]*Connection
	outbound   map[string]*Connection
	otherPeers map[string]request.PeerAddr
	callbacks  map[string]func(responder *Connection, response json.RawMessage)

	ctx context.Context
}

// New constructs a node bound to host:port, backed by tn and w, scheduling
// admission through a fresh Scheduler ticking at
// params.DefaultSchedulingRate. maxConns of 0 means unlimited.
func New(w *wallet.Wallet, tn *tangle.Tangle, host string, port int, maxConns int, knownPeersPath string) *Node {
	n := &Node{
		wallet:         w,
		tangle:         tn,
		host:           host,
		port:           port,
		maxConns:       maxConns,
		knownPeersPath: knownPeersPath,
		inbound:        map[string]*Connection{},
		outbound:       map[string]*Connection{},
		otherPeers:     map[string]request.PeerAddr{},
		callbacks:      map[string]func(*Connection, json.RawMessage){},
	}
	n.sched = scheduler.New(n, n, n, n.tangle.AllTips)
	return n
}

// Balance implements scheduler.Reputation: a peer's reputation is its
// current tangle balance (see DESIGN.md).
func (n *Node) Balance(address string) int64 {
	return n.tangle.GetBalance(address)
}

// Start begins listening for inbound connections and runs the scheduler,
// both cancelled by ctx.
func (n *Node) Start(ctx context.Context) error {
	n.ctx = ctx

	listener, err := net.Listen("tcp", net.JoinHostPort(n.host, strconv.Itoa(n.port)))
	if err != nil {
		return fmt.Errorf("failed to listen on %s:%d: %w", n.host, n.port, err)
	}
	n.listener = listener

	go n.acceptLoop(ctx)
	go n.sched.Run(ctx)

	go func() {
		<-ctx.Done()
		n.listener.Close()
	}()

	logs.P2P.Infof("listening on %s:%d as %s", n.host, n.port, n.wallet.Address())
	return nil
}

// SubmitLocalMessage queues a locally-created message for admission and
// immediately floods it to every connected peer, mirroring how a gossip
// node treats its own freshly-issued messages the same as one it just
// received.
func (n *Node) SubmitLocalMessage(m *message.Message) {
	n.sched.QueueMessage(m)
	n.Broadcast(m, nil)
}

func (n *Node) acceptLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if tcpListener, ok := n.listener.(*net.TCPListener); ok {
			tcpListener.SetDeadline(time.Now().Add(params.ConnectionReadTimeout))
		}

		conn, err := n.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		n.mu.Lock()
		full := n.maxConns != 0 && len(n.inbound) >= n.maxConns
		n.mu.Unlock()
		if full {
			conn.Close()
			continue
		}

		go n.acceptConnection(ctx, conn)
	}
}

func (n *Node) acceptConnection(ctx context.Context, conn net.Conn) {
	c, err := n.performHandshake(conn)
	if err != nil {
		logs.P2P.Debugf("inbound handshake failed: %v", err)
		conn.Close()
		return
	}

	host, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err == nil {
		c.host = host
		c.port, _ = strconv.Atoi(portStr)
	}
	c.outbound = false

	n.mu.Lock()
	n.inbound[c.id] = c
	n.mu.Unlock()

	logs.P2P.Debugf("accepted connection from %s (%s:%d)", c.id, c.host, c.port)
	c.Run(ctx)
}

// Connect dials host:port, completes the handshake, and issues a
// DiscoverPeers request, grounded on node.py: connect_to_node.
func (n *Node) Connect(host string, port int) error {
	if host == n.host && port == n.port {
		return fmt.Errorf("refusing to connect to self")
	}

	conn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}

	c, err := n.performHandshake(conn)
	if err != nil {
		conn.Close()
		return err
	}
	c.host, c.port, c.outbound = host, port, true

	n.mu.Lock()
	n.outbound[c.id] = c
	n.mu.Unlock()

	go c.Run(n.ctx)

	env, err := request.New(n.wallet, request.KindDiscoverPeers, struct{}{})
	if err != nil {
		return err
	}
	c.Send(env)

	logs.P2P.Infof("connected to %s (%s:%d)", c.id, host, port)
	return nil
}

// ConnectToKnownPeers dials up to limit peers loaded from the node's
// known-peers file, grounded on node.py: connect_to_known_nodes.
func (n *Node) ConnectToKnownPeers(limit int) {
	peers, err := LoadKnownPeers(n.knownPeersPath)
	if err != nil {
		logs.P2P.Warnf("failed to load known peers: %v", err)
		return
	}

	tried := 0
	for id, addr := range peers {
		if tried >= limit {
			return
		}
		tried++
		if err := n.Connect(addr.Host, addr.Port); err != nil {
			logs.P2P.Debugf("failed to connect to known peer %s: %v", id, err)
		}
	}
}

// SaveKnownPeers persists every currently-known peer address (connected or
// merely discovered) to the node's known-peers file, grounded on node.py:
// save_all_nodes.
func (n *Node) SaveKnownPeers() error {
	all := n.OutboundPeers()
	for id, addr := range n.OtherPeers() {
		all[id] = addr
	}
	for id, addr := range n.inboundPeers() {
		all[id] = addr
	}
	return SaveKnownPeers(n.knownPeersPath, all)
}

func (n *Node) inboundPeers() map[string]request.PeerAddr {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]request.PeerAddr, len(n.inbound))
	for id, c := range n.inbound {
		out[id] = request.PeerAddr{Host: c.host, Port: c.port}
	}
	return out
}

func (n *Node) disconnected(c *Connection) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c.outbound {
		delete(n.outbound, c.id)
	} else {
		delete(n.inbound, c.id)
	}
}

// Broadcast sends v to every connected peer except exclude (pass nil to
// exclude no one), grounded on node.py: send_to_nodes.
func (n *Node) Broadcast(v interface{}, exclude *Connection) {
	n.mu.Lock()
	conns := make([]*Connection, 0, len(n.inbound)+len(n.outbound))
	for _, c := range n.inbound {
		conns = append(conns, c)
	}
	for _, c := range n.outbound {
		conns = append(conns, c)
	}
	n.mu.Unlock()

	for _, c := range conns {
		if c == exclude {
			continue
		}
		c.Send(v)
	}
}

// OutboundPeers implements request.PeerSource.
func (n *Node) OutboundPeers() map[string]request.PeerAddr {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]request.PeerAddr, len(n.outbound))
	for id, c := range n.outbound {
		out[id] = request.PeerAddr{Host: c.host, Port: c.port}
	}
	return out
}

// OtherPeers implements request.PeerSource.
func (n *Node) OtherPeers() map[string]request.PeerAddr {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]request.PeerAddr, len(n.otherPeers))
	for id, addr := range n.otherPeers {
		out[id] = addr
	}
	return out
}

// LearnPeer implements request.PeerSource.
func (n *Node) LearnPeer(id string, addr request.PeerAddr) {
	if id == n.wallet.Address() {
		return
	}
	n.mu.Lock()
	n.otherPeers[id] = addr
	n.mu.Unlock()
}

// RequestMsgs implements scheduler.Requester: it issues a GetMsgs request
// broadcast to every peer and, when initial is non-nil, registers a
// callback to feed the response back into the scheduler's pending-vote
// tally once a peer answers.
func (n *Node) RequestMsgs(initial *message.Message, hashes []string, history bool) {
	payload, err := request.NewGetMsgsPayload(initial, hashes, history)
	if err != nil {
		logs.P2P.Warnf("failed to build get-msgs payload: %v", err)
		return
	}

	env, err := request.New(n.wallet, request.KindGetMsgs, payload)
	if err != nil {
		logs.P2P.Warnf("failed to build get-msgs request: %v", err)
		return
	}

	if initial != nil {
		n.mu.Lock()
		n.callbacks[env.Hash] = func(responder *Connection, response json.RawMessage) {
			if err := request.ReceiveGetMsgs(n.sched, responder.id, payload, response); err != nil {
				logs.P2P.Debugf("failed to process get-msgs response from %s: %v", responder.id, err)
			}
		}
		n.mu.Unlock()
	}

	n.Broadcast(env, nil)
}

// handleFrame decodes an incoming frame as either a Message or a Request
// envelope by sniffing its "value" discriminator, grounded on node.py:
// message_from_node's dispatch between create_message and create_request.
func (n *Node) handleFrame(c *Connection, frame []byte) {
	var sniff struct {
		Value string `json:"value"`
	}
	if err := DecodeFrame(frame, &sniff); err != nil {
		logs.P2P.Debugf("malformed frame from %s: %v", c.id, err)
		return
	}

	switch request.Kind(sniff.Value) {
	case request.KindDiscoverPeers, request.KindGetMsgs:
		var env request.Envelope
		if err := DecodeFrame(frame, &env); err != nil {
			logs.P2P.Debugf("malformed request from %s: %v", c.id, err)
			return
		}
		n.handleRequest(c, &env)
	default:
		var m message.Message
		if err := DecodeFrame(frame, &m); err != nil {
			logs.P2P.Debugf("malformed message from %s: %v", c.id, err)
			return
		}
		n.handleMessage(c, &m, true)
	}
}

// handleMessage performs the cheap, tangle-independent semantic check,
// dedupes against what the tangle already knows, then hands the message to
// the scheduler for ordered admission and floods it onward, grounded on
// node.py: handle_new_message.
func (n *Node) handleMessage(c *Connection, m *message.Message, propagate bool) {
	if !m.IsSemanticallyValid() {
		n.tangle.AddInvalidMessage(m.Hash)
		return
	}

	if _, known := n.tangle.GetMessage(m.Hash); known {
		return
	}

	n.sched.QueueMessage(m)

	if propagate {
		n.Broadcast(m, c)
	}
}

// handleRequest dispatches an incoming request envelope: if unanswered, it
// responds and sends the answer back; if answered and addressed to us, it
// feeds the response to DiscoverPeers or the registered GetMsgs callback.
// Grounded on node.py: handle_new_request.
func (n *Node) handleRequest(c *Connection, env *request.Envelope) {
	if !env.IsValid() {
		logs.P2P.Debugf("invalid request from %s", c.id)
		return
	}

	if env.Response == nil {
		n.respondToRequest(c, env)
		return
	}

	if env.NodeID != n.wallet.Address() {
		// A response addressed to someone else reached us via flood;
		// nothing to do.
		return
	}

	switch env.Value {
	case request.KindDiscoverPeers:
		if err := request.ReceiveDiscoverPeers(n, env.Response); err != nil {
			logs.P2P.Debugf("failed to process discover-peers response: %v", err)
		}
	case request.KindGetMsgs:
		n.mu.Lock()
		cb, ok := n.callbacks[env.Hash]
		if ok {
			delete(n.callbacks, env.Hash)
		}
		n.mu.Unlock()
		if ok {
			cb(c, env.Response)
		}
	}
}

func (n *Node) respondToRequest(c *Connection, env *request.Envelope) {
	var response json.RawMessage
	var err error

	switch env.Value {
	case request.KindDiscoverPeers:
		response, err = request.RespondDiscoverPeers(n, env.NodeID)
	case request.KindGetMsgs:
		var payload request.GetMsgsPayload
		if jsonErr := json.Unmarshal(env.Payload, &payload); jsonErr != nil {
			return
		}
		response, err = request.RespondGetMsgs(n.tangle, payload)
	default:
		return
	}
	if err != nil {
		logs.P2P.Debugf("failed to answer %s request from %s: %v", env.Value, c.id, err)
		return
	}

	env.Response = response
	c.Send(env)
}

// AdmitMessage implements scheduler.Admitter: the full tangle-aware
// validity check (proof-of-work against current difficulty, recursive
// parent analysis, payload semantics) and insertion, grounded on node.py:
// handle_new_message's remainder once parents are resolved.
func (n *Node) AdmitMessage(m *message.Message) scheduler.AdmitResult {
	ok, analysis := m.IsValid(n.tangle, maxValidationDepth)
	if !ok && analysis == nil {
		n.tangle.AddInvalidMessage(m.Hash)
		return scheduler.AdmitResult{Accepted: false}
	}

	var invalidParents []string
	if analysis != nil {
		invalidParents = analysis.InvalidParents
		if len(invalidParents) == 0 && len(analysis.UnknownParents) > 0 {
			return scheduler.AdmitResult{Accepted: false, UnknownParents: analysis.UnknownParents}
		}
	}

	if _, known := n.tangle.GetMessage(m.Hash); known {
		return scheduler.AdmitResult{Accepted: true}
	}

	if !m.IsPayloadValid(n.tangle) {
		n.tangle.AddInvalidMessage(m.Hash)
		return scheduler.AdmitResult{Accepted: false}
	}

	n.tangle.AddMessage(m, invalidParents)
	return scheduler.AdmitResult{Accepted: true}
}

// SyncTangle is a no-op extension point, grounded on node.py: sync_tangle,
// which the original leaves empty for a subclass to fill in with a
// catch-up strategy beyond ordinary gossip propagation.
func (n *Node) SyncTangle() {}

// Stop closes the listener; connection goroutines exit on their own once
// the Start context is cancelled.
func (n *Node) Stop() error {
	if n.listener == nil {
		return nil
	}
	return n.listener.Close()
}
