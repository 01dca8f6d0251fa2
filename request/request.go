// Package request implements the signed request/response envelope peers
// exchange over the wire, grounded on
// original_source/tcoin/p2p/requests/request.py.
package request

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tcoin-network/tcoind/params"
	"github.com/tcoin-network/tcoind/pow"
	"github.com/tcoin-network/tcoind/wallet"
)

// Kind discriminates the defined request types.
type Kind string

const (
	KindDiscoverPeers Kind = "discover-peers"
	KindGetMsgs       Kind = "get-msgs"
)

// PeerAddr is a (host, port) pair as exchanged in peer-discovery responses.
type PeerAddr struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Envelope is the wire shape of a request: issued by NodeID, identified by
// Hash/Signature over its own raw content, optionally carrying a filled-in
// Response once a peer has answered it.
type Envelope struct {
	NodeID    string          `json:"node_id"`
	Value     Kind            `json:"value"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
	Hash      string          `json:"hash"`
	Signature string          `json:"signature"`
	Response  json.RawMessage `json:"response"`
}

func newEnvelope(nodeID string, kind Kind, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		NodeID:    nodeID,
		Value:     kind,
		Payload:   raw,
		Timestamp: time.Now().Unix(),
	}, nil
}

// RawData is the deterministic string hashed to produce Hash, mirroring
// SignedPayload.get_raw_data / meta_data: node_id, value, payload,
// timestamp.
func (e *Envelope) RawData() string {
	return fmt.Sprintf("%s%s%s%d", e.NodeID, e.Value, e.Payload, e.Timestamp)
}

// AddHash computes and stores Hash from the envelope's current content.
func (e *Envelope) AddHash() {
	e.Hash = pow.RawHash(e.RawData())
}

// Sign signs the envelope's hash with w.
func (e *Envelope) Sign(w *wallet.Wallet) {
	e.Signature = w.Sign(e.Hash)
}

// IsValid checks the envelope's size, hash integrity, and signature,
// grounded on Request.is_valid.
func (e *Envelope) IsValid() bool {
	encoded, err := json.Marshal(e)
	if err != nil || len(encoded) > params.MaxRequestSize {
		return false
	}

	if e.Hash != pow.RawHash(e.RawData()) {
		return false
	}

	return wallet.IsSignatureValid(e.NodeID, e.Signature, e.Hash)
}

// New builds and signs a request envelope of the given kind.
func New(w *wallet.Wallet, kind Kind, payload interface{}) (*Envelope, error) {
	env, err := newEnvelope(w.Address(), kind, payload)
	if err != nil {
		return nil, err
	}
	env.AddHash()
	env.Sign(w)
	return env, nil
}
