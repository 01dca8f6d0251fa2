// Package message implements the signed, hashed, proof-of-worked message
// that forms the tangle's nodes, grounded on
// original_source/tcoin/tangle/messages/message.py.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tcoin-network/tcoind/params"
	"github.com/tcoin-network/tcoind/pow"
	"github.com/tcoin-network/tcoind/wallet"
)

// LinkKind distinguishes a strong parent reference (the child endorses the
// parent's subgraph) from a weak one (used when the parent is unknown or
// part of an invalid subgraph).
type LinkKind int

const (
	LinkStrong LinkKind = 0
	LinkWeak   LinkKind = 1
)

// Parents maps a parent message hash to the kind of link it is approved by.
type Parents map[string]LinkKind

// ID identifies a message by its issuer and issuer-local index, the key
// conflicting messages collide on.
type ID struct {
	NodeID string
	Index  int
}

// Message is an immutable-once-signed record: a typed payload, parent
// edges, proof-of-work, and a signature by its issuer.
type Message struct {
	Signed

	NodeID    string  `json:"node_id"`
	Value     string  `json:"value"`
	Payload   Payload `json:"payload"`
	Index     int     `json:"index"`
	Parents   Parents `json:"parents"`
	Timestamp int64   `json:"timestamp"`
	Nonce     uint64  `json:"nonce"`
}

// jsonMessage mirrors Message's wire shape for two-stage decoding: the
// payload's concrete type depends on Value, so it is decoded once Value is
// known.
type jsonMessage struct {
	NodeID    string          `json:"node_id"`
	Value     string          `json:"value"`
	Payload   json.RawMessage `json:"payload"`
	Index     int             `json:"index"`
	Parents   Parents         `json:"parents"`
	Timestamp int64           `json:"timestamp"`
	Nonce     uint64          `json:"nonce"`
	Hash      string          `json:"hash"`
	Signature string          `json:"signature"`
}

// MarshalJSON implements json.Marshaler.
func (m *Message) MarshalJSON() ([]byte, error) {
	payloadBytes, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(jsonMessage{
		NodeID:    m.NodeID,
		Value:     m.Value,
		Payload:   payloadBytes,
		Index:     m.Index,
		Parents:   m.Parents,
		Timestamp: m.Timestamp,
		Nonce:     m.Nonce,
		Hash:      m.Hash,
		Signature: m.Signature,
	})
}

// UnmarshalJSON implements json.Unmarshaler, dispatching the payload decode
// on the Value discriminator field.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw jsonMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	payload, ok := decodePayload(raw.Value, raw.Payload)
	if !ok {
		return fmt.Errorf("unknown or malformed payload kind %q", raw.Value)
	}

	*m = Message{
		Signed:    Signed{Hash: raw.Hash, Signature: raw.Signature},
		NodeID:    raw.NodeID,
		Value:     raw.Value,
		Payload:   payload,
		Index:     raw.Index,
		Parents:   raw.Parents,
		Timestamp: raw.Timestamp,
		Nonce:     raw.Nonce,
	}
	return nil
}

// Address is the message's issuer address.
func (m *Message) Address() string {
	return m.NodeID
}

// RawData is the deterministic string hashed (with the nonce appended) to
// produce the message's hash, matching the field order of
// SignedPayload.meta_data / Message.meta_data in the Python source:
// node_id, value, payload, timestamp, parents, index.
func (m *Message) RawData() string {
	return fmt.Sprintf("%s%s%s%d%s%d",
		m.NodeID, m.Value, m.Payload.CanonicalString(), m.Timestamp,
		canonicalParents(m.Parents), m.Index)
}

func canonicalParents(parents Parents) string {
	// fmt sorts map keys lexicographically since Go 1.12, giving a
	// deterministic rendering without needing to hand-roll sorting here.
	return fmt.Sprint(map[string]LinkKind(parents))
}

// SelectParents assigns parents by asking the tangle for tip selection.
func (m *Message) SelectParents(tips map[string]LinkKind) {
	m.Parents = Parents(tips)
}

// DoWork searches for a nonce/hash pair satisfying the tangle's difficulty
// for this message.
func (m *Message) DoWork(difficulty int) bool {
	hash, nonce, ok := pow.Search(m.RawData(), difficulty)
	if !ok {
		return false
	}
	m.Hash = hash
	m.Nonce = nonce
	return true
}

// Sign signs the message's hash with w.
func (m *Message) Sign(w *wallet.Wallet) {
	m.Signed.Sign(w)
}

// IsSemanticallyValid performs local checks that require no tangle access:
// size, field shape, genesis shortcut, PoW hash match, signature, and
// parent-count bounds. Grounded on Message.is_sem_valid.
func (m *Message) IsSemanticallyValid() bool {
	if approxSize(m) > params.MaxMessageSize {
		return false
	}

	if m.Hash == GenesisHash {
		return m.NodeID == genesisMessageRaw.NodeID &&
			m.Value == genesisMessageRaw.Value &&
			m.Timestamp == genesisMessageRaw.Timestamp
	}

	if m.Timestamp < GenesisTimestamp {
		return false
	}

	if pow.Hash(m.RawData(), m.Nonce) != m.Hash {
		return false
	}

	if !m.IsSignatureValidFor(m.NodeID) {
		return false
	}

	strongCount := 0
	for _, kind := range m.Parents {
		if kind == LinkStrong {
			strongCount++
		}
	}
	if strongCount < params.MinStrongParents {
		return false
	}

	if len(m.Parents) > params.MaxParents {
		return false
	}

	if !m.Payload.IsWellFormed(m.NodeID) {
		return false
	}

	return true
}

// approxSize is a cheap stand-in for the deep-object-size check the Python
// source performs with objsize.get_deep_size: the serialized JSON length is
// a faithful upper bound for a flat, JSON-serialized wire message.
func approxSize(m *Message) int {
	encoded, err := json.Marshal(m)
	if err != nil {
		return params.MaxMessageSize + 1
	}
	return len(encoded)
}

// ParentAnalysis classifies this message's parents for IsValid: hashes
// known to be invalid, and hashes whose validity is not yet known.
type ParentAnalysis struct {
	InvalidParents []string
	UnknownParents []string
}

// Empty reports whether both parent sets are empty, i.e. every parent was
// classified as known-and-valid.
func (a *ParentAnalysis) Empty() bool {
	return a != nil && len(a.InvalidParents) == 0 && len(a.UnknownParents) == 0
}

// IsValid checks proof-of-work against the tangle's current difficulty for
// this message and recursively analyses parents to the given depth,
// grounded on Message.is_valid / analyze_parents.
//
// Returns (true, nil) when fully valid, (false, nil) when outright invalid
// (bad PoW), and (false, analysis) when validity hinges on parents that are
// known-invalid or not yet known.
func (m *Message) IsValid(view TangleView, depth int) (bool, *ParentAnalysis) {
	depth--

	target := pow.Target(view.Difficulty(m))
	if !pow.IsValidHash(m.Hash, target) {
		return false, nil
	}

	analysis := &ParentAnalysis{}

	if depth != 0 {
		a := m.analyzeParents(view, depth)
		analysis.InvalidParents = append(analysis.InvalidParents, a.InvalidParents...)
		analysis.UnknownParents = append(analysis.UnknownParents, a.UnknownParents...)
	}

	if !analysis.Empty() {
		return false, analysis
	}

	return true, nil
}

func (m *Message) analyzeParents(view TangleView, depth int) *ParentAnalysis {
	result := &ParentAnalysis{}

	seenInvalid := map[string]bool{}
	seenUnknown := map[string]bool{}
	addInvalid := func(h string) {
		if !seenInvalid[h] {
			seenInvalid[h] = true
			result.InvalidParents = append(result.InvalidParents, h)
		}
	}
	addUnknown := func(h string) {
		if !seenUnknown[h] {
			seenUnknown[h] = true
			result.UnknownParents = append(result.UnknownParents, h)
		}
	}

	for parentHash, kind := range m.Parents {
		parentMsg, known := view.GetMessage(parentHash)

		if kind == LinkWeak {
			if known {
				// A weak link must point at a message absent from the
				// tangle; a known weak parent is a contradiction.
				addInvalid(parentHash)
			}
			continue
		}

		if view.InInvalidPool(parentHash) {
			addInvalid(parentHash)
			continue
		}

		if !known {
			addUnknown(parentHash)
			continue
		}

		if parentHash != GenesisHash {
			age := m.Timestamp - parentMsg.Timestamp
			if age < 0 || age > int64(params.MaxParentAge/time.Second) {
				addInvalid(parentHash)
				continue
			}
		}

		ok, sub := parentMsg.IsValid(view, depth)
		if !ok && sub == nil {
			addInvalid(parentHash)
			continue
		}
		if sub != nil {
			result.InvalidParents = append(result.InvalidParents, sub.InvalidParents...)
			result.UnknownParents = append(result.UnknownParents, sub.UnknownParents...)
		}
	}

	return result
}

// IsPayloadValid checks payload-specific semantic constraints against
// current tangle state (balance, index), grounded on
// Transaction.is_payload_valid.
func (m *Message) IsPayloadValid(view TangleView) bool {
	return m.Payload.IsSemanticallyValid(m.NodeID, m.Index, view)
}

// ApplyState applies (add=true) or reverts (add=false) this message's
// effect on ledger, grounded on Message.update_state.
func (m *Message) ApplyState(ledger Ledger, add bool) {
	m.Payload.ApplyState(m.NodeID, ledger, add)
}

// ApprovalWeight is the weight this single message contributes towards
// finality: 1 per direct message until empirically tuned (see
// DESIGN.md).
func (m *Message) ApprovalWeight() int {
	return 1
}
