package message

import (
	"testing"

	"github.com/tcoin-network/tcoind/pow"
	"github.com/tcoin-network/tcoind/wallet"
)

func newSignedTransaction(t *testing.T, w *wallet.Wallet, receiver string, amt int64, index int, parents Parents, difficulty int) *Message {
	t.Helper()

	m := &Message{
		NodeID:    w.Address(),
		Value:     TransactionKind,
		Payload:   NewTransactionPayload(receiver, amt),
		Index:     index,
		Parents:   parents,
		Timestamp: GenesisTimestamp + 100,
	}

	if !m.DoWork(difficulty) {
		t.Fatalf("failed to find proof of work")
	}

	m.Sign(w)

	return m
}

func TestHashDeterminism(t *testing.T) {
	w := wallet.New()
	parents := Parents{GenesisHash: LinkStrong}

	m1 := newSignedTransaction(t, w, "Treceiver", 10, 0, parents, 8)
	raw := m1.RawData()

	m2 := &Message{
		NodeID: m1.NodeID, Value: m1.Value, Payload: m1.Payload,
		Index: m1.Index, Parents: m1.Parents, Timestamp: m1.Timestamp, Nonce: m1.Nonce,
	}

	if m2.RawData() != raw {
		t.Fatalf("re-deriving raw data from the same fields produced a different string")
	}

	m2.Hash, _, _ = hashOnly(m2)
	if m2.Hash != m1.Hash {
		t.Fatalf("expected identical hash for identical fields, got %s vs %s", m2.Hash, m1.Hash)
	}

	m3 := *m1
	tx := *m1.Payload.(*TransactionPayload)
	tx.Amount++
	m3.Payload = &tx
	if m3.RawData() == raw {
		t.Fatalf("expected mutating the payload to change the raw data")
	}
}

func hashOnly(m *Message) (string, uint64, bool) {
	return pow.Hash(m.RawData(), m.Nonce), m.Nonce, true
}

func TestIsSemanticallyValidRequiresSignature(t *testing.T) {
	w := wallet.New()
	m := newSignedTransaction(t, w, "Treceiver", 10, 0, Parents{GenesisHash: LinkStrong}, 8)

	if !m.IsSemanticallyValid() {
		t.Fatalf("expected a freshly signed, worked message to be semantically valid")
	}

	m.Signature = "00"
	if m.IsSemanticallyValid() {
		t.Fatalf("expected a tampered signature to fail semantic validation")
	}
}

func TestIsSemanticallyValidRejectsSelfSend(t *testing.T) {
	w := wallet.New()
	m := newSignedTransaction(t, w, w.Address(), 10, 0, Parents{GenesisHash: LinkStrong}, 8)

	if m.IsSemanticallyValid() {
		t.Fatalf("expected sending to yourself to be rejected")
	}
}

func TestIsSemanticallyValidRejectsTooFewStrongParents(t *testing.T) {
	w := wallet.New()
	m := newSignedTransaction(t, w, "Treceiver", 10, 0, Parents{GenesisHash: LinkWeak}, 8)

	if m.IsSemanticallyValid() {
		t.Fatalf("expected a message with zero strong parents to be rejected")
	}
}

func TestGenesisIsSemanticallyValid(t *testing.T) {
	g := Genesis()
	if !g.IsSemanticallyValid() {
		t.Fatalf("expected the literal genesis message to be semantically valid")
	}
}
