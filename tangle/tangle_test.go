package tangle

import (
	"testing"
	"time"

	"github.com/tcoin-network/tcoind/params"
	"github.com/tcoin-network/tcoind/tangle/message"
	"github.com/tcoin-network/tcoind/wallet"
)

func send(t *testing.T, tn *Tangle, w *wallet.Wallet, receiver string, amt int64) *message.Message {
	t.Helper()

	tips := tn.SelectTips()
	idx := tn.GetTransactionIndex(w.Address())

	m := &message.Message{
		NodeID:    w.Address(),
		Value:     message.TransactionKind,
		Payload:   message.NewTransactionPayload(receiver, amt),
		Index:     idx,
		Timestamp: time.Now().Unix(),
	}
	m.SelectParents(tips)

	if !m.DoWork(tn.Difficulty(m)) {
		t.Fatalf("failed to find proof of work")
	}
	m.Sign(w)

	if !m.IsSemanticallyValid() {
		t.Fatalf("constructed message failed semantic validation")
	}
	if !m.IsPayloadValid(tn) {
		t.Fatalf("constructed message failed payload validation: sender=%s balance=%d amt=%d",
			w.Address(), tn.GetBalance(w.Address()), amt)
	}

	ok, analysis := m.IsValid(tn, 8)
	if !ok {
		t.Fatalf("constructed message failed tangle validation: %+v", analysis)
	}

	tn.AddMessage(m, nil)
	return m
}

func TestGenesisBalance(t *testing.T) {
	tn := New()
	if got := tn.GetBalance(message.GenesisAddress); got != message.GenesisAmount {
		t.Fatalf("expected genesis balance %d, got %d", message.GenesisAmount, got)
	}
}

func TestSimpleSendMovesBalance(t *testing.T) {
	tn := New()
	w := seedFundedWallet(tn, 5000)

	m := send(t, tn, w, "Treceiver111111111111111111111111111", 100)

	if tn.GetBalance(w.Address()) != 5000-100 {
		t.Fatalf("sender balance not debited: got %d", tn.GetBalance(w.Address()))
	}
	if tn.GetBalance("Treceiver111111111111111111111111111") != 100 {
		t.Fatalf("receiver balance not credited: got %d", tn.GetBalance("Treceiver111111111111111111111111111"))
	}

	if _, ok := tn.GetMessage(m.Hash); !ok {
		t.Fatalf("expected sent message to be retrievable from the tangle")
	}
}

func TestBalanceConservedAcrossSends(t *testing.T) {
	tn := New()
	w := seedFundedWallet(tn, 5000)

	total := func() int64 {
		// Only two addresses hold funds in this scenario.
		return tn.GetBalance(w.Address()) + tn.GetBalance("Ta") + tn.GetBalance("Tb")
	}

	before := total()
	send(t, tn, w, "Ta", 1000)
	send(t, tn, w, "Tb", 2000)
	after := total()

	if before != after {
		t.Fatalf("balance not conserved: before=%d after=%d", before, after)
	}
}

func TestTransactionIndexMonotonic(t *testing.T) {
	tn := New()
	w := seedFundedWallet(tn, 5000)

	if got := tn.GetTransactionIndex(w.Address()); got != 0 {
		t.Fatalf("expected fresh issuer to start at index 0, got %d", got)
	}

	send(t, tn, w, "Ta", 10)
	if got := tn.GetTransactionIndex(w.Address()); got != 1 {
		t.Fatalf("expected index 1 after one send, got %d", got)
	}

	send(t, tn, w, "Tb", 10)
	if got := tn.GetTransactionIndex(w.Address()); got != 2 {
		t.Fatalf("expected index 2 after two sends, got %d", got)
	}
}

func TestSelectTipsReturnsGenesisWhenOnlyRoot(t *testing.T) {
	tn := New()
	tips := tn.SelectTips()

	if len(tips) != 1 {
		t.Fatalf("expected exactly one tip, got %d", len(tips))
	}
	kind, ok := tips[message.GenesisHash]
	if !ok || kind != message.LinkStrong {
		t.Fatalf("expected genesis to be the sole strong tip, got %+v", tips)
	}
}

func TestParentIntegrityAfterSend(t *testing.T) {
	tn := New()
	w := seedFundedWallet(tn, 5000)
	m := send(t, tn, w, "Ta", 10)

	for parentHash := range m.Parents {
		if parentHash == message.GenesisHash {
			continue
		}
		if _, ok := tn.GetMessage(parentHash); !ok {
			t.Fatalf("parent %s referenced by sent message is unknown to the tangle", parentHash)
		}
	}
}

func TestDifficultyIncreasesWithIssuerActivity(t *testing.T) {
	tn := New()
	w := seedFundedWallet(tn, 5000)

	first := &message.Message{
		Signed:    message.Signed{Hash: "difficulty-probe-first"},
		NodeID:    w.Address(),
		Value:     message.TransactionKind,
		Payload:   message.NewTransactionPayload("Ta", 1),
		Index:     0,
		Timestamp: message.GenesisTimestamp + 1,
	}
	base := tn.Difficulty(first)

	burst := &message.Message{
		Signed:    message.Signed{Hash: "difficulty-probe-burst"},
		NodeID:    w.Address(),
		Value:     message.TransactionKind,
		Payload:   message.NewTransactionPayload("Ta", 1),
		Index:     1,
		Timestamp: message.GenesisTimestamp + 2,
	}
	for i := 0; i < 5; i++ {
		key := "filler" + string(rune('a'+i))
		tn.msgs[key] = &message.Message{
			NodeID:    w.Address(),
			Value:     message.TransactionKind,
			Timestamp: message.GenesisTimestamp + 1,
			Payload:   message.NewTransactionPayload("Ta", 1),
		}
	}
	burstDifficulty := tn.Difficulty(burst)

	if burstDifficulty <= base {
		t.Fatalf("expected difficulty to rise with issuer activity: base=%d burst=%d", base, burstDifficulty)
	}
	if base != params.BaseDifficulty {
		t.Fatalf("expected a fresh issuer's first message to sit at the base difficulty, got %d", base)
	}
}

// seedFundedWallet creates a wallet and credits it directly through the
// tangle's ledger state, standing in for a real genesis-funded account so
// send-path tests don't depend on recovering the genesis private key.
func seedFundedWallet(tn *Tangle, amount int64) *wallet.Wallet {
	w := wallet.New()
	tn.mu.Lock()
	tn.state.SetBalance(w.Address(), amount)
	tn.mu.Unlock()
	return w
}
