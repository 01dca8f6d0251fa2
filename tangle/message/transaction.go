package message

import (
	"encoding/json"
	"fmt"

	"github.com/tcoin-network/tcoind/params"
)

// TransactionKind is the Value discriminator for a Transaction message.
const TransactionKind = "transaction"

// TransactionPayload moves amt coins from the issuing message's node_id to
// Receiver, grounded on
// original_source/tcoin/tangle/messages/transaction.py.
type TransactionPayload struct {
	Receiver string `json:"receiver"`
	Amount   int64  `json:"amt"`
}

// NewTransactionPayload constructs a transaction payload.
func NewTransactionPayload(receiver string, amount int64) *TransactionPayload {
	return &TransactionPayload{Receiver: receiver, Amount: amount}
}

// Kind implements Payload.
func (t *TransactionPayload) Kind() string { return TransactionKind }

// CanonicalString implements Payload.
func (t *TransactionPayload) CanonicalString() string {
	return fmt.Sprintf("{'receiver': '%s', 'amt': %d}", t.Receiver, t.Amount)
}

// IsWellFormed implements Payload: receiver must differ from the issuer and
// the amount must meet the minimum send amount.
func (t *TransactionPayload) IsWellFormed(issuer string) bool {
	if t.Receiver == "" || t.Receiver == issuer {
		return false
	}
	return t.Amount >= params.MinSendAmount
}

// IsSemanticallyValid implements Payload: the index must match the
// issuer's current next index and the issuer must have sufficient balance.
func (t *TransactionPayload) IsSemanticallyValid(issuer string, index int, view TangleView) bool {
	if index != view.NextIndex(issuer) {
		return false
	}
	return view.Balance(issuer) >= t.Amount
}

// ApplyState implements Payload: debits the issuer (unless it is the
// genesis issuer) and credits the receiver, or reverses that when add is
// false. Grounded on TangleState.update_tx_on_tangle.
func (t *TransactionPayload) ApplyState(issuer string, ledger Ledger, add bool) {
	amount := t.Amount
	if !add {
		amount = -amount
	}

	if issuer != GenesisIssuer {
		ledger.SetBalance(issuer, ledger.Balance(issuer)-amount)
	}
	ledger.SetBalance(t.Receiver, ledger.Balance(t.Receiver)+amount)
}

func init() {
	RegisterPayloadKind(TransactionKind, func(raw json.RawMessage) (Payload, error) {
		var t TransactionPayload
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, err
		}
		return &t, nil
	})
}
