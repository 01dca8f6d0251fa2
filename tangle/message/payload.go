package message

import "encoding/json"

// Ledger is the minimal balance-mutation surface a Payload needs to apply
// or revert its effect on the tangle's account state. tangle.State
// implements this, grounded on
// original_source/tcoin/tangle/tangle.py: TangleState.update_tx_on_tangle.
type Ledger interface {
	Balance(address string) int64
	SetBalance(address string, balance int64)
}

// TangleView is the minimal read interface into the tangle a Payload or a
// Message needs for semantic validation, implemented by tangle.Tangle.
// Separating it out here lets the message package validate payloads without
// importing the tangle package, which imports message.
type TangleView interface {
	GetMessage(hash string) (*Message, bool)
	Difficulty(msg *Message) int
	InInvalidPool(hash string) bool
	Balance(address string) int64
	NextIndex(address string) int
}

// Payload is a type-specific message body. The design is a tagged variant:
// new payload kinds register a decoder under their Kind() string and
// extend message dispatch without touching existing ones, grounded on
// original_source/tcoin/tangle/messages/__init__.py's message_lookup table.
type Payload interface {
	// Kind is the discriminator stored in Message.Value.
	Kind() string

	// CanonicalString is the deterministic textual form folded into the
	// message's raw hash input. It must not depend on map iteration
	// order or other non-deterministic formatting.
	CanonicalString() string

	// IsWellFormed checks payload-local field constraints that don't
	// require tangle state (sizes, ranges, self-send, etc).
	IsWellFormed(issuer string) bool

	// IsSemanticallyValid checks constraints that require tangle state,
	// e.g. a transaction's sender balance and index.
	IsSemanticallyValid(issuer string, index int, view TangleView) bool

	// ApplyState applies (add=true) or reverts (add=false) this
	// payload's effect on ledger for the given issuer.
	ApplyState(issuer string, ledger Ledger, add bool)
}

type payloadDecoder func(raw json.RawMessage) (Payload, error)

var payloadDecoders = map[string]payloadDecoder{}

// RegisterPayloadKind adds a payload kind to the dispatch table used when
// decoding messages off the wire or from storage.
func RegisterPayloadKind(kind string, decoder func(raw json.RawMessage) (Payload, error)) {
	payloadDecoders[kind] = decoder
}

func decodePayload(kind string, raw json.RawMessage) (Payload, bool) {
	decoder, ok := payloadDecoders[kind]
	if !ok {
		return nil, false
	}

	payload, err := decoder(raw)
	if err != nil {
		return nil, false
	}

	return payload, true
}
