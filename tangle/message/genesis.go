package message

// The literal genesis message every tangle is rooted at, grounded on
// original_source/tcoin/constants.py: GENESIS_MSG_DATA. Implementations
// must accept this exact structure as the root of the DAG.
const (
	GenesisIssuer    = "0"
	GenesisHash      = "0"
	GenesisSignature = "0"
	GenesisTimestamp = 1653266909
	GenesisAddress   = "TmANJZAiiZTjBiLZt2QDKoYVtLn8yHGPdXdydymbPVJDZ"
	GenesisAmount    = 25000
)

// genesisMessageRaw holds the fields IsSemanticallyValid's genesis
// shortcut compares against, without constructing a full Message (and
// thereby recursing back into genesis construction).
var genesisMessageRaw = struct {
	NodeID    string
	Value     string
	Timestamp int64
}{
	NodeID:    GenesisIssuer,
	Value:     TransactionKind,
	Timestamp: GenesisTimestamp,
}

// Genesis returns the fixed root message of the tangle.
func Genesis() *Message {
	return &Message{
		Signed:    Signed{Hash: GenesisHash, Signature: GenesisSignature},
		NodeID:    GenesisIssuer,
		Value:     TransactionKind,
		Payload:   NewTransactionPayload(GenesisAddress, GenesisAmount),
		Index:     0,
		Parents:   Parents{},
		Timestamp: GenesisTimestamp,
		Nonce:     0,
	}
}
