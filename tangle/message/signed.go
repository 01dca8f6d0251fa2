package message

import "github.com/tcoin-network/tcoind/wallet"

// Signed is embedded by anything that carries a hash and an ECDSA
// signature over that hash, grounded on
// original_source/tcoin/tangle/signed.py.
type Signed struct {
	Hash      string `json:"hash"`
	Signature string `json:"signature"`
}

// IsSigned reports whether a signature has been attached.
func (s *Signed) IsSigned() bool {
	return s.Signature != ""
}

// Sign signs s.Hash with w and stores the resulting signature.
func (s *Signed) Sign(w *wallet.Wallet) {
	s.Signature = w.Sign(s.Hash)
}

// IsSignatureValidFor verifies s.Signature over s.Hash under address.
func (s *Signed) IsSignatureValidFor(address string) bool {
	if !s.IsSigned() {
		return false
	}
	return wallet.IsSignatureValid(address, s.Signature, s.Hash)
}
