// Package wallet implements the node's keypair, address derivation, and
// ECDSA signing, grounded on original_source/tcoin/wallet/wallet.py.
package wallet

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcutil/base58"
	"github.com/pkg/errors"

	"github.com/tcoin-network/tcoind/params"
)

// Wallet holds a secp256k1 keypair used to sign messages and derive the
// node's address.
type Wallet struct {
	privateKey *btcec.PrivateKey
}

// New generates a fresh wallet with a random keypair.
func New() *Wallet {
	privateKey, err := btcec.NewPrivateKey()
	if err != nil {
		// btcec.NewPrivateKey only fails if the CSPRNG is broken.
		panic(errors.Wrap(err, "failed to generate private key"))
	}
	return &Wallet{privateKey: privateKey}
}

// FromSecret restores a wallet from a hex-encoded private key.
func FromSecret(secretHex string) (*Wallet, error) {
	secretBytes, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, errors.Wrap(err, "secret is not valid hex")
	}

	privateKey, _ := btcec.PrivKeyFromBytes(secretBytes)
	return &Wallet{privateKey: privateKey}, nil
}

// Secret returns the hex-encoded private key.
func (w *Wallet) Secret() string {
	return hex.EncodeToString(w.privateKey.Serialize())
}

// Address returns the wallet's address: params.AddressPrefix concatenated
// with the base58 encoding of the compressed public key.
func (w *Wallet) Address() string {
	return AddressFromPublicKey(w.privateKey.PubKey())
}

// AddressFromPublicKey derives an address from a public key the same way
// Address does, for use when verifying a signature under a claimed address.
func AddressFromPublicKey(publicKey *btcec.PublicKey) string {
	return params.AddressPrefix + base58.Encode(publicKey.SerializeCompressed())
}

// Sign signs the SHA-256 hash of msg and returns the hex-encoded DER
// signature.
func (w *Wallet) Sign(msg string) string {
	digest := sha256.Sum256([]byte(msg))
	signature := ecdsa.Sign(w.privateKey, digest[:])
	return hex.EncodeToString(signature.Serialize())
}

// IsSignatureValid verifies that signature (hex-encoded DER) over the
// SHA-256 hash of msg was produced by the keypair behind address.
func IsSignatureValid(address, signature, msg string) bool {
	publicKey, err := publicKeyFromAddress(address)
	if err != nil {
		return false
	}

	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false
	}

	digest := sha256.Sum256([]byte(msg))
	return sig.Verify(digest[:], publicKey)
}

func publicKeyFromAddress(address string) (*btcec.PublicKey, error) {
	if len(address) <= len(params.AddressPrefix) {
		return nil, errors.New("address too short")
	}

	compressed := base58.Decode(address[len(params.AddressPrefix):])

	publicKey, err := btcec.ParsePubKey(compressed)
	if err != nil {
		return nil, errors.Wrap(err, "invalid public key in address")
	}

	return publicKey, nil
}
