// Package pow implements the admission proof-of-work: target derivation,
// nonce search, and hash validation, grounded on
// original_source/tcoin/utils/pow.py.
package pow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/tcoin-network/tcoind/logs"
	"github.com/tcoin-network/tcoind/params"
)

// Target returns 2^(256-difficulty), the upper bound a valid hash must fall
// under.
func Target(difficulty int) *big.Int {
	target := big.NewInt(1)
	target.Lsh(target, uint(256-difficulty))
	return target
}

// IsValidHash reports whether the hex-encoded hash, interpreted as a base-16
// integer, falls under target.
func IsValidHash(hashHex string, target *big.Int) bool {
	value, ok := new(big.Int).SetString(hashHex, 16)
	if !ok {
		return false
	}
	return value.Cmp(target) < 0
}

// RawHash returns the hex-encoded SHA-256 digest of msg.
func RawHash(msg string) string {
	digest := sha256.Sum256([]byte(msg))
	return hex.EncodeToString(digest[:])
}

// Hash returns the hex-encoded SHA-256 digest of msg concatenated with
// nonce, the quantity the proof-of-work search iterates over.
func Hash(msg string, nonce uint64) string {
	return RawHash(fmt.Sprintf("%s%d", msg, nonce))
}

// Search iterates nonce in [0, params.MaxNonce) looking for a hash under the
// target implied by difficulty. It returns the found hash and nonce, or
// false if the nonce space was exhausted.
func Search(msg string, difficulty int) (hash string, nonce uint64, ok bool) {
	target := Target(difficulty)

	for nonce := uint64(0); nonce < params.MaxNonce; nonce++ {
		candidate := Hash(msg, nonce)
		if IsValidHash(candidate, target) {
			return candidate, nonce, true
		}
	}

	logs.Pow.Warnf("exhausted nonce space at difficulty %d", difficulty)
	return "", 0, false
}
