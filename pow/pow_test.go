package pow

import (
	"strings"
	"testing"
)

func TestSearchProducesValidHash(t *testing.T) {
	hash, nonce, ok := Search("payload", 8)
	if !ok {
		t.Fatalf("expected to find a valid nonce at low difficulty")
	}

	if Hash("payload", nonce) != hash {
		t.Fatalf("hash does not match recomputation from nonce")
	}

	if !IsValidHash(hash, Target(8)) {
		t.Fatalf("found hash does not satisfy its own target")
	}
}

func TestIsValidHashRejectsHighValue(t *testing.T) {
	// All Fs is always above any real target.
	if IsValidHash(strings.Repeat("f", 64), Target(1)) {
		t.Fatalf("expected a maximal hash to fail a tight target")
	}
}

func TestTargetMonotonic(t *testing.T) {
	if Target(10).Cmp(Target(11)) <= 0 {
		t.Fatalf("expected target to shrink as difficulty increases")
	}
}
