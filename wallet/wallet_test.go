package wallet

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	w := New()
	msg := "hello tangle"

	signature := w.Sign(msg)

	if !IsSignatureValid(w.Address(), signature, msg) {
		t.Fatalf("expected signature to verify under the signer's own address")
	}
}

func TestSignatureTamperDetected(t *testing.T) {
	w := New()
	msg := "hello tangle"

	signature := w.Sign(msg)

	if IsSignatureValid(w.Address(), signature, msg+"!") {
		t.Fatalf("expected tampered message to fail verification")
	}

	other := New()
	if IsSignatureValid(other.Address(), signature, msg) {
		t.Fatalf("expected signature to fail verification under a different address")
	}
}

func TestFromSecretRoundTrip(t *testing.T) {
	w := New()

	restored, err := FromSecret(w.Secret())
	if err != nil {
		t.Fatalf("unexpected error restoring wallet: %v", err)
	}

	if restored.Address() != w.Address() {
		t.Fatalf("restored wallet address mismatch: got %s, want %s", restored.Address(), w.Address())
	}
}

func TestAddressHasPrefix(t *testing.T) {
	w := New()

	address := w.Address()
	if len(address) == 0 || address[0] != 'T' {
		t.Fatalf("expected address to start with prefix T, got %s", address)
	}
}
