package preimage

import (
	"crypto/sha256"
	"testing"
)

func TestGenerateProducesDistinctSecrets(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if a == b {
		t.Fatal("two calls to Generate produced identical secrets")
	}
}

func TestHashMatchesSHA256(t *testing.T) {
	secret, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := sha256.Sum256(secret[:])
	got := Hash(secret)
	if got != Hashlock(want) {
		t.Fatal("Hash does not match crypto/sha256 directly")
	}
}

// Hash integrity: for every secret, SHA-256(secret) == hashlock.
func TestVerifySucceedsForMatchingPair(t *testing.T) {
	secret, _ := Generate()
	hashlock := Hash(secret)
	if !Verify(secret, hashlock) {
		t.Fatal("Verify rejected a matching secret/hashlock pair")
	}
}

func TestVerifyFailsForMismatchedPair(t *testing.T) {
	secret, _ := Generate()
	other, _ := Generate()
	hashlock := Hash(other)
	if Verify(secret, hashlock) {
		t.Fatal("Verify accepted a mismatched secret/hashlock pair")
	}
}

// Round-trip: hex <-> bytes codecs are mutual inverses.
func TestHexRoundTrip(t *testing.T) {
	secret, _ := Generate()

	hexStr := secret.Hex()
	decoded, err := SecretFromHex(hexStr)
	if err != nil {
		t.Fatalf("SecretFromHex: %v", err)
	}
	if decoded != secret {
		t.Fatal("round-trip through hex changed the secret")
	}

	withoutPrefix := hexStr[2:]
	decoded2, err := SecretFromHex(withoutPrefix)
	if err != nil {
		t.Fatalf("SecretFromHex without 0x prefix: %v", err)
	}
	if decoded2 != secret {
		t.Fatal("0x-prefix tolerance broke round-trip")
	}
}

func TestHashlockHexRoundTrip(t *testing.T) {
	secret, _ := Generate()
	hashlock := Hash(secret)

	decoded, err := HashlockFromHex(hashlock.Hex())
	if err != nil {
		t.Fatalf("HashlockFromHex: %v", err)
	}
	if decoded != hashlock {
		t.Fatal("round-trip through hex changed the hashlock")
	}
}

func TestSecretFromHexRejectsWrongLength(t *testing.T) {
	if _, err := SecretFromHex("0x1234"); err == nil {
		t.Fatal("expected error for short hex input")
	}
}

func TestHashBytesRejectsWrongLength(t *testing.T) {
	if _, err := HashBytes([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for non-32-byte input")
	}
}

// Constant-time verify: dual-length probes should not short-circuit in a
// way that's observable from the boolean result (both must fail cleanly).
func TestVerifyConstantTimeDualLengthProbes(t *testing.T) {
	secret, _ := Generate()
	hashlock := Hash(secret)

	// A hashlock that differs only in its very last byte and one that
	// differs in its first byte should both simply fail; a short-circuit
	// implementation might return early on the first mismatch, which is
	// still "false" here but would leak timing under a real side-channel
	// measurement. We at least assert both shapes are rejected.
	flippedLast := hashlock
	flippedLast[Size-1] ^= 0xFF
	flippedFirst := hashlock
	flippedFirst[0] ^= 0xFF

	if Verify(secret, flippedLast) {
		t.Fatal("Verify accepted hashlock with flipped last byte")
	}
	if Verify(secret, flippedFirst) {
		t.Fatal("Verify accepted hashlock with flipped first byte")
	}
}
