// Package preimage implements the hashlock/secret protocol shared by both
// chains' HTLCs: 32-byte secrets, their SHA-256 hashlocks, and the hex
// codecs used to move them in and out of chain parameters. It never writes
// secret material to a logger and never offers a seeded/deterministic mode
// outside of _test.go files.
package preimage

import (
	"crypto/sha256"
	"fmt"

	"github.com/klingon-exchange/swapd/pkg/helpers"
)

// Size is the fixed length, in bytes, of both the secret and its hashlock.
const Size = 32

// Secret is a 32-byte preimage. It deliberately has no String()/Format
// method so accidental %v/%s logging does not leak it; use Hex() when a
// hex rendering is genuinely required (e.g. handing it to a chain adapter).
type Secret [Size]byte

// Hashlock is SHA-256(secret).
type Hashlock [Size]byte

// Generate produces a cryptographically strong random secret using the
// platform CSPRNG (crypto/rand via helpers.GenerateSecureRandom).
func Generate() (Secret, error) {
	var s Secret
	b, err := helpers.GenerateSecureRandom(Size)
	if err != nil {
		return s, fmt.Errorf("generate secret: %w", err)
	}
	copy(s[:], b)
	return s, nil
}

// Hash computes SHA-256(secret). It is defined on the fixed-size Secret
// type, so a caller cannot pass the wrong-length input.
func Hash(secret Secret) Hashlock {
	return Hashlock(sha256.Sum256(secret[:]))
}

// HashBytes computes SHA-256(secret) for a caller-supplied byte slice,
// failing if the input isn't exactly Size bytes — used when validating
// caller-supplied secret/hashlock pairs before they become a Secret.
func HashBytes(secret []byte) (Hashlock, error) {
	var h Hashlock
	if len(secret) != Size {
		return h, fmt.Errorf("preimage: secret must be %d bytes, got %d", Size, len(secret))
	}
	var s Secret
	copy(s[:], secret)
	return Hash(s), nil
}

// Verify reports whether secret hashes to hashlock, using a constant-time
// comparison so the result doesn't leak timing information about how many
// leading bytes matched.
func Verify(secret Secret, hashlock Hashlock) bool {
	computed := Hash(secret)
	return helpers.ConstantTimeCompare(computed[:], hashlock[:])
}

// Hex returns the 0x-prefixed hex encoding of the secret.
func (s Secret) Hex() string { return helpers.BytesToHex(s[:]) }

// Hex returns the 0x-prefixed hex encoding of the hashlock.
func (h Hashlock) Hex() string { return helpers.BytesToHex(h[:]) }

// Bytes returns a copy of the secret's raw bytes.
func (s Secret) Bytes() []byte { return append([]byte(nil), s[:]...) }

// Bytes returns a copy of the hashlock's raw bytes.
func (h Hashlock) Bytes() []byte { return append([]byte(nil), h[:]...) }

// SecretFromHex decodes a 0x-tolerant hex string into a Secret.
func SecretFromHex(s string) (Secret, error) {
	var out Secret
	b, err := helpers.HexToBytes(s)
	if err != nil {
		return out, fmt.Errorf("decode secret hex: %w", err)
	}
	if len(b) != Size {
		return out, fmt.Errorf("preimage: decoded secret must be %d bytes, got %d", Size, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// HashlockFromHex decodes a 0x-tolerant hex string into a Hashlock.
func HashlockFromHex(s string) (Hashlock, error) {
	var out Hashlock
	b, err := helpers.HexToBytes(s)
	if err != nil {
		return out, fmt.Errorf("decode hashlock hex: %w", err)
	}
	if len(b) != Size {
		return out, fmt.Errorf("preimage: decoded hashlock must be %d bytes, got %d", Size, len(b))
	}
	copy(out[:], b)
	return out, nil
}
