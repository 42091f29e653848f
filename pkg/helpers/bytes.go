package helpers

import (
	"crypto/rand"
	"crypto/subtle"
)

// GenerateSecureRandom returns n bytes from the platform CSPRNG.
func GenerateSecureRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// ConstantTimeCompare reports whether a and b are equal without leaking,
// through timing, how many leading bytes matched.
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// IsZeroBytes reports whether every byte of b is zero. Chain account data
// uses an all-zero field to mean "not set yet" (e.g. a secret slot before
// the preimage is revealed).
func IsZeroBytes(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
