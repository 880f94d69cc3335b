package auth

import (
	"crypto/sha256"
	"crypto/subtle"
)

// Verify compares a caller-supplied secret against the expected value in
// constant time. Both sides are hashed first so the comparison length is
// fixed and a length mismatch cannot be observed through branch timing.
// An empty expected value always fails: endpoints without a configured
// secret must never accept anything.
func Verify(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}

	providedSum := sha256.Sum256([]byte(provided))
	expectedSum := sha256.Sum256([]byte(expected))

	return subtle.ConstantTimeCompare(providedSum[:], expectedSum[:]) == 1
}
