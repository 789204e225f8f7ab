// Package account validates and normalizes ledger account keys. Accounts
// are identified by base58-encoded ed25519 public keys; per-account engine
// state is never created for a key that fails validation.
package account

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Key length for ed25519 public keys.
const keyLen = 32

// Validation errors.
var (
	// ErrInvalidKey is returned for keys that do not decode to a valid
	// ed25519 public key.
	ErrInvalidKey = errors.New("account: invalid key")
)

// Validate checks that key is a base58-encoded 32-byte point on the
// ed25519 curve.
func Validate(key string) error {
	raw, err := base58.Decode(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != keyLen {
		return fmt.Errorf("%w: decoded length %d, want %d", ErrInvalidKey, len(raw), keyLen)
	}
	if !isOnCurve(raw) {
		return fmt.Errorf("%w: point off curve", ErrInvalidKey)
	}
	return nil
}

// PairID derives a deterministic identifier for an unordered account pair.
// Formula: SHA256(min(a,b)|max(a,b)), hex-encoded. Keys flagged pairs in
// wash-trade detection.
func PairID(a, b string) string {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	hash := sha256.Sum256([]byte(lo + "|" + hi))
	return hex.EncodeToString(hash[:])
}

func isOnCurve(point []byte) bool {
	if len(point) != keyLen {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
