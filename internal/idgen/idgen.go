// Package idgen provides collision-resistant identifier generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Generator produces a fresh identifier on each call.
type Generator func() string

// New returns a random (version 4) UUID in canonical text form.
func New() string {
	return uuid.NewString()
}

// WithPrefix generates a random ID with a prefix (e.g. "risk_", "req_").
// Result is prefix + 32 hex chars taken from a random UUID.
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// Valid reports whether id parses as a UUID. Used to reject garbage session
// identifiers before they reach storage.
func Valid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
