// Package idgen mints the random identifiers used across the service:
// transaction record IDs and request correlation IDs.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// TransactionPrefix marks transaction record IDs. Clients see it in
// responses and pagination cursors, so it stays stable across releases.
const TransactionPrefix = "tx_"

// Transaction returns a fresh transaction record ID: the tx_ prefix plus
// 24 hex chars (12 random bytes).
func Transaction() string {
	return TransactionPrefix + Hex(12)
}

// Hex returns a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
