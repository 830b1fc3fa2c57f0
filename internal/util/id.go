// Package util holds small helpers shared across the service.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random 128-bit identifier, optionally prefixed for easier
// grepping in logs.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
