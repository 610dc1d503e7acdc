package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns prefix followed by n lower-case hex characters.
func NewID(prefix string, n int) string {
	if n <= 0 {
		return prefix
	}
	buf := make([]byte, (n+1)/2)
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(buf)
	return prefix + hex.EncodeToString(buf)[:n]
}
