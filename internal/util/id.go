package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewShareID mints a public share identifier. Share identifiers are
// generated exactly once per publication record and never rotated.
func NewShareID() string {
	return uuid.NewString()
}
