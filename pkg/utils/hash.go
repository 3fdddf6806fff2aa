package utils

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// ContentHash derives the immutable submission identifier from the
// normalized text. Whitespace runs are collapsed so cosmetic edits do
// not mint a new identity.
func ContentHash(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	hash := sha256.Sum256([]byte(strings.ToLower(normalized)))
	return fmt.Sprintf("%x", hash)
}
