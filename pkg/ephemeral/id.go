package ephemeral

import (
	"crypto/rand"
	"fmt"
)

// IDLength is the number of characters in a hub ID
const IDLength = 10

const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// idMask covers the alphabet with 6 random bits; values >= len(idAlphabet)
// are rejected so every symbol is equally likely.
const idMask = 0x3f

// NewID returns a random alphanumeric hub ID of IDLength characters.
// Uniqueness is enforced by the metadata store, not here.
func NewID() string {
	out := make([]byte, 0, IDLength)
	buf := make([]byte, IDLength*2)
	for len(out) < IDLength {
		if _, err := rand.Read(buf); err != nil {
			// crypto/rand only fails when the OS entropy source is broken
			panic(fmt.Sprintf("ephemeral: reading random bytes: %v", err))
		}
		for _, b := range buf {
			if i := int(b & idMask); i < len(idAlphabet) {
				out = append(out, idAlphabet[i])
				if len(out) == IDLength {
					break
				}
			}
		}
	}
	return string(out)
}

// ValidID reports whether s has the shape of a hub ID.
func ValidID(s string) bool {
	if len(s) != IDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'A' <= c && c <= 'Z' || 'a' <= c && c <= 'z') {
			return false
		}
	}
	return true
}
