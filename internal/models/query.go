package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// MaxNormalizedQueryLength caps the normalized form, in runes
const MaxNormalizedQueryLength = 50

// NormalizeQuery lowercases q, drops everything that is not a letter, digit or
// whitespace, collapses whitespace runs, trims, and caps the length.
func NormalizeQuery(q string) string {
	var b strings.Builder
	b.Grow(len(q))

	pendingSpace := false
	for _, r := range strings.ToLower(q) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			pendingSpace = true
		}
	}

	runes := []rune(b.String())
	if len(runes) > MaxNormalizedQueryLength {
		return strings.TrimRightFunc(string(runes[:MaxNormalizedQueryLength]), unicode.IsSpace)
	}
	return string(runes)
}

// CacheKey is the stable page cache key for a user and an already-normalized query
func CacheKey(userID, normalizedQuery string) string {
	sum := sha256.Sum256([]byte(userID + ":" + normalizedQuery))
	return hex.EncodeToString(sum[:])[:32]
}
