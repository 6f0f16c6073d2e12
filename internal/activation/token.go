package activation

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// TokenLength is the number of hex characters in an activation token.
const TokenLength = 32

// NewToken returns a fresh 128-bit token as lowercase hex.
func NewToken() (string, error) {
	var b [TokenLength / 2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("NewToken: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// IsTokenFormat reports whether s looks like an activation token. Case and
// surrounding whitespace are ignored.
func IsTokenFormat(s string) bool {
	s = NormalizeToken(s)
	if len(s) != TokenLength {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}

// NormalizeToken trims and lowercases a token as typed by a user.
func NormalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// HashToken is the digest stored in place of the plaintext token.
func HashToken(token string) string {
	sum := blake3.Sum256([]byte(NormalizeToken(token)))
	return hex.EncodeToString(sum[:])
}
