// Package digest holds the hash primitives every fingerprint and credential
// is built from: SHA-256 and HMAC-SHA-256, both rendered as lowercase hex.
package digest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Size is the length of a hex-encoded digest.
const Size = sha256.Size * 2

// ErrEmptyKey is returned when a keyed digest is requested without a secret.
var ErrEmptyKey = errors.New("digest: keyed digest requires a non-empty secret")

// Digest returns the lowercase hex SHA-256 of msg.
func Digest(msg []byte) string {
	sum := sha256.Sum256(msg)
	return hex.EncodeToString(sum[:])
}

// DigestString digests the UTF-8 bytes of s.
func DigestString(s string) string {
	return Digest([]byte(s))
}

// Keyed returns the lowercase hex HMAC-SHA-256 of msg under secret.
func Keyed(secret, msg []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptyKey
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Equal compares two hex digests in constant time.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// IsHex reports whether s looks like a digest produced by this package.
func IsHex(s string) bool {
	if len(s) != Size {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
