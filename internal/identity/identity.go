// Package identity binds asserted real-world identity claims to a digest and
// combines that digest with a device fingerprint into a DNA credential.
package identity

import (
	"errors"
	"strings"

	"github.com/shortontech/dnaguard/internal/digest"
)

var ErrMissingInput = errors.New("identity: identity hash and device fingerprint are required")

const fieldSeparator = "|"

// Claims are the identity attributes asserted by a client.
type Claims struct {
	Name            string `json:"name"`
	DateOfBirth     string `json:"dateOfBirth"`
	BiometricVector string `json:"biometricVector"`
	IDNumber        string `json:"idNumber"`
}

// Validate checks presence only; values are not interpreted.
func (c Claims) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(c.DateOfBirth) == "" {
		missing = append(missing, "dateOfBirth")
	}
	if strings.TrimSpace(c.BiometricVector) == "" {
		missing = append(missing, "biometricVector")
	}
	if strings.TrimSpace(c.IDNumber) == "" {
		missing = append(missing, "idNumber")
	}
	if len(missing) > 0 {
		return errors.New("identity: missing " + strings.Join(missing, ", "))
	}
	return nil
}

// Hash is Bind over the claims.
func (c Claims) Hash() string {
	return Bind(c.Name, c.DateOfBirth, c.BiometricVector, c.IDNumber)
}

// Bind digests the four identity attributes joined by "|".
func Bind(name, dateOfBirth, biometricVector, idNumber string) string {
	return digest.DigestString(strings.Join([]string{name, dateOfBirth, biometricVector, idNumber}, fieldSeparator))
}

// Combine derives the DNA hash. The message is "identityHash|deviceFingerprint|secret";
// in keyed mode the secret is also the HMAC key.
func Combine(identityHash, deviceFingerprint, secret string, useKeyed bool) (string, error) {
	if identityHash == "" || deviceFingerprint == "" {
		return "", ErrMissingInput
	}
	msg := identityHash + fieldSeparator + deviceFingerprint + fieldSeparator + secret
	if useKeyed {
		return digest.Keyed([]byte(secret), []byte(msg))
	}
	return digest.DigestString(msg), nil
}
