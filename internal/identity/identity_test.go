package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortontech/dnaguard/internal/digest"
)

func TestBind(t *testing.T) {
	a := Bind("Ada Lovelace", "1815-12-10", "0.12,0.98,0.33", "X1234567")
	b := Bind("Ada Lovelace", "1815-12-10", "0.12,0.98,0.33", "X1234567")
	assert.Equal(t, a, b)
	assert.True(t, digest.IsHex(a))
	assert.Equal(t, digest.DigestString("Ada Lovelace|1815-12-10|0.12,0.98,0.33|X1234567"), a)

	tests := []struct {
		name                  string
		n, dob, vector, idNum string
	}{
		{"name differs", "Ada Byron", "1815-12-10", "0.12,0.98,0.33", "X1234567"},
		{"dob differs", "Ada Lovelace", "1815-12-11", "0.12,0.98,0.33", "X1234567"},
		{"vector differs", "Ada Lovelace", "1815-12-10", "0.12,0.98,0.34", "X1234567"},
		{"id differs", "Ada Lovelace", "1815-12-10", "0.12,0.98,0.33", "X1234568"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, a, Bind(tt.n, tt.dob, tt.vector, tt.idNum))
		})
	}
}

func TestCombine(t *testing.T) {
	const (
		idHash = "aaaa"
		dev    = "bbbb"
		secret = "s3cr3t"
	)
	msg := idHash + "|" + dev + "|" + secret

	t.Run("plain", func(t *testing.T) {
		got, err := Combine(idHash, dev, secret, false)
		require.NoError(t, err)
		sum := sha256.Sum256([]byte(msg))
		assert.Equal(t, hex.EncodeToString(sum[:]), got)
	})

	t.Run("keyed", func(t *testing.T) {
		got, err := Combine(idHash, dev, secret, true)
		require.NoError(t, err)
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(msg))
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), got)
	})

	t.Run("modes differ", func(t *testing.T) {
		plain, _ := Combine(idHash, dev, secret, false)
		keyed, _ := Combine(idHash, dev, secret, true)
		assert.NotEqual(t, plain, keyed)
	})

	t.Run("plain with empty secret", func(t *testing.T) {
		got, err := Combine(idHash, dev, "", false)
		require.NoError(t, err)
		assert.Equal(t, digest.DigestString("aaaa|bbbb|"), got)
	})

	t.Run("keyed with empty secret", func(t *testing.T) {
		_, err := Combine(idHash, dev, "", true)
		assert.ErrorIs(t, err, digest.ErrEmptyKey)
	})

	t.Run("missing inputs", func(t *testing.T) {
		_, err := Combine("", dev, secret, false)
		assert.ErrorIs(t, err, ErrMissingInput)
		_, err = Combine(idHash, "", secret, true)
		assert.ErrorIs(t, err, ErrMissingInput)
	})
}

func TestClaims(t *testing.T) {
	c := Claims{Name: "Ada", DateOfBirth: "1815-12-10", BiometricVector: "0.1", IDNumber: "X1"}
	require.NoError(t, c.Validate())
	assert.Equal(t, Bind("Ada", "1815-12-10", "0.1", "X1"), c.Hash())

	err := Claims{Name: "Ada", IDNumber: " "}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dateOfBirth, biometricVector, idNumber")
}
