package httpx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// HMACHeader carries the hex HMAC-SHA256 of the request body.
const HMACHeader = "X-DNA-HMAC"

// HMACAuth signs fingerprint reports with a key derived from the server
// secret and the client's IP, so a key lifted from one client is useless from
// another address.
type HMACAuth struct {
	secret      []byte
	publicKey   []byte
	requireHMAC bool
	trustProxy  bool
	logger      *slog.Logger
}

// NewHMACAuth creates a new HMAC authentication handler
func NewHMACAuth(secret, publicKey string, requireHMAC, trustProxy bool, logger *slog.Logger) *HMACAuth {
	if logger == nil {
		logger = slog.Default()
	}
	auth := &HMACAuth{
		secret:      []byte(secret),
		requireHMAC: requireHMAC,
		trustProxy:  trustProxy,
		logger:      logger,
	}

	if publicKey != "" {
		if decoded, err := base64.StdEncoding.DecodeString(publicKey); err == nil {
			auth.publicKey = decoded
		} else {
			logger.Warn("invalid HMAC_PUBLIC_KEY format, using derived key id")
		}
	}
	if len(auth.publicKey) == 0 && len(auth.secret) > 0 {
		auth.publicKey = auth.derivePublicKey(auth.secret)
	}
	return auth
}

// derivePublicKey creates a non-secret key identifier from the secret
func (h *HMACAuth) derivePublicKey(secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte("dnaguard-public-key-derivation"))
	return mac.Sum(nil)[:16]
}

// GetPublicKeyBase64 returns the base64-encoded key identifier
func (h *HMACAuth) GetPublicKeyBase64() string {
	if len(h.publicKey) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(h.publicKey)
}

// Enabled reports whether a secret is configured.
func (h *HMACAuth) Enabled() bool { return len(h.secret) > 0 }

// Sign computes the HMAC a client at clientIP must send for payload.
func (h *HMACAuth) Sign(payload []byte, clientIP string) string {
	if len(h.secret) == 0 {
		return ""
	}
	mac := hmac.New(sha256.New, h.deriveClientKey(clientIP))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// deriveClientKey creates a client-specific key from secret + IP
func (h *HMACAuth) deriveClientKey(clientIP string) []byte {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte("client-key:" + normalizeIP(clientIP)))
	return mac.Sum(nil)
}

// normalizeIP extracts and normalizes IP address
func normalizeIP(addr string) string {
	addr = strings.TrimSpace(addr)
	// [::1]:8080 -> ::1
	if strings.HasPrefix(addr, "[") {
		if idx := strings.LastIndex(addr, "]"); idx > 0 {
			return addr[1:idx]
		}
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// VerifyHMAC validates the HMAC signature for a request
func (h *HMACAuth) VerifyHMAC(r *http.Request, payload []byte) bool {
	provided := r.Header.Get(HMACHeader)
	if !h.requireHMAC && provided == "" {
		return true
	}
	if len(h.secret) == 0 {
		if !h.requireHMAC {
			return true
		}
		h.logger.Warn("HMAC verification failed: no secret configured")
		return false
	}
	if provided == "" {
		h.logger.Warn("HMAC verification failed: missing header", "header", HMACHeader)
		return false
	}

	ip := clientIP(r, h.trustProxy)
	expected := h.Sign(payload, ip)
	if !hmac.Equal([]byte(strings.ToLower(provided)), []byte(expected)) {
		h.logger.Warn("HMAC verification failed", "ip", ip)
		return false
	}
	return true
}

// clientIP extracts the client address, honoring proxy headers only when
// the deployment sits behind a trusted proxy.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return normalizeIP(ip)
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return normalizeIP(xri)
		}
	}
	return normalizeIP(r.RemoteAddr)
}

// ClientScript returns JavaScript that hands the caller its signing key.
// The key is bound to the caller's IP.
func (h *HMACAuth) ClientScript(r *http.Request) string {
	if len(h.secret) == 0 {
		return ""
	}
	key := base64.StdEncoding.EncodeToString(h.deriveClientKey(clientIP(r, h.trustProxy)))
	return fmt.Sprintf(`// dnaguard report signing
(function () {
  window.__DNA_HMAC = { key: '%s', keyId: '%s', header: '%s' };
})();
`, key, h.GetPublicKeyBase64(), HMACHeader)
}
