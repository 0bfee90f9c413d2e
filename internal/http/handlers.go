package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shortontech/dnaguard/internal/assets"
	"github.com/shortontech/dnaguard/internal/digest"
	"github.com/shortontech/dnaguard/internal/fingerprint"
	"github.com/shortontech/dnaguard/internal/identity"
	"github.com/shortontech/dnaguard/internal/metrics"
	"github.com/shortontech/dnaguard/internal/registry"
	"github.com/shortontech/dnaguard/internal/screening"
	"github.com/shortontech/dnaguard/internal/signal"
	cfg "github.com/shortontech/dnaguard/pkg/config"
)

// Composer derives a fingerprint from a reported platform.
type Composer interface {
	Compose(ctx context.Context, p signal.Platform, clientIP string) fingerprint.Fingerprint
}

// Screener matches DNA hashes against the fraud registry.
type Screener interface {
	Check(ctx context.Context, req screening.CheckRequest) (screening.Result, error)
	Flag(ctx context.Context, sig registry.Signature) (registry.Signature, error)
	Signatures(ctx context.Context) ([]registry.Signature, error)
}

type Env struct {
	Cfg       cfg.Config
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Composer  Composer
	Screening Screener
	Live      http.Handler // websocket endpoint for live alert subscribers
	HMACAuth  *HMACAuth
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e Env) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e Env) Readyz(w http.ResponseWriter, r *http.Request) {
	if e.Ready != nil {
		if err := e.Ready(r.Context()); err != nil {
			e.logger().Warn("readiness check failed", "error", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// ServeCollector serves the embedded browser collector script.
func (e Env) ServeCollector(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(assets.CollectorJS)
}

func (e Env) HMACScript(w http.ResponseWriter, r *http.Request) {
	if e.HMACAuth == nil || !e.HMACAuth.Enabled() {
		http.Error(w, "HMAC authentication not configured", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	// the key is bound to the caller's address
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(e.HMACAuth.ClientScript(r)))
}

func (e Env) HMACPublicKey(w http.ResponseWriter, r *http.Request) {
	if e.HMACAuth == nil {
		http.Error(w, "HMAC authentication not configured", http.StatusNotFound)
		return
	}
	publicKey := e.HMACAuth.GetPublicKeyBase64()
	if publicKey == "" {
		http.Error(w, "HMAC public key not available", http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, map[string]string{
		"public_key": publicKey,
		"algorithm":  "HMAC-SHA256",
		"header":     HMACHeader,
	})
}

// Fingerprint accepts a signal.Report from the collector script.
func (e Env) Fingerprint(w http.ResponseWriter, r *http.Request) {
	body, ok := e.readJSONBody(w, r)
	if !ok {
		return
	}
	if e.HMACAuth != nil && !e.HMACAuth.VerifyHMAC(r, body) {
		writeError(w, http.StatusUnauthorized, "invalid or missing HMAC signature")
		return
	}

	var report signal.Report
	if err := json.Unmarshal(body, &report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json object")
		return
	}
	if err := report.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	fp := e.Composer.Compose(r.Context(), report.Platform(), clientIP(r, e.Cfg.TrustProxy))
	writeJSON(w, http.StatusOK, fp)
}

// Identity binds identity claims to an identity hash.
func (e Env) Identity(w http.ResponseWriter, r *http.Request) {
	var claims identity.Claims
	if !e.decode(w, r, &claims) {
		return
	}
	if err := claims.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"identityHash": claims.Hash()})
}

type dnaRequest struct {
	IdentityHash      string `json:"identityHash"`
	DeviceFingerprint string `json:"deviceFingerprint"`
	Secret            string `json:"secret"`
	UseKeyed          bool   `json:"useKeyed"`
	Wallet            string `json:"wallet,omitempty"`
	Platform          string `json:"platform,omitempty"`
}

type dnaResponse struct {
	DNA      string          `json:"dna"`
	Keyed    bool            `json:"keyed"`
	Screened bool            `json:"screened"`
	Match    bool            `json:"match"`
	Alert    json.RawMessage `json:"alert,omitempty"`
}

// DNA combines identity and device into a DNA hash and screens it.
func (e Env) DNA(w http.ResponseWriter, r *http.Request) {
	var req dnaRequest
	if !e.decode(w, r, &req) {
		return
	}
	dna, err := identity.Combine(req.IdentityHash, req.DeviceFingerprint, req.Secret, req.UseKeyed)
	if err != nil {
		if errors.Is(err, identity.ErrMissingInput) || errors.Is(err, digest.ErrEmptyKey) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		e.logger().Error("combine dna failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := dnaResponse{DNA: dna, Keyed: req.UseKeyed}
	if e.Screening != nil {
		res, err := e.Screening.Check(r.Context(), screening.CheckRequest{
			DNAHash: dna, Wallet: req.Wallet, Platform: req.Platform,
		})
		e.countCheck(res, err)
		if err != nil {
			e.logger().Error("dna screening failed", "error", err)
		} else {
			resp.Screened = true
			resp.Match = res.Match
			if res.Alert != nil {
				resp.Alert, _ = json.Marshal(res.Alert)
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Check screens an existing DNA hash.
func (e Env) Check(w http.ResponseWriter, r *http.Request) {
	var req screening.CheckRequest
	if !e.decode(w, r, &req) {
		return
	}
	res, err := e.Screening.Check(r.Context(), req)
	e.countCheck(res, err)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidDNAHash) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		e.logger().Error("screening failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "fraud registry unavailable")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /v1/signatures
func (e Env) ListSignatures(w http.ResponseWriter, r *http.Request) {
	sigs, err := e.Screening.Signatures(r.Context())
	if err != nil {
		e.logger().Error("list signatures failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "fraud registry unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signatures": sigs, "count": len(sigs)})
}

// POST /v1/signatures
func (e Env) AddSignature(w http.ResponseWriter, r *http.Request) {
	var sig registry.Signature
	if !e.decode(w, r, &sig) {
		return
	}
	sig.DNAHash = strings.TrimSpace(sig.DNAHash)
	saved, err := e.Screening.Flag(r.Context(), sig)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidDNAHash) || errors.Is(err, registry.ErrInvalidID) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, registry.ErrDuplicateID) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		e.logger().Error("add signature failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "fraud registry unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (e Env) countCheck(res screening.Result, err error) {
	if e.Metrics == nil {
		return
	}
	switch {
	case err != nil:
		e.Metrics.IncrementRegistryChecks("error")
	case res.Match:
		e.Metrics.IncrementRegistryChecks("match")
	default:
		e.Metrics.IncrementRegistryChecks("miss")
	}
}

func (e Env) readJSONBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return nil, false
	}
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, e.Cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	return body, true
}

func (e Env) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, ok := e.readJSONBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json object")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
