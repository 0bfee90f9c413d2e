package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shortontech/dnaguard/internal/alert"
	"github.com/shortontech/dnaguard/internal/fingerprint"
	"github.com/shortontech/dnaguard/internal/identity"
	"github.com/shortontech/dnaguard/internal/iprisk"
	"github.com/shortontech/dnaguard/internal/registry"
	"github.com/shortontech/dnaguard/internal/screening"
	cfg "github.com/shortontech/dnaguard/pkg/config"
)

type stubLookup struct {
	mu  sync.Mutex
	ips []string
}

func (s *stubLookup) Evaluate(_ context.Context, ip string) iprisk.Result {
	s.mu.Lock()
	s.ips = append(s.ips, ip)
	s.mu.Unlock()
	return iprisk.Classify(ip, "Norway", "SmallISP", false, "AS64500")
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alert.Event
}

func (d *recordingDispatcher) Dispatch(ev alert.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

type failingRegistry struct{}

func (failingRegistry) Lookup(context.Context, string) (registry.Signature, error) {
	return registry.Signature{}, errors.New("connection refused")
}
func (failingRegistry) Insert(context.Context, registry.Signature) (registry.Signature, error) {
	return registry.Signature{}, errors.New("connection refused")
}
func (failingRegistry) List(context.Context) ([]registry.Signature, error) {
	return nil, errors.New("connection refused")
}

type testEnv struct {
	Env
	lookup   *stubLookup
	alerts   *recordingDispatcher
	registry *registry.Memory
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	lookup := &stubLookup{}
	alerts := &recordingDispatcher{}
	reg := registry.NewMemory()
	logger := quietLogger()
	return &testEnv{
		Env: Env{
			Cfg:       cfg.Config{MaxBodyBytes: 1 << 20},
			Logger:    logger,
			Metrics:   testMetrics(),
			Composer:  fingerprint.NewComposer(lookup, logger),
			Screening: screening.New(reg, alerts, screening.WithLogger(logger)),
			HMACAuth:  NewHMACAuth("", "", false, false, logger),
		},
		lookup:   lookup,
		alerts:   alerts,
		registry: reg,
	}
}

func postJSON(h http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:4321"
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

const sampleReport = `{
  "environment": {
    "userAgent": "Mozilla/5.0 (X11; Linux x86_64)",
    "language": "en-US",
    "platform": "Linux x86_64",
    "screenWidth": 1920,
    "screenHeight": 1080,
    "devicePixelRatio": 1,
    "timezone": "Europe/Oslo",
    "doNotTrack": null,
    "plugins": ["PDF Viewer"]
  },
  "webgl": {"supported": true, "vendor": "Intel", "renderer": "Mesa"},
  "canvas": {"text": "DNA-fingerprint <canvas> 1.0", "font": "14px 'Arial'", "dataUrl": "data:image/png;base64,AAAA"}
}`

func TestHealthAndReady(t *testing.T) {
	e := newTestEnv(t)

	w := httptest.NewRecorder()
	e.Healthz(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	e.Readyz(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("readyz without pinger = %d, want 200", w.Code)
	}

	e.Ready = func(context.Context) error { return errors.New("db down") }
	w = httptest.NewRecorder()
	e.Readyz(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with failing pinger = %d, want 503", w.Code)
	}
}

func TestServeCollector(t *testing.T) {
	e := newTestEnv(t)
	w := httptest.NewRecorder()
	e.ServeCollector(w, httptest.NewRequest(http.MethodGet, "/dna.js", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/javascript") {
		t.Errorf("content-type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "/v1/fingerprint") {
		t.Error("collector script should post to /v1/fingerprint")
	}
}

func TestHMACEndpoints(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		e := newTestEnv(t)
		w := httptest.NewRecorder()
		e.HMACScript(w, httptest.NewRequest(http.MethodGet, "/hmac.js", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("hmac.js status = %d, want 404", w.Code)
		}
		w = httptest.NewRecorder()
		e.HMACPublicKey(w, httptest.NewRequest(http.MethodGet, "/hmac/public-key", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("public-key status = %d, want 404", w.Code)
		}
	})

	t.Run("enabled", func(t *testing.T) {
		e := newTestEnv(t)
		e.HMACAuth = NewHMACAuth("secret", "", true, false, quietLogger())

		w := httptest.NewRecorder()
		e.HMACScript(w, httptest.NewRequest(http.MethodGet, "/hmac.js", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("hmac.js status = %d", w.Code)
		}
		if cc := w.Header().Get("Cache-Control"); cc != "private, no-store" {
			t.Errorf("cache-control = %q", cc)
		}

		w = httptest.NewRecorder()
		e.HMACPublicKey(w, httptest.NewRequest(http.MethodGet, "/hmac/public-key", nil))
		var body map[string]string
		decodeBody(t, w, &body)
		if body["public_key"] != e.HMACAuth.GetPublicKeyBase64() || body["header"] != HMACHeader {
			t.Errorf("public key body = %v", body)
		}
	})
}

func TestFingerprintHandler(t *testing.T) {
	t.Run("composes from report", func(t *testing.T) {
		e := newTestEnv(t)
		w := postJSON(e.Fingerprint, "/v1/fingerprint", sampleReport)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
		}

		var got struct {
			Fingerprint string            `json:"fingerprint"`
			RawSignals  map[string]string `json:"rawSignals"`
			IPRisk      iprisk.Result     `json:"ipRisk"`
		}
		decodeBody(t, w, &got)
		if len(got.Fingerprint) != 64 {
			t.Errorf("fingerprint = %q, want 64 hex chars", got.Fingerprint)
		}
		if got.RawSignals["screen"] != "1920x1080" || got.RawSignals["doNotTrack"] != "unspecified" {
			t.Errorf("rawSignals = %v", got.RawSignals)
		}
		if got.RawSignals["webgl"] != "Intel|Mesa" {
			t.Errorf("webgl = %q", got.RawSignals["webgl"])
		}
		if got.RawSignals["audio"] != "error" {
			t.Errorf("audio without report = %q, want error", got.RawSignals["audio"])
		}
		if got.IPRisk.Address != "192.0.2.10" || got.IPRisk.Tag != iprisk.TagSafe {
			t.Errorf("ipRisk = %+v", got.IPRisk)
		}
		if len(e.lookup.ips) != 1 || e.lookup.ips[0] != "192.0.2.10" {
			t.Errorf("lookup ips = %v", e.lookup.ips)
		}
	})

	t.Run("same report same digest", func(t *testing.T) {
		e := newTestEnv(t)
		a := postJSON(e.Fingerprint, "/v1/fingerprint", sampleReport)
		b := postJSON(e.Fingerprint, "/v1/fingerprint", sampleReport)
		var fa, fb map[string]any
		decodeBody(t, a, &fa)
		decodeBody(t, b, &fb)
		if fa["fingerprint"] != fb["fingerprint"] {
			t.Error("fingerprint should be deterministic")
		}
	})

	tests := []struct {
		name   string
		ct     string
		body   string
		status int
	}{
		{"invalid json", "application/json", `{not json`, http.StatusBadRequest},
		{"wrong content type", "text/plain", `{}`, http.StatusUnsupportedMediaType},
		{"too many plugins", "application/json", `{"environment":{"plugins":[` + strings.Repeat(`"p",`, 300) + `"p"]}}`, http.StatusBadRequest},
		{"short audio", "application/json", `{"audio":{"samples":[0.1,0.2]}}`, http.StatusBadRequest},
		{"separator in value", "application/json", `{"environment":{"userAgent":"ua\u001fen","language":"x"}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			req := httptest.NewRequest(http.MethodPost, "/v1/fingerprint", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.ct)
			w := httptest.NewRecorder()
			e.Fingerprint(w, req)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
		})
	}

	t.Run("body limit", func(t *testing.T) {
		e := newTestEnv(t)
		e.Cfg.MaxBodyBytes = 16
		w := postJSON(e.Fingerprint, "/v1/fingerprint", sampleReport)
		if w.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d, want 413", w.Code)
		}
	})

	t.Run("hmac required", func(t *testing.T) {
		e := newTestEnv(t)
		e.HMACAuth = NewHMACAuth("secret", "", true, false, quietLogger())

		w := postJSON(e.Fingerprint, "/v1/fingerprint", sampleReport)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("unsigned status = %d, want 401", w.Code)
		}

		req := httptest.NewRequest(http.MethodPost, "/v1/fingerprint", strings.NewReader(sampleReport))
		req.RemoteAddr = "192.0.2.10:4321"
		req.Header.Set(HMACHeader, e.HMACAuth.Sign([]byte(sampleReport), "192.0.2.10"))
		w = httptest.NewRecorder()
		e.Fingerprint(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("signed status = %d, want 200 (%s)", w.Code, w.Body.String())
		}
	})
}

func TestIdentityHandler(t *testing.T) {
	e := newTestEnv(t)

	w := postJSON(e.Identity, "/v1/identity", `{"name":"Ada","dateOfBirth":"1815-12-10","biometricVector":"v1","idNumber":"X1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	decodeBody(t, w, &body)
	if want := identity.Bind("Ada", "1815-12-10", "v1", "X1"); body["identityHash"] != want {
		t.Errorf("identityHash = %q, want %q", body["identityHash"], want)
	}

	w = postJSON(e.Identity, "/v1/identity", `{"name":"Ada"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing fields status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "dateOfBirth") {
		t.Errorf("error should name missing fields: %s", w.Body.String())
	}
}

func TestDNAHandler(t *testing.T) {
	idHash := identity.Bind("Ada", "1815-12-10", "v1", "X1")
	dev := strings.Repeat("ab", 32)

	t.Run("no match", func(t *testing.T) {
		e := newTestEnv(t)
		w := postJSON(e.DNA, "/v1/dna", `{"identityHash":"`+idHash+`","deviceFingerprint":"`+dev+`","secret":"s3cr3t"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
		}
		var got dnaResponse
		decodeBody(t, w, &got)
		want, _ := identity.Combine(idHash, dev, "s3cr3t", false)
		if got.DNA != want || got.Keyed || !got.Screened || got.Match {
			t.Errorf("response = %+v", got)
		}
		if n := testutil.ToFloat64(e.Metrics.RegistryChecks.WithLabelValues("miss")); n != 1 {
			t.Errorf("miss checks = %v, want 1", n)
		}
	})

	t.Run("keyed match raises alert", func(t *testing.T) {
		e := newTestEnv(t)
		dna, err := identity.Combine(idHash, dev, "s3cr3t", true)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := e.registry.Insert(context.Background(), registry.Signature{DNAHash: dna, Tags: []string{"mule"}}); err != nil {
			t.Fatal(err)
		}

		w := postJSON(e.DNA, "/v1/dna", `{"identityHash":"`+idHash+`","deviceFingerprint":"`+dev+`","secret":"s3cr3t","useKeyed":true,"wallet":"0xabc"}`)
		var got dnaResponse
		decodeBody(t, w, &got)
		if !got.Match || !got.Keyed || got.DNA != dna {
			t.Fatalf("response = %+v", got)
		}
		var ev alert.Event
		if err := json.Unmarshal(got.Alert, &ev); err != nil {
			t.Fatalf("alert: %v", err)
		}
		if ev.Wallet != "0xabc" || ev.RiskScore != 60 || ev.Severity != alert.SeverityModerate {
			t.Errorf("alert = %+v", ev)
		}
		if e.alerts.count() != 1 {
			t.Errorf("dispatched %d alerts, want 1", e.alerts.count())
		}
	})

	tests := []struct {
		name string
		body string
	}{
		{"missing device", `{"identityHash":"` + idHash + `"}`},
		{"keyed without secret", `{"identityHash":"` + idHash + `","deviceFingerprint":"` + dev + `","useKeyed":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			if w := postJSON(e.DNA, "/v1/dna", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}

	t.Run("registry outage still returns dna", func(t *testing.T) {
		e := newTestEnv(t)
		e.Screening = screening.New(failingRegistry{}, nil, screening.WithLogger(quietLogger()))
		w := postJSON(e.DNA, "/v1/dna", `{"identityHash":"`+idHash+`","deviceFingerprint":"`+dev+`","secret":"x"}`)
		var got dnaResponse
		decodeBody(t, w, &got)
		if w.Code != http.StatusOK || got.DNA == "" || got.Screened {
			t.Errorf("status=%d response=%+v", w.Code, got)
		}
	})
}

func TestCheckHandler(t *testing.T) {
	dna := strings.Repeat("cd", 32)

	t.Run("match", func(t *testing.T) {
		e := newTestEnv(t)
		_, _ = e.registry.Insert(context.Background(), registry.Signature{DNAHash: dna, Tags: []string{"a", "b"}})
		w := postJSON(e.Check, "/v1/check", `{"dnaHash":"`+dna+`","riskScore":95}`)
		var res screening.Result
		decodeBody(t, w, &res)
		if !res.Match || res.Alert == nil || res.Alert.Severity != alert.SeverityCritical {
			t.Errorf("result = %+v", res)
		}
		if n := testutil.ToFloat64(e.Metrics.RegistryChecks.WithLabelValues("match")); n != 1 {
			t.Errorf("match checks = %v", n)
		}
	})

	t.Run("invalid hash", func(t *testing.T) {
		e := newTestEnv(t)
		if w := postJSON(e.Check, "/v1/check", `{"dnaHash":"XYZ"}`); w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("registry unavailable", func(t *testing.T) {
		e := newTestEnv(t)
		e.Screening = screening.New(failingRegistry{}, nil, screening.WithLogger(quietLogger()))
		if w := postJSON(e.Check, "/v1/check", `{"dnaHash":"`+dna+`"}`); w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", w.Code)
		}
		if n := testutil.ToFloat64(e.Metrics.RegistryChecks.WithLabelValues("error")); n != 1 {
			t.Errorf("error checks = %v", n)
		}
	})
}

func TestSignatureHandlers(t *testing.T) {
	e := newTestEnv(t)
	dna := strings.Repeat("ef", 32)

	w := postJSON(e.AddSignature, "/v1/signatures", `{"dnaHash":" `+dna+` ","tags":["mule","mule",""],"source":"manual"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	var saved registry.Signature
	decodeBody(t, w, &saved)
	if saved.ID == "" || saved.DNAHash != dna || len(saved.Tags) != 1 {
		t.Errorf("saved = %+v", saved)
	}

	if w := postJSON(e.AddSignature, "/v1/signatures", `{"dnaHash":"`+dna+`","id":"`+saved.ID+`"}`); w.Code != http.StatusConflict {
		t.Errorf("duplicate id status = %d, want 409", w.Code)
	}
	if w := postJSON(e.AddSignature, "/v1/signatures", `{"dnaHash":"`+dna+`","id":"not-a-uuid"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", w.Code)
	}
	if w := postJSON(e.AddSignature, "/v1/signatures", `{"dnaHash":"short"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad hash status = %d, want 400", w.Code)
	}

	w = httptest.NewRecorder()
	e.ListSignatures(w, httptest.NewRequest(http.MethodGet, "/v1/signatures", nil))
	var list struct {
		Signatures []registry.Signature `json:"signatures"`
		Count      int                  `json:"count"`
	}
	decodeBody(t, w, &list)
	if list.Count != 1 || list.Signatures[0].ID != saved.ID {
		t.Errorf("list = %+v", list)
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusTeapot, "nope")
	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"error":"nope"`)) {
		t.Errorf("body = %s", w.Body.String())
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Error("missing json content-type")
	}
}
