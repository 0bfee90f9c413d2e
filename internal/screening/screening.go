// Package screening matches DNA hashes against the fraud registry and raises
// alerts on a hit.
package screening

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shortontech/dnaguard/internal/alert"
	"github.com/shortontech/dnaguard/internal/registry"
)

// Dispatcher starts alert delivery without waiting for it.
type Dispatcher interface {
	Dispatch(ev alert.Event)
}

// CheckRequest describes the session being screened. RiskScore, when set,
// overrides the score derived from matched tags.
type CheckRequest struct {
	DNAHash   string `json:"dnaHash"`
	Wallet    string `json:"wallet,omitempty"`
	Platform  string `json:"platform,omitempty"`
	RiskScore *int   `json:"riskScore,omitempty"`
}

type Result struct {
	Match     bool                `json:"match"`
	Signature *registry.Signature `json:"signature,omitempty"`
	Alert     *alert.Event        `json:"alert,omitempty"`
}

type Service struct {
	registry registry.Registry
	alerts   Dispatcher
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(reg registry.Registry, alerts Dispatcher, opts ...Option) *Service {
	s := &Service{
		registry: reg,
		alerts:   alerts,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Check looks up req.DNAHash and dispatches an alert when it is flagged.
func (s *Service) Check(ctx context.Context, req CheckRequest) (Result, error) {
	dna := strings.TrimSpace(req.DNAHash)
	if err := registry.ValidateDNAHash(dna); err != nil {
		return Result{}, err
	}

	sig, err := s.registry.Lookup(ctx, dna)
	if errors.Is(err, registry.ErrNotFound) {
		return Result{Match: false}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("screening lookup: %w", err)
	}

	score := alert.ScoreForTags(sig.Tags)
	if req.RiskScore != nil {
		score = alert.ClampScore(*req.RiskScore)
	}
	ev := alert.Event{
		Severity:    alert.SeverityForScore(score),
		Wallet:      req.Wallet,
		RiskScore:   score,
		Platform:    req.Platform,
		MatchedTags: append([]string(nil), sig.Tags...),
		DNAHash:     dna,
		Timestamp:   s.now().UTC(),
	}
	s.logger.Warn("fraud signature matched",
		"dna_hash", dna, "signature_id", sig.ID, "severity", ev.Severity, "risk_score", score)
	if s.alerts != nil {
		s.alerts.Dispatch(ev)
	}
	return Result{Match: true, Signature: &sig, Alert: &ev}, nil
}

// Flag adds a signature to the registry.
func (s *Service) Flag(ctx context.Context, sig registry.Signature) (registry.Signature, error) {
	saved, err := s.registry.Insert(ctx, sig)
	if err != nil {
		return registry.Signature{}, err
	}
	s.logger.Info("fraud signature added", "dna_hash", saved.DNAHash, "signature_id", saved.ID, "tags", saved.Tags)
	return saved, nil
}

// Signatures lists the registry contents.
func (s *Service) Signatures(ctx context.Context) ([]registry.Signature, error) {
	return s.registry.List(ctx)
}
