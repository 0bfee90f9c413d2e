package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/shortontech/dnaguard/internal/identity"
	"github.com/shortontech/dnaguard/internal/registry"
	"github.com/shortontech/dnaguard/internal/screening"
)

// testSession is a synthetic identity and device used to exercise the
// registry and alert sinks without a browser.
type testSession struct {
	claims   identity.Claims
	device   string
	secret   string
	keyed    bool
	wallet   string
	platform string
	tags     []string
}

func testSessions() []testSession {
	return []testSession{
		{
			claims:   identity.Claims{Name: "Test Mule", DateOfBirth: "1990-01-01", BiometricVector: "0.12,0.98,0.33", IDNumber: "TM-0001"},
			device:   "3f2a9c1e7b5d4f60a8e2c1b09d7f6e5a4c3b2a1908f7e6d5c4b3a29180f7e6d5",
			secret:   "test-mode-secret",
			keyed:    true,
			wallet:   "0x1111111111111111111111111111111111111111",
			platform: "web",
			tags:     []string{"money_mule", "chargeback", "synthetic_id"},
		},
		{
			claims:   identity.Claims{Name: "Test Bonus Abuser", DateOfBirth: "1985-06-15", BiometricVector: "0.44,0.21,0.67", IDNumber: "TB-0002"},
			device:   "a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90",
			secret:   "test-mode-secret",
			wallet:   "0x2222222222222222222222222222222222222222",
			platform: "ios",
			tags:     []string{"bonus_abuse"},
		},
		{
			claims:   identity.Claims{Name: "Test Watchlist", DateOfBirth: "2000-12-31", BiometricVector: "0.90,0.05,0.15", IDNumber: "TW-0003"},
			device:   "ffeeddccbbaa99887766554433221100ffeeddccbbaa99887766554433221100",
			platform: "android",
		},
	}
}

func (s testSession) dna() (string, error) {
	return identity.Combine(s.claims.Hash(), s.device, s.secret, s.keyed)
}

// runTestMode flags each synthetic session and screens it once so every
// enabled sink receives an alert.
func runTestMode(ctx context.Context, svc *screening.Service, logger *slog.Logger) int {
	logger.Info("test mode: seeding fraud signatures")

	sessions := testSessions()
	fired := 0
	for i, s := range sessions {
		dna, err := s.dna()
		if err != nil {
			logger.Error("test mode: derive dna failed", "session", i, "error", err)
			continue
		}
		if _, err := svc.Flag(ctx, registry.Signature{DNAHash: dna, Tags: s.tags, Source: "test-mode"}); err != nil {
			logger.Error("test mode: flag failed", "session", i, "error", err)
			continue
		}
		res, err := svc.Check(ctx, screening.CheckRequest{DNAHash: dna, Wallet: s.wallet, Platform: s.platform})
		if err != nil {
			logger.Error("test mode: check failed", "session", i, "error", err)
			continue
		}
		if res.Match {
			fired++
			logger.Info("test mode: alert fired", "session", i+1, "of", len(sessions), "dna_hash", dna, "severity", res.Alert.Severity)
		}

		if i < len(sessions)-1 {
			select {
			case <-ctx.Done():
				return fired
			case <-time.After(200 * time.Millisecond):
			}
		}
	}

	logger.Info("test mode: done", "alerts", fired)
	return fired
}
