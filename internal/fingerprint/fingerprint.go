// Package fingerprint composes collected signals and the IP verdict into a
// single device fingerprint digest.
package fingerprint

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/shortontech/dnaguard/internal/digest"
	"github.com/shortontech/dnaguard/internal/iprisk"
	"github.com/shortontech/dnaguard/internal/signal"
)

// Separator joins canonical values. signal.Report.Validate rejects reported
// values containing it and IP provider strings are stripped of it.
const Separator = signal.Separator

// Fingerprint is the composite identifier of one browser session.
type Fingerprint struct {
	Digest  string        `json:"fingerprint"`
	Signals signal.Set    `json:"rawSignals"`
	IP      iprisk.Result `json:"ipRisk"`
}

// Canonical renders set and ip in the fixed join order.
func Canonical(set signal.Set, ip iprisk.Result) string {
	parts := append(set.Canonical(), ip.Fields()...)
	return strings.Join(parts, Separator)
}

// DigestOf is the fingerprint digest for set and ip.
func DigestOf(set signal.Set, ip iprisk.Result) string {
	return digest.DigestString(Canonical(set, ip))
}

// Composer runs the collectors against a platform. Sync collectors run on
// the calling goroutine while Async collectors and the IP lookup run
// concurrently.
type Composer struct {
	Sync   []signal.Collector
	Async  []signal.Collector
	IP     iprisk.Lookup
	Logger *slog.Logger
	// OnCompose, when set, sees every fingerprint produced.
	OnCompose func(Fingerprint)
}

// NewComposer wires the standard collectors.
func NewComposer(ip iprisk.Lookup, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		Sync: []signal.Collector{
			signal.EnvironmentCollector{},
			signal.GraphicsCollector{},
			signal.RasterCollector{},
		},
		Async:  []signal.Collector{signal.AudioCollector{}},
		IP:     ip,
		Logger: logger,
	}
}

// Compose always returns a fingerprint. Collector failures are absorbed as
// sentinel values and a failed IP lookup as a degraded verdict.
func (c *Composer) Compose(ctx context.Context, p signal.Platform, clientIP string) Fingerprint {
	set := signal.NewSet()
	asyncVals := make([][]signal.Value, len(c.Async))
	ip := iprisk.Degraded()

	g, gctx := errgroup.WithContext(ctx)
	for i, col := range c.Async {
		i, col := i, col
		g.Go(func() error {
			asyncVals[i] = signal.Run(gctx, col, p)
			return nil
		})
	}
	if c.IP != nil {
		g.Go(func() error {
			ip = c.IP.Evaluate(gctx, clientIP)
			return nil
		})
	}

	for _, col := range c.Sync {
		c.apply(&set, col.Signals(), signal.Run(ctx, col, p))
	}
	_ = g.Wait()
	for i, col := range c.Async {
		c.apply(&set, col.Signals(), asyncVals[i])
	}

	fp := Fingerprint{Digest: DigestOf(set, ip), Signals: set, IP: ip}
	if failed := set.Failed(); len(failed) > 0 {
		c.logger().Debug("signals without reading", "signals", failed)
	}
	if c.OnCompose != nil {
		c.OnCompose(fp)
	}
	return fp
}

func (c *Composer) apply(set *signal.Set, names []signal.Name, vals []signal.Value) {
	for i, n := range names {
		if !set.Put(n, vals[i]) {
			c.logger().Warn("collector produced undeclared signal", "signal", n)
		}
	}
}

func (c *Composer) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
