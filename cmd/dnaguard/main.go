package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shortontech/dnaguard/internal/alert"
	"github.com/shortontech/dnaguard/internal/fingerprint"
	httpx "github.com/shortontech/dnaguard/internal/http"
	"github.com/shortontech/dnaguard/internal/iprisk"
	"github.com/shortontech/dnaguard/internal/metrics"
	"github.com/shortontech/dnaguard/internal/registry"
	"github.com/shortontech/dnaguard/internal/screening"
	"github.com/shortontech/dnaguard/internal/sink"
	"github.com/shortontech/dnaguard/pkg/config"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appMetrics := metrics.NewMetrics()
	metricsServer, err := metrics.NewServer(metrics.LoadConfig(), appMetrics.Handler(), logger)
	if err != nil {
		logger.Error("metrics server setup failed", "error", err)
		os.Exit(1)
	}
	if err := metricsServer.Start(ctx); err != nil {
		logger.Error("metrics server failed to start", "error", err)
		os.Exit(1)
	}

	a, err := newApp(ctx, cfg, appMetrics, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	testDone := make(chan struct{})
	if cfg.TestMode {
		go func() {
			defer close(testDone)
			runTestMode(ctx, a.screening, logger)
		}()
	} else {
		close(testDone)
	}

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("dnaguard listening", "addr", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	<-testDone
	a.close()
}

// app holds the wired components behind the HTTP handler.
type app struct {
	handler   http.Handler
	hub       *sink.LiveHub
	fanout    *sink.Fanout
	registry  registry.Registry
	screening *screening.Service
	logger    *slog.Logger
}

func newApp(ctx context.Context, cfg config.Config, m *metrics.Metrics, logger *slog.Logger) (*app, error) {
	reg, err := registry.Open(ctx, cfg.RegistryBackend, cfg.DatabaseURL, cfg.RedisURL, logger)
	if err != nil {
		return nil, err
	}

	hub := sink.NewLiveHub(logger)
	hub.OnCount = m.SetLiveSubscribers

	fanout := sink.NewFanout(logger, initializeSinks(ctx, cfg, hub, logger)...)
	fanout.Observe = func(_ alert.Event, o sink.Outcome) {
		m.ObserveDelivery(o.Sink, o.Status, o.Duration)
	}

	evaluator := iprisk.NewEvaluator(cfg.IPLookupURL, cfg.IPLookupTimeout, logger)
	evaluator.Observe = m.IncrementIPLookups

	composer := fingerprint.NewComposer(evaluator, logger)
	composer.OnCompose = func(fp fingerprint.Fingerprint) {
		m.ObserveSignals(fp.Signals)
	}

	svc := screening.New(reg, fanout, screening.WithLogger(logger))

	env := httpx.Env{
		Cfg:       cfg,
		Logger:    logger,
		Metrics:   m,
		Composer:  composer,
		Screening: svc,
		HMACAuth:  initializeHMACAuth(cfg, logger),
	}
	if cfg.HasOutput("live") {
		env.Live = http.HandlerFunc(hub.ServeWS)
	}
	if p, ok := reg.(registry.Pinger); ok {
		env.Ready = p.Ping
	}

	return &app{
		handler:   httpx.NewRouter(env),
		hub:       hub,
		fanout:    fanout,
		registry:  reg,
		screening: svc,
		logger:    logger,
	}, nil
}

// close stops alert intake, waits for in-flight alerts, then releases sinks
// and the registry.
func (a *app) close() {
	a.fanout.Drain()
	for _, s := range a.fanout.Sinks() {
		if err := s.Close(); err != nil {
			a.logger.Warn("sink close failed", "sink", s.Name(), "error", err)
		}
	}
	if c, ok := a.registry.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("registry close failed", "error", err)
		}
	}
}

// initializeSinks builds and starts the alert sinks named in ALERT_OUTPUTS.
// Sinks that fail to start are logged and left out.
func initializeSinks(ctx context.Context, cfg config.Config, hub *sink.LiveHub, logger *slog.Logger) []sink.Sink {
	var sinks []sink.Sink
	for _, output := range cfg.AlertOutputs {
		var s sink.Sink
		switch strings.ToLower(output) {
		case "live":
			s = hub
		case "chat":
			s = sink.NewChatWebhook(cfg.ChatWebhookURL, cfg.WebhookTimeout)
		case "admin":
			s = sink.NewAdminWebhook(cfg.AdminWebhookURL, cfg.WebhookTimeout)
		case "kafka":
			s = sink.NewKafkaSinkFromEnv(logger)
		case "log":
			s = sink.NewLogSink()
		case "postgres":
			s = sink.NewPGSink(cfg.DatabaseURL)
		default:
			logger.Warn("unknown alert output", "output", output)
			continue
		}
		if w, ok := s.(*sink.Webhook); ok && !w.Configured() {
			logger.Info("alert webhook not configured, deliveries will be skipped", "sink", w.Name())
		}
		if err := s.Start(ctx); err != nil {
			logger.Error("alert sink failed to start", "sink", s.Name(), "error", err)
			continue
		}
		logger.Info("alert sink started", "sink", s.Name())
		sinks = append(sinks, s)
	}
	return sinks
}

func initializeHMACAuth(cfg config.Config, logger *slog.Logger) *httpx.HMACAuth {
	if cfg.HMACSecret == "" && !cfg.RequireHMAC {
		return nil
	}
	if cfg.HMACSecret == "" {
		logger.Error("REQUIRE_HMAC is set without HMAC_SECRET; fingerprint reports will be rejected")
	}
	auth := httpx.NewHMACAuth(cfg.HMACSecret, cfg.HMACPublicKey, cfg.RequireHMAC, cfg.TrustProxy, logger)
	logger.Info("HMAC authentication enabled", "required", cfg.RequireHMAC, "key_id", auth.GetPublicKeyBase64())
	return auth
}
