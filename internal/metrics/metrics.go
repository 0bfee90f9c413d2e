package metrics

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shortontech/dnaguard/internal/signal"
)

// Metrics holds all the Prometheus metrics for dnaguard
type Metrics struct {
	// Counters
	FingerprintsComposed prometheus.Counter
	SignalSentinels      *prometheus.CounterVec
	IPLookups            *prometheus.CounterVec
	RegistryChecks       *prometheus.CounterVec
	AlertDeliveries      *prometheus.CounterVec
	HTTPRequests         *prometheus.CounterVec

	// Gauges
	LiveSubscribers prometheus.Gauge

	// Histograms
	DeliveryLatency *prometheus.HistogramVec
	HTTPDuration    *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// Config holds configuration for the metrics server
type Config struct {
	Enabled    bool
	Addr       string
	TLSCert    string
	TLSKey     string
	ClientCA   string
	RequireTLS bool
}

// LoadConfig loads metrics configuration from environment variables
func LoadConfig() Config {
	return Config{
		Enabled:    getBool("METRICS_ENABLED", false),
		Addr:       getOr("METRICS_ADDR", "127.0.0.1:9090"),
		TLSCert:    getOr("METRICS_TLS_CERT", ""),
		TLSKey:     getOr("METRICS_TLS_KEY", ""),
		ClientCA:   getOr("METRICS_CLIENT_CA", ""),
		RequireTLS: getBool("METRICS_REQUIRE_TLS", false),
	}
}

// NewMetrics registers all metrics with the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWith registers all metrics with reg; g serves them on /metrics.
func NewMetricsWith(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	m := &Metrics{
		FingerprintsComposed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnaguard_fingerprints_composed_total",
			Help: "Total device fingerprints composed",
		}),

		SignalSentinels: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnaguard_signal_sentinels_total",
				Help: "Signals that produced a sentinel instead of a reading",
			},
			[]string{"signal", "status"},
		),

		IPLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnaguard_ip_lookups_total",
				Help: "IP risk lookups by outcome",
			},
			[]string{"outcome"},
		),

		RegistryChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnaguard_registry_checks_total",
				Help: "Fraud registry checks by result",
			},
			[]string{"result"},
		),

		AlertDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnaguard_alert_deliveries_total",
				Help: "Alert deliveries by sink and status",
			},
			[]string{"sink", "status"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnaguard_http_requests_total",
				Help: "Total HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		LiveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dnaguard_live_subscribers",
			Help: "Currently connected live alert subscribers",
		}),

		DeliveryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dnaguard_alert_delivery_seconds",
				Help:    "Latency of delivering one alert to one sink",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"sink"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dnaguard_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method"},
		),

		gatherer: g,
	}

	reg.MustRegister(
		m.FingerprintsComposed,
		m.SignalSentinels,
		m.IPLookups,
		m.RegistryChecks,
		m.AlertDeliveries,
		m.HTTPRequests,
		m.LiveSubscribers,
		m.DeliveryLatency,
		m.HTTPDuration,
	)
	return m
}

// Handler serves the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveSignals counts a composed fingerprint and every sentinel in it.
func (m *Metrics) ObserveSignals(set signal.Set) {
	m.FingerprintsComposed.Inc()
	for _, name := range signal.Names {
		if v := set.Get(name); !v.IsOK() {
			m.SignalSentinels.WithLabelValues(string(name), v.Status.String()).Inc()
		}
	}
}

func (m *Metrics) IncrementIPLookups(outcome string) {
	m.IPLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementRegistryChecks(result string) {
	m.RegistryChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveDelivery(sink, status string, duration time.Duration) {
	m.AlertDeliveries.WithLabelValues(sink, status).Inc()
	m.DeliveryLatency.WithLabelValues(sink).Observe(duration.Seconds())
}

func (m *Metrics) SetLiveSubscribers(n int) {
	m.LiveSubscribers.Set(float64(n))
}

func (m *Metrics) IncrementHTTPRequests(endpoint, method, status string) {
	m.HTTPRequests.WithLabelValues(endpoint, method, status).Inc()
}

func (m *Metrics) ObserveHTTPDuration(endpoint, method string, duration time.Duration) {
	m.HTTPDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// Server represents the metrics HTTP server
type Server struct {
	server *http.Server
	config Config
	logger *slog.Logger
}

// NewServer creates a new metrics server exposing handler on /metrics
func NewServer(config Config, handler http.Handler, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if handler == nil {
		handler = promhttp.Handler()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if config.useTLS() {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if config.ClientCA != "" {
			clientCAs, err := loadCertPool(config.ClientCA)
			if err != nil {
				return nil, fmt.Errorf("metrics: load client CA: %w", err)
			}
			tlsConfig.ClientCAs = clientCAs
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
			logger.Info("metrics: mTLS enabled", "client_ca", config.ClientCA)
		}
		srv.TLSConfig = tlsConfig
	}

	return &Server{server: srv, config: config, logger: logger}, nil
}

func (c Config) useTLS() bool {
	return c.RequireTLS && c.TLSCert != "" && c.TLSKey != ""
}

// Start binds the listener and serves in a separate goroutine
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("metrics: disabled (METRICS_ENABLED=false)")
		return nil
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("metrics: listen: %w", err)
	}

	go func() {
		var err error
		if s.config.useTLS() {
			s.logger.Info("metrics: HTTPS server listening", "addr", ln.Addr().String())
			err = s.server.ServeTLS(ln, s.config.TLSCert, s.config.TLSKey)
		} else {
			s.logger.Info("metrics: HTTP server listening", "addr", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics: server error", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}
	s.logger.Info("metrics: shutting down server")
	return s.server.Shutdown(ctx)
}

func getOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func loadCertPool(certFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(certFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", certFile)
	}
	return pool, nil
}
