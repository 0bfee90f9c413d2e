package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerAddr   string
	TrustProxy   bool
	MaxBodyBytes int64 // bytes for JSON request bodies

	// HMAC signing of /v1/fingerprint reports
	HMACSecret    string
	HMACPublicKey string
	RequireHMAC   bool

	IPLookupURL     string
	IPLookupTimeout time.Duration

	ChatWebhookURL  string // empty disables the chat sink
	AdminWebhookURL string // empty disables the admin sink
	WebhookTimeout  time.Duration
	AlertOutputs    []string // enabled alert sinks: live, chat, admin, kafka, log, postgres

	RegistryBackend string // memory, postgres, redis
	DatabaseURL     string
	RedisURL        string

	TestMode bool
	LogLevel slog.Level
}

func getOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func getBool(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch v {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return def
}
func getInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

// getDuration accepts Go duration strings ("3s") or a bare number of milliseconds.
func getDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func getStringSlice(k, def string) []string {
	v := os.Getenv(k)
	if v == "" {
		v = def
	}
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func getLevel(k string, def slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return def
	}
	return lvl
}

func Load() Config {
	return Config{
		ServerAddr:   getOr("SERVER_ADDR", ":19890"),
		TrustProxy:   getBool("TRUST_PROXY", false),
		MaxBodyBytes: getInt64("MAX_BODY_BYTES", 1<<20), // 1 MiB default

		HMACSecret:    getOr("HMAC_SECRET", ""),
		HMACPublicKey: getOr("HMAC_PUBLIC_KEY", ""),
		RequireHMAC:   getBool("REQUIRE_HMAC", false),

		IPLookupURL:     getOr("IP_LOOKUP_URL", "https://ipwho.is"),
		IPLookupTimeout: getDuration("IP_LOOKUP_TIMEOUT", 3*time.Second),

		ChatWebhookURL:  getOr("CHAT_WEBHOOK_URL", ""),
		AdminWebhookURL: getOr("ADMIN_WEBHOOK_URL", ""),
		WebhookTimeout:  getDuration("WEBHOOK_TIMEOUT", 5*time.Second),
		AlertOutputs:    getStringSlice("ALERT_OUTPUTS", "live,chat,admin"),

		RegistryBackend: strings.ToLower(getOr("REGISTRY_BACKEND", "memory")),
		DatabaseURL:     getOr("DATABASE_URL", ""),
		RedisURL:        getOr("REDIS_URL", ""),

		TestMode: getBool("TEST_MODE", false),
		LogLevel: getLevel("LOG_LEVEL", slog.LevelInfo),
	}
}

// HasOutput reports whether the named alert sink is enabled.
func (c Config) HasOutput(name string) bool {
	for _, o := range c.AlertOutputs {
		if strings.EqualFold(o, name) {
			return true
		}
	}
	return false
}
