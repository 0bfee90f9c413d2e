package sink

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"

	"github.com/shortontech/dnaguard/internal/alert"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PGConfig configures the Postgres alert archive.
type PGConfig struct {
	DSN     string
	Table   string
	Timeout time.Duration
}

// PGSink archives every alert as a row for later review.
type PGSink struct {
	config PGConfig
	db     *sql.DB
	ctx    context.Context
}

func NewPGSink(dsn string) *PGSink {
	return &PGSink{config: PGConfig{
		DSN:     dsn,
		Table:   getEnvOr("ALERT_PG_TABLE", "fraud_alerts"),
		Timeout: 5 * time.Second,
	}}
}

func (s *PGSink) Name() string { return "postgres" }

func (s *PGSink) Start(ctx context.Context) error {
	if !tableName.MatchString(s.config.Table) {
		return fmt.Errorf("invalid alert table name %q", s.config.Table)
	}
	s.ctx = ctx
	if s.db == nil {
		if s.config.DSN == "" {
			return fmt.Errorf("postgres alert sink requires DATABASE_URL")
		}
		db, err := sql.Open("postgres", s.config.DSN)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		s.db = db
	}
	return s.ensureSchema()
}

func (s *PGSink) ensureSchema() error {
	ctx, cancel := s.opContext()
	defer cancel()

	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		severity TEXT NOT NULL,
		risk_score INT NOT NULL,
		wallet TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL DEFAULT '',
		dna_hash TEXT NOT NULL,
		matched_tags TEXT[] NOT NULL DEFAULT '{}'
	)`, s.config.Table)
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_dna ON %s (dna_hash, ts)`, s.config.Table, s.config.Table)
	if _, err := s.db.ExecContext(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

func (s *PGSink) Enqueue(ev alert.Event) error {
	if s.db == nil {
		return fmt.Errorf("postgres sink not started")
	}
	ctx, cancel := s.opContext()
	defer cancel()

	query := fmt.Sprintf(`INSERT INTO %s (ts, severity, risk_score, wallet, platform, dna_hash, matched_tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, s.config.Table)
	tags := ev.MatchedTags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.db.ExecContext(ctx, query,
		ev.Timestamp.UTC(), string(ev.Severity), ev.RiskScore, ev.Wallet, ev.Platform, ev.DNAHash, pq.Array(tags))
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (s *PGSink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PGSink) opContext() (context.Context, context.CancelFunc) {
	parent := s.ctx
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, s.config.Timeout)
}
