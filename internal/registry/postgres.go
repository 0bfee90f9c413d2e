package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS fraud_signatures (
	seq      BIGSERIAL PRIMARY KEY,
	id       UUID NOT NULL UNIQUE,
	dna_hash CHAR(64) NOT NULL,
	tags     TEXT[] NOT NULL DEFAULT '{}',
	source   TEXT NOT NULL DEFAULT '',
	added_at TIMESTAMPTZ NOT NULL
)`

// uniqueViolation is the SQLSTATE raised when the id column collides.
const uniqueViolation = "23505"

const indexSQL = `CREATE INDEX IF NOT EXISTS idx_fraud_signatures_dna ON fraud_signatures (dna_hash, seq)`

// Postgres persists signatures in a fraud_signatures table.
type Postgres struct {
	db    *sql.DB
	clock Clock
}

// PostgresOption configures a Postgres registry.
type PostgresOption func(*Postgres)

// WithPostgresClock sets the clock used to stamp AddedAt.
func WithPostgresClock(clock Clock) PostgresOption {
	return func(p *Postgres) {
		if clock != nil {
			p.clock = clock
		}
	}
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) *Postgres {
	p := &Postgres{db: db, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// OpenPostgres connects with the lib/pq driver and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("registry: DATABASE_URL is required for the postgres backend")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgres(db, opts...), nil
}

// EnsureSchema creates the table and index when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, indexSQL); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

func (p *Postgres) Lookup(ctx context.Context, dnaHash string) (Signature, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, dna_hash, tags, source, added_at
		FROM fraud_signatures
		WHERE dna_hash = $1
		ORDER BY seq ASC
		LIMIT 1`, dnaHash)
	sig, err := scanSignature(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Signature{}, ErrNotFound
		}
		return Signature{}, fmt.Errorf("lookup signature: %w", err)
	}
	return sig, nil
}

func (p *Postgres) Insert(ctx context.Context, sig Signature) (Signature, error) {
	sig, err := prepare(sig, p.clock)
	if err != nil {
		return Signature{}, err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO fraud_signatures (id, dna_hash, tags, source, added_at)
		VALUES ($1, $2, $3, $4, $5)`,
		sig.ID, sig.DNAHash, pq.Array(sig.Tags), sig.Source, sig.AddedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return Signature{}, ErrDuplicateID
		}
		return Signature{}, fmt.Errorf("insert signature: %w", err)
	}
	return sig, nil
}

func (p *Postgres) List(ctx context.Context) ([]Signature, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, dna_hash, tags, source, added_at
		FROM fraud_signatures
		ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	defer rows.Close()

	out := []Signature{}
	for rows.Next() {
		sig, err := scanSignature(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signature: %w", err)
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	return out, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanSignature(s scanner) (Signature, error) {
	var (
		sig  Signature
		tags pq.StringArray
	)
	if err := s.Scan(&sig.ID, &sig.DNAHash, &tags, &sig.Source, &sig.AddedAt); err != nil {
		return Signature{}, err
	}
	sig.Tags = []string(tags)
	if sig.Tags == nil {
		sig.Tags = []string{}
	}
	sig.AddedAt = sig.AddedAt.UTC()
	return sig, nil
}
