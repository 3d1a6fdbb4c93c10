package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinelai/risk-engine/internal/domain"
)

// Store implements repository.Store on PostgreSQL. The dedup invariant is
// enforced by a partial unique index over active cases, so concurrent
// submissions of identical content collapse into one row at the database
// level.
type Store struct {
	Pool *pgxpool.Pool
}

// Connect opens a pool against the given URL and verifies it with a ping.
func Connect(ctx context.Context, url string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{Pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.Pool.Close() }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cases (
		id                  UUID PRIMARY KEY,
		content_fingerprint TEXT NOT NULL,
		risk_score          DOUBLE PRECISION NOT NULL,
		ai_probability      DOUBLE PRECISION NOT NULL,
		fraud_probability   DOUBLE PRECISION NOT NULL,
		risk_level          TEXT NOT NULL,
		status              TEXT NOT NULL,
		escalation_reason   TEXT NOT NULL DEFAULT '',
		assigned_to         TEXT,
		client_id           TEXT,
		result_json         JSONB,
		version             BIGINT NOT NULL DEFAULT 1,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	// At most one active case per fingerprint; terminal cases fall out of
	// the index so re-submissions of settled content start fresh.
	`CREATE UNIQUE INDEX IF NOT EXISTS cases_active_fingerprint_uniq
		ON cases (content_fingerprint)
		WHERE status NOT IN ('RESOLVED', 'FALSE_POSITIVE')`,
	`CREATE INDEX IF NOT EXISTS cases_created_at_idx ON cases (created_at)`,
	`CREATE INDEX IF NOT EXISTS cases_status_idx ON cases (status)`,

	`CREATE TABLE IF NOT EXISTS case_notes (
		id        BIGSERIAL PRIMARY KEY,
		case_id   UUID NOT NULL REFERENCES cases(id),
		author    TEXT NOT NULL,
		note      TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS case_notes_case_idx ON case_notes (case_id, id)`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id                  BIGSERIAL PRIMARY KEY,
		timestamp           TIMESTAMPTZ NOT NULL DEFAULT now(),
		source_channel      TEXT NOT NULL,
		content_fingerprint TEXT NOT NULL,
		ai_probability      DOUBLE PRECISION NOT NULL,
		fraud_probability   DOUBLE PRECISION NOT NULL,
		fraud_risk_score    DOUBLE PRECISION NOT NULL,
		risk_level          TEXT NOT NULL,
		result_json         JSONB,
		flagged             BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS audit_logs_timestamp_idx ON audit_logs (timestamp)`,
	`CREATE INDEX IF NOT EXISTS audit_logs_flagged_idx ON audit_logs (flagged) WHERE flagged`,
}

// Migrate creates the tables and indexes if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// unavailable wraps an infrastructure failure so callers can classify it
// as retryable without depending on pgx types.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrRepositoryUnavailable, op, err)
}
