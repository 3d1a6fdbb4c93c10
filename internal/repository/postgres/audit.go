package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sentinelai/risk-engine/internal/domain"
	"github.com/sentinelai/risk-engine/internal/fingerprint"
)

const auditColumns = `id, timestamp, source_channel, content_fingerprint,
	ai_probability, fraud_probability, fraud_risk_score, risk_level, result_json, flagged`

// Append inserts one audit entry. The BIGSERIAL id keeps the log in
// monotonic insertion order; nothing ever updates or deletes these rows.
func (s *Store) Append(ctx context.Context, entry *domain.AuditLogEntry) error {
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO audit_logs (source_channel, content_fingerprint, ai_probability,
			fraud_probability, fraud_risk_score, risk_level, result_json, flagged)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, timestamp`,
		string(entry.SourceChannel),
		entry.ContentFingerprint.String(),
		entry.AIProbability,
		entry.FraudProbability,
		entry.FraudRiskScore,
		string(entry.RiskLevel),
		entry.Detail,
		entry.Flagged,
	).Scan(&entry.ID, &entry.Timestamp)
	if err != nil {
		return unavailable("append audit entry", err)
	}
	return nil
}

// Query returns matching entries in id order.
func (s *Store) Query(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditLogEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE 1=1`
	args := make([]any, 0, 6)

	if f.FromID > 0 {
		args = append(args, f.FromID)
		query += fmt.Sprintf(" AND id >= $%d", len(args))
	}
	if f.ToID > 0 {
		args = append(args, f.ToID)
		query += fmt.Sprintf(" AND id <= $%d", len(args))
	}
	if f.FlaggedOnly {
		query += " AND flagged"
	}
	if f.SourceChannel != "" {
		args = append(args, string(f.SourceChannel))
		query += fmt.Sprintf(" AND source_channel = $%d", len(args))
	}
	query += " ORDER BY id ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return s.queryAudit(ctx, query, args...)
}

// AuditEntriesSince returns all entries stamped at or after the given
// instant, in id order, for analytics snapshots.
func (s *Store) AuditEntriesSince(ctx context.Context, since time.Time) ([]*domain.AuditLogEntry, error) {
	return s.queryAudit(ctx,
		`SELECT `+auditColumns+` FROM audit_logs WHERE timestamp >= $1 ORDER BY id ASC`,
		since)
}

func (s *Store) queryAudit(ctx context.Context, query string, args ...any) ([]*domain.AuditLogEntry, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query audit log", err)
	}
	defer rows.Close()

	var out []*domain.AuditLogEntry
	for rows.Next() {
		var (
			e     domain.AuditLogEntry
			fpStr string
		)
		err := rows.Scan(&e.ID, &e.Timestamp, &e.SourceChannel, &fpStr,
			&e.AIProbability, &e.FraudProbability, &e.FraudRiskScore,
			&e.RiskLevel, &e.Detail, &e.Flagged)
		if err != nil {
			return nil, unavailable("scan audit entry", err)
		}
		fp, err := fingerprint.Parse(fpStr)
		if err != nil {
			return nil, unavailable("decode audit fingerprint", err)
		}
		e.ContentFingerprint = fp
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query audit log", err)
	}
	return out, nil
}
