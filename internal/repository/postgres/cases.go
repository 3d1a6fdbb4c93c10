package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sentinelai/risk-engine/internal/domain"
	"github.com/sentinelai/risk-engine/internal/fingerprint"
	"github.com/sentinelai/risk-engine/internal/repository"
)

const caseColumns = `id, content_fingerprint, risk_score, ai_probability, fraud_probability,
	risk_level, status, escalation_reason, assigned_to, client_id, result_json,
	version, created_at, updated_at`

// UpsertActiveByFingerprint relies on the partial unique index over active
// cases: the insert either lands as a fresh row or collides with the one
// active case holding the fingerprint, in which case only the snapshot
// fields are refreshed. Status never moves here and the reason is kept
// unless the new assessment escalated.
func (s *Store) UpsertActiveByFingerprint(ctx context.Context, eval repository.Evaluation) (*domain.Case, bool, error) {
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO cases (id, content_fingerprint, risk_score, ai_probability, fraud_probability,
			risk_level, status, escalation_reason, client_id, result_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (content_fingerprint) WHERE status NOT IN ('RESOLVED', 'FALSE_POSITIVE')
		DO UPDATE SET
			risk_score        = EXCLUDED.risk_score,
			ai_probability    = EXCLUDED.ai_probability,
			fraud_probability = EXCLUDED.fraud_probability,
			risk_level        = EXCLUDED.risk_level,
			escalation_reason = CASE WHEN $11 THEN EXCLUDED.escalation_reason
			                         ELSE cases.escalation_reason END,
			version           = cases.version + 1,
			updated_at        = now()
		RETURNING `+caseColumns+`, (xmax = 0) AS inserted`,
		uuid.New().String(),
		eval.Fingerprint.String(),
		eval.Assessment.RiskScore,
		eval.Assessment.AIProbability,
		eval.Assessment.FraudProbability,
		string(eval.Assessment.RiskLevel),
		string(eval.InitialStatus()),
		eval.Assessment.EscalationReason,
		eval.ClientID,
		eval.Detail,
		eval.Assessment.Escalated(),
	)

	var (
		c        domain.Case
		inserted bool
	)
	if err := scanCaseInto(row, &c, &inserted); err != nil {
		return nil, false, unavailable("upsert case by fingerprint", err)
	}
	return &c, inserted, nil
}

// Create inserts a fresh case unconditionally.
func (s *Store) Create(ctx context.Context, c *domain.Case) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	row := s.Pool.QueryRow(ctx, `
		INSERT INTO cases (id, content_fingerprint, risk_score, ai_probability, fraud_probability,
			risk_level, status, escalation_reason, assigned_to, client_id, result_json,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+caseColumns,
		c.ID.String(),
		c.ContentFingerprint.String(),
		c.RiskScore,
		c.AIProbability,
		c.FraudProbability,
		string(c.RiskLevel),
		string(c.Status),
		c.EscalationReason,
		c.AssignedTo,
		c.ClientID,
		c.Detail,
		c.CreatedAt,
		c.UpdatedAt,
	)

	var stored domain.Case
	if err := scanCaseInto(row, &stored); err != nil {
		return unavailable("create case", err)
	}
	*c = stored
	return nil
}

// GetByID returns the case or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.Case, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE id = $1`, id.String())

	var c domain.Case
	err := scanCaseInto(row, &c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: case %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, unavailable("get case", err)
	}
	return &c, nil
}

// List returns cases matching the filter, newest first.
func (s *Store) List(ctx context.Context, f domain.CaseFilter) ([]*domain.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE 1=1`
	args := make([]any, 0, 5)

	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.RiskLevel != "" {
		args = append(args, string(f.RiskLevel))
		query += fmt.Sprintf(" AND risk_level = $%d", len(args))
	}
	if f.ClientID != "" {
		args = append(args, f.ClientID)
		query += fmt.Sprintf(" AND client_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list cases", err)
	}
	defer rows.Close()

	var out []*domain.Case
	for rows.Next() {
		var c domain.Case
		if err := scanCaseInto(rows, &c); err != nil {
			return nil, unavailable("scan case", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list cases", err)
	}
	return out, nil
}

// UpdateStatus performs the optimistic compare-and-swap on version. A
// missing row is disambiguated into NotFound versus VersionConflict with a
// follow-up read.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int64, status domain.CaseStatus, assignedTo *string) (*domain.Case, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE cases SET
			status      = $3,
			assigned_to = COALESCE($4, assigned_to),
			version     = version + 1,
			updated_at  = now()
		WHERE id = $1 AND version = $2
		RETURNING `+caseColumns,
		id.String(), expectedVersion, string(status), assignedTo)

	var c domain.Case
	err := scanCaseInto(row, &c)
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, unavailable("update case status", err)
	}

	var current int64
	err = s.Pool.QueryRow(ctx, `SELECT version FROM cases WHERE id = $1`, id.String()).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: case %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, unavailable("read case version", err)
	}
	return nil, fmt.Errorf("%w: case %s at version %d, expected %d",
		repository.ErrVersionConflict, id, current, expectedVersion)
}

// AddNote appends the note and bumps the parent case inside one
// transaction, so the timeline and updated_at stay consistent.
func (s *Store) AddNote(ctx context.Context, caseID uuid.UUID, author, text string) (*domain.CaseNote, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, unavailable("begin note transaction", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE cases SET version = version + 1, updated_at = now() WHERE id = $1`,
		caseID.String())
	if err != nil {
		return nil, unavailable("touch case for note", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: case %s", domain.ErrNotFound, caseID)
	}

	note := &domain.CaseNote{CaseID: caseID, Author: author, Text: text}
	err = tx.QueryRow(ctx, `
		INSERT INTO case_notes (case_id, author, note)
		VALUES ($1, $2, $3)
		RETURNING id, timestamp`,
		caseID.String(), author, text).Scan(&note.ID, &note.Timestamp)
	if err != nil {
		return nil, unavailable("insert note", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, unavailable("commit note", err)
	}
	return note, nil
}

// ListNotes returns a case's notes oldest first.
func (s *Store) ListNotes(ctx context.Context, caseID uuid.UUID) ([]*domain.CaseNote, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM cases WHERE id = $1)`, caseID.String()).Scan(&exists)
	if err != nil {
		return nil, unavailable("check case", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: case %s", domain.ErrNotFound, caseID)
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT id, case_id, author, note, timestamp
		FROM case_notes WHERE case_id = $1 ORDER BY id ASC`,
		caseID.String())
	if err != nil {
		return nil, unavailable("list notes", err)
	}
	defer rows.Close()

	var out []*domain.CaseNote
	for rows.Next() {
		var (
			n     domain.CaseNote
			idStr string
		)
		if err := rows.Scan(&n.ID, &idStr, &n.Author, &n.Text, &n.Timestamp); err != nil {
			return nil, unavailable("scan note", err)
		}
		caseUUID, err := uuid.Parse(idStr)
		if err != nil {
			return nil, unavailable("decode note case id", err)
		}
		n.CaseID = caseUUID
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list notes", err)
	}
	return out, nil
}

// CasesSince returns all cases created at or after the given instant,
// oldest first, for analytics snapshots.
func (s *Store) CasesSince(ctx context.Context, since time.Time) ([]*domain.Case, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE created_at >= $1 ORDER BY created_at ASC`,
		since)
	if err != nil {
		return nil, unavailable("snapshot cases", err)
	}
	defer rows.Close()

	var out []*domain.Case
	for rows.Next() {
		var c domain.Case
		if err := scanCaseInto(rows, &c); err != nil {
			return nil, unavailable("scan case", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("snapshot cases", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanCaseInto decodes one case row. Extra destinations (such as the
// inserted flag the upsert returns) are appended after the case columns.
func scanCaseInto(row rowScanner, c *domain.Case, extra ...any) error {
	var (
		idStr string
		fpStr string
	)
	dest := []any{
		&idStr, &fpStr, &c.RiskScore, &c.AIProbability, &c.FraudProbability,
		&c.RiskLevel, &c.Status, &c.EscalationReason, &c.AssignedTo, &c.ClientID, &c.Detail,
		&c.Version, &c.CreatedAt, &c.UpdatedAt,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("decode case id: %w", err)
	}
	fp, err := fingerprint.Parse(fpStr)
	if err != nil {
		return fmt.Errorf("decode case fingerprint: %w", err)
	}
	c.ID = id
	c.ContentFingerprint = fp
	return nil
}
