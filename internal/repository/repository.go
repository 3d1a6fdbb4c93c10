package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelai/risk-engine/internal/domain"
	"github.com/sentinelai/risk-engine/internal/fingerprint"
)

// ErrVersionConflict is returned by UpdateStatus when the stored case
// version no longer matches the caller's expectation. The caller re-reads
// and retries; after enough failed attempts it gives up with
// ErrRepositoryUnavailable.
var ErrVersionConflict = errors.New("case version conflict")

// Evaluation is the write handed to UpsertActiveByFingerprint: one fused
// assessment plus the submission attributes that belong on a case.
type Evaluation struct {
	Fingerprint fingerprint.Fingerprint
	Assessment  domain.RiskAssessment
	ClientID    *string
	Detail      json.RawMessage
}

// InitialStatus returns the status a freshly created case starts in.
func (e Evaluation) InitialStatus() domain.CaseStatus {
	if e.Assessment.Escalated() {
		return domain.CaseStatusEscalated
	}
	return domain.CaseStatusOpen
}

// CaseRepository persists investigation cases and their notes.
//
// Implementations must make UpsertActiveByFingerprint atomic: concurrent
// calls carrying the same fingerprint have to converge on a single active
// case. Status updates are linearizable per case via the version check in
// UpdateStatus.
type CaseRepository interface {
	// UpsertActiveByFingerprint attaches the evaluation to the active
	// (non-terminal) case holding the fingerprint, or creates a fresh one
	// when no such case exists. On attach it refreshes the risk snapshot
	// (score, probabilities, level, updated_at) and overwrites
	// escalation_reason only when the new assessment escalated; the
	// case's status is never moved by an attach. The returned flag is
	// true when a new case was created.
	UpsertActiveByFingerprint(ctx context.Context, eval Evaluation) (*domain.Case, bool, error)

	// Create inserts a fresh case unconditionally, bypassing the
	// fingerprint lookup. Used for operator-initiated cases.
	Create(ctx context.Context, c *domain.Case) error

	// GetByID returns the case or ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Case, error)

	// List returns cases matching the filter, newest first.
	List(ctx context.Context, f domain.CaseFilter) ([]*domain.Case, error)

	// UpdateStatus applies a status change (and optional assignment) only
	// if the stored version still equals expectedVersion, returning the
	// updated case. A stale version yields ErrVersionConflict, an unknown
	// id ErrNotFound.
	UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int64, status domain.CaseStatus, assignedTo *string) (*domain.Case, error)

	// AddNote appends one note to the case timeline, assigning its
	// sequence and timestamp, and bumps the case's updated_at. Notes are
	// never lost to concurrent appends.
	AddNote(ctx context.Context, caseID uuid.UUID, author, text string) (*domain.CaseNote, error)

	// ListNotes returns a case's notes oldest first.
	ListNotes(ctx context.Context, caseID uuid.UUID) ([]*domain.CaseNote, error)
}

// AuditRepository is the append-only compliance log. Entries receive
// monotonically increasing ids at append time and are never modified.
type AuditRepository interface {
	// Append persists one entry, filling in its id and timestamp.
	Append(ctx context.Context, entry *domain.AuditLogEntry) error

	// Query returns entries matching the filter in id order.
	Query(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditLogEntry, error)
}

// SnapshotReader supplies the analytics aggregator with one-shot bulk
// reads. Each call returns a self-consistent slice that later writes
// cannot mutate, so a whole aggregation pass sees stable data.
type SnapshotReader interface {
	AuditEntriesSince(ctx context.Context, since time.Time) ([]*domain.AuditLogEntry, error)
	CasesSince(ctx context.Context, since time.Time) ([]*domain.Case, error)
}

// Store bundles the three persistence contracts a full deployment wires
// together. Both the in-memory and the Postgres implementations satisfy
// it.
type Store interface {
	CaseRepository
	AuditRepository
	SnapshotReader
}
