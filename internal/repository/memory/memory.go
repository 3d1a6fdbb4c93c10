package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelai/risk-engine/internal/domain"
	"github.com/sentinelai/risk-engine/internal/repository"
)

// Store is a mutex-guarded implementation of repository.Store. It honors
// the same atomicity contract as the Postgres store, which makes it the
// backing for unit tests and for single-node deployments that do not want
// a database.
type Store struct {
	mu sync.RWMutex

	cases     map[uuid.UUID]*domain.Case
	caseOrder []uuid.UUID
	notes     map[uuid.UUID][]*domain.CaseNote
	noteSeq   int64

	audit    []*domain.AuditLogEntry
	auditSeq int64

	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		cases: make(map[uuid.UUID]*domain.Case),
		notes: make(map[uuid.UUID][]*domain.CaseNote),
		now:   time.Now,
	}
}

// NewWithClock returns a store whose write timestamps come from the given
// clock. Tests use it to pin time.
func NewWithClock(now func() time.Time) *Store {
	s := New()
	s.now = now
	return s
}

// UpsertActiveByFingerprint performs the compare-and-create-or-update the
// dedup invariant requires. The single lock makes it atomic with respect
// to every other mutation.
func (s *Store) UpsertActiveByFingerprint(ctx context.Context, eval repository.Evaluation) (*domain.Case, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC()

	// Newest first so a fresh case created after older ones went terminal
	// is the one that absorbs the update.
	for i := len(s.caseOrder) - 1; i >= 0; i-- {
		c := s.cases[s.caseOrder[i]]
		if c.ContentFingerprint != eval.Fingerprint || c.Status.Terminal() {
			continue
		}

		c.RiskScore = eval.Assessment.RiskScore
		c.AIProbability = eval.Assessment.AIProbability
		c.FraudProbability = eval.Assessment.FraudProbability
		c.RiskLevel = eval.Assessment.RiskLevel
		if eval.Assessment.Escalated() {
			c.EscalationReason = eval.Assessment.EscalationReason
		}
		c.Version++
		c.UpdatedAt = ts

		return cloneCase(c), false, nil
	}

	c := &domain.Case{
		ID:                 uuid.New(),
		ContentFingerprint: eval.Fingerprint,
		RiskScore:          eval.Assessment.RiskScore,
		AIProbability:      eval.Assessment.AIProbability,
		FraudProbability:   eval.Assessment.FraudProbability,
		RiskLevel:          eval.Assessment.RiskLevel,
		Status:             eval.InitialStatus(),
		EscalationReason:   eval.Assessment.EscalationReason,
		ClientID:           eval.ClientID,
		Detail:             eval.Detail,
		Version:            1,
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}
	s.cases[c.ID] = c
	s.caseOrder = append(s.caseOrder, c.ID)

	return cloneCase(c), true, nil
}

// Create inserts a fresh case, assigning id, version and timestamps where
// the caller left them unset.
func (s *Store) Create(ctx context.Context, c *domain.Case) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneCase(c)
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.Version == 0 {
		stored.Version = 1
	}
	ts := s.now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = ts
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}

	s.cases[stored.ID] = stored
	s.caseOrder = append(s.caseOrder, stored.ID)

	*c = *cloneCase(stored)
	return nil
}

// GetByID returns a copy of the case or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.Case, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cases[id]
	if !ok {
		return nil, fmt.Errorf("%w: case %s", domain.ErrNotFound, id)
	}
	return cloneCase(c), nil
}

// List returns matching cases newest first.
func (s *Store) List(ctx context.Context, f domain.CaseFilter) ([]*domain.Case, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*domain.Case, 0, len(s.caseOrder))
	for i := len(s.caseOrder) - 1; i >= 0; i-- {
		c := s.cases[s.caseOrder[i]]
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.RiskLevel != "" && c.RiskLevel != f.RiskLevel {
			continue
		}
		if f.ClientID != "" && (c.ClientID == nil || *c.ClientID != f.ClientID) {
			continue
		}
		matched = append(matched, cloneCase(c))
	}

	return page(matched, f.Offset, f.Limit), nil
}

// UpdateStatus applies the optimistic version check and the mutation under
// one lock, so concurrent transitions on the same case serialize.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int64, status domain.CaseStatus, assignedTo *string) (*domain.Case, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[id]
	if !ok {
		return nil, fmt.Errorf("%w: case %s", domain.ErrNotFound, id)
	}
	if c.Version != expectedVersion {
		return nil, fmt.Errorf("%w: case %s at version %d, expected %d",
			repository.ErrVersionConflict, id, c.Version, expectedVersion)
	}

	c.Status = status
	if assignedTo != nil {
		c.AssignedTo = assignedTo
	}
	c.Version++
	c.UpdatedAt = s.now().UTC()

	return cloneCase(c), nil
}

// AddNote appends to the case timeline. Sequence numbers are assigned
// under the lock, so concurrent appends never collide or get lost.
func (s *Store) AddNote(ctx context.Context, caseID uuid.UUID, author, text string) (*domain.CaseNote, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[caseID]
	if !ok {
		return nil, fmt.Errorf("%w: case %s", domain.ErrNotFound, caseID)
	}

	s.noteSeq++
	note := &domain.CaseNote{
		ID:        s.noteSeq,
		CaseID:    caseID,
		Author:    author,
		Text:      text,
		Timestamp: s.now().UTC(),
	}
	s.notes[caseID] = append(s.notes[caseID], note)

	c.Version++
	c.UpdatedAt = note.Timestamp

	return cloneNote(note), nil
}

// ListNotes returns a case's notes oldest first.
func (s *Store) ListNotes(ctx context.Context, caseID uuid.UUID) ([]*domain.CaseNote, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.cases[caseID]; !ok {
		return nil, fmt.Errorf("%w: case %s", domain.ErrNotFound, caseID)
	}

	notes := s.notes[caseID]
	out := make([]*domain.CaseNote, len(notes))
	for i, n := range notes {
		out[i] = cloneNote(n)
	}
	return out, nil
}

// Append stamps the entry with the next monotonic id and stores it.
func (s *Store) Append(ctx context.Context, entry *domain.AuditLogEntry) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditSeq++
	entry.ID = s.auditSeq
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}

	stored := *entry
	s.audit = append(s.audit, &stored)
	return nil
}

// Query returns matching entries in id order.
func (s *Store) Query(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditLogEntry, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*domain.AuditLogEntry, 0, len(s.audit))
	for _, e := range s.audit {
		if f.FromID > 0 && e.ID < f.FromID {
			continue
		}
		if f.ToID > 0 && e.ID > f.ToID {
			continue
		}
		if f.FlaggedOnly && !e.Flagged {
			continue
		}
		if f.SourceChannel != "" && e.SourceChannel != f.SourceChannel {
			continue
		}
		copied := *e
		matched = append(matched, &copied)
	}

	return page(matched, f.Offset, f.Limit), nil
}

// AuditEntriesSince returns copies of all entries stamped at or after the
// given instant, in id order.
func (s *Store) AuditEntriesSince(ctx context.Context, since time.Time) ([]*domain.AuditLogEntry, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.AuditLogEntry, 0, len(s.audit))
	for _, e := range s.audit {
		if e.Timestamp.Before(since) {
			continue
		}
		copied := *e
		out = append(out, &copied)
	}
	return out, nil
}

// CasesSince returns copies of all cases created at or after the given
// instant, oldest first.
func (s *Store) CasesSince(ctx context.Context, since time.Time) ([]*domain.Case, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Case, 0, len(s.caseOrder))
	for _, id := range s.caseOrder {
		c := s.cases[id]
		if c.CreatedAt.Before(since) {
			continue
		}
		out = append(out, cloneCase(c))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRepositoryUnavailable, err)
	}
	return nil
}

func cloneCase(c *domain.Case) *domain.Case {
	copied := *c
	if c.AssignedTo != nil {
		v := *c.AssignedTo
		copied.AssignedTo = &v
	}
	if c.ClientID != nil {
		v := *c.ClientID
		copied.ClientID = &v
	}
	if c.Detail != nil {
		copied.Detail = append([]byte(nil), c.Detail...)
	}
	return &copied
}

func cloneNote(n *domain.CaseNote) *domain.CaseNote {
	copied := *n
	return &copied
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
