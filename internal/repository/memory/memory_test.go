package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelai/risk-engine/internal/domain"
	"github.com/sentinelai/risk-engine/internal/fingerprint"
	"github.com/sentinelai/risk-engine/internal/repository"
)

func mediumEval(content string) repository.Evaluation {
	return repository.Evaluation{
		Fingerprint: fingerprint.ComputeString(content),
		Assessment: domain.RiskAssessment{
			RiskScore:        0.45,
			RiskLevel:        domain.RiskLevelMedium,
			AIProbability:    0.5,
			FraudProbability: 0.42,
		},
	}
}

func escalatedEval(content string) repository.Evaluation {
	return repository.Evaluation{
		Fingerprint: fingerprint.ComputeString(content),
		Assessment: domain.RiskAssessment{
			RiskScore:        0.9,
			RiskLevel:        domain.RiskLevelCritical,
			AIProbability:    0.9,
			FraudProbability: 0.9,
			EscalationType:   domain.EscalationCriticalRisk,
			EscalationReason: "combined risk score 0.90 exceeds critical threshold",
		},
	}
}

func TestUpsertCreatesThenUpdates(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, created, err := s.UpsertActiveByFingerprint(ctx, mediumEval("same content"))
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, domain.CaseStatusOpen, first.Status)
	assert.Equal(t, int64(1), first.Version)

	second, created, err := s.UpsertActiveByFingerprint(ctx, escalatedEval("same content"))
	require.NoError(t, err)
	require.False(t, created, "identical active content must not open a second case")

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(2), second.Version)
	assert.Equal(t, 0.9, second.RiskScore, "snapshot must reflect the latest evaluation")
	assert.Equal(t, domain.RiskLevelCritical, second.RiskLevel)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.False(t, second.UpdatedAt.Before(first.UpdatedAt))
}

func TestUpsertAttachNeverMovesStatus(t *testing.T) {
	s := New()
	ctx := context.Background()

	opened, created, err := s.UpsertActiveByFingerprint(ctx, mediumEval("payload"))
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, domain.CaseStatusOpen, opened.Status)

	// An escalated re-evaluation refreshes the snapshot and reason but the
	// status only moves through explicit transitions.
	attached, created, err := s.UpsertActiveByFingerprint(ctx, escalatedEval("payload"))
	require.NoError(t, err)
	require.False(t, created)
	assert.Equal(t, domain.CaseStatusOpen, attached.Status)
	assert.NotEmpty(t, attached.EscalationReason)

	// A calm re-evaluation never blanks a previously recorded reason.
	calm, created, err := s.UpsertActiveByFingerprint(ctx, mediumEval("payload"))
	require.NoError(t, err)
	require.False(t, created)
	assert.Equal(t, attached.EscalationReason, calm.EscalationReason)
	assert.Equal(t, domain.RiskLevelMedium, calm.RiskLevel)
}

func TestUpsertSkipsTerminalCases(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, _, err := s.UpsertActiveByFingerprint(ctx, escalatedEval("repeat offender"))
	require.NoError(t, err)

	_, err = s.UpdateStatus(ctx, first.ID, first.Version, domain.CaseStatusResolved, nil)
	require.NoError(t, err)

	second, created, err := s.UpsertActiveByFingerprint(ctx, escalatedEval("repeat offender"))
	require.NoError(t, err)
	assert.True(t, created, "a resolved case must not absorb new submissions")
	assert.NotEqual(t, first.ID, second.ID)
}

func TestUpsertConcurrentSubmissionsConverge(t *testing.T) {
	s := New()
	ctx := context.Background()

	const workers = 64
	var wg sync.WaitGroup
	createdCount := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := s.UpsertActiveByFingerprint(ctx, mediumEval("racing content"))
			assert.NoError(t, err)
			createdCount <- created
		}()
	}
	wg.Wait()
	close(createdCount)

	creates := 0
	for c := range createdCount {
		if c {
			creates++
		}
	}
	assert.Equal(t, 1, creates, "exactly one of the racing submissions may create the case")

	cases, err := s.List(ctx, domain.CaseFilter{})
	require.NoError(t, err)
	assert.Len(t, cases, 1)
	assert.Equal(t, int64(workers), cases[0].Version)
}

func TestUpdateStatusVersionCheck(t *testing.T) {
	s := New()
	ctx := context.Background()

	c, _, err := s.UpsertActiveByFingerprint(ctx, mediumEval("v"))
	require.NoError(t, err)

	updated, err := s.UpdateStatus(ctx, c.ID, c.Version, domain.CaseStatusUnderReview, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.CaseStatusUnderReview, updated.Status)
	assert.Equal(t, c.Version+1, updated.Version)

	_, err = s.UpdateStatus(ctx, c.ID, c.Version, domain.CaseStatusEscalated, nil)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)
}

func TestUpdateStatusUnknownCase(t *testing.T) {
	s := New()

	_, err := s.UpdateStatus(context.Background(), uuid.New(), 1, domain.CaseStatusResolved, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentTransitionsOnlyOneWins(t *testing.T) {
	s := New()
	ctx := context.Background()

	c, _, err := s.UpsertActiveByFingerprint(ctx, escalatedEval("contested"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, target := range []domain.CaseStatus{domain.CaseStatusResolved, domain.CaseStatusFalsePositive} {
		wg.Add(1)
		go func(to domain.CaseStatus) {
			defer wg.Done()
			_, err := s.UpdateStatus(ctx, c.ID, c.Version, to, nil)
			results <- err
		}(target)
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		default:
			require.ErrorIs(t, err, repository.ErrVersionConflict)
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)
}

func TestAddNoteAssignsSequenceAndBumpsCase(t *testing.T) {
	s := New()
	ctx := context.Background()

	c, _, err := s.UpsertActiveByFingerprint(ctx, mediumEval("noted"))
	require.NoError(t, err)

	first, err := s.AddNote(ctx, c.ID, "lee", "checked sender history")
	require.NoError(t, err)
	second, err := s.AddNote(ctx, c.ID, "sam", "matches prior campaign")
	require.NoError(t, err)

	assert.Less(t, first.ID, second.ID)

	after, err := s.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Status, after.Status, "notes never change status")
	assert.Equal(t, c.Version+2, after.Version)
	assert.False(t, after.UpdatedAt.Before(c.UpdatedAt))

	notes, err := s.ListNotes(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "checked sender history", notes[0].Text)
	assert.Equal(t, "matches prior campaign", notes[1].Text)
}

func TestConcurrentNotesAreNeverLost(t *testing.T) {
	s := New()
	ctx := context.Background()

	c, _, err := s.UpsertActiveByFingerprint(ctx, mediumEval("busy case"))
	require.NoError(t, err)

	const appends = 100
	var wg sync.WaitGroup
	for i := 0; i < appends; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.AddNote(ctx, c.ID, "bot", fmt.Sprintf("observation %d", n))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	notes, err := s.ListNotes(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, notes, appends)

	seen := make(map[int64]bool, appends)
	for _, n := range notes {
		assert.False(t, seen[n.ID], "duplicate note id %d", n.ID)
		seen[n.ID] = true
	}
}

func TestAddNoteUnknownCase(t *testing.T) {
	s := New()

	_, err := s.AddNote(context.Background(), uuid.New(), "lee", "text")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuditAppendAssignsMonotonicIDs(t *testing.T) {
	s := New()
	ctx := context.Background()

	const entries = 50
	var wg sync.WaitGroup
	ids := make(chan int64, entries)
	for i := 0; i < entries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := &domain.AuditLogEntry{
				SourceChannel:  domain.ChannelText,
				RiskLevel:      domain.RiskLevelLow,
				FraudRiskScore: 0.1,
			}
			if assert.NoError(t, s.Append(ctx, e)) {
				ids <- e.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool, entries)
	for id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, seen, entries)

	all, err := s.Query(ctx, domain.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, entries)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].ID, all[i-1].ID, "entries must read back in id order")
	}
}

func TestAuditQueryFilters(t *testing.T) {
	s := New()
	ctx := context.Background()

	channels := []domain.SourceChannel{domain.ChannelText, domain.ChannelDocument, domain.ChannelImage}
	for i := 0; i < 9; i++ {
		err := s.Append(ctx, &domain.AuditLogEntry{
			SourceChannel: channels[i%3],
			RiskLevel:     domain.RiskLevelMedium,
			Flagged:       i%2 == 0,
		})
		require.NoError(t, err)
	}

	flagged, err := s.Query(ctx, domain.AuditFilter{FlaggedOnly: true})
	require.NoError(t, err)
	assert.Len(t, flagged, 5)

	docs, err := s.Query(ctx, domain.AuditFilter{SourceChannel: domain.ChannelDocument})
	require.NoError(t, err)
	assert.Len(t, docs, 3)

	ranged, err := s.Query(ctx, domain.AuditFilter{FromID: 3, ToID: 5})
	require.NoError(t, err)
	require.Len(t, ranged, 3)
	assert.Equal(t, int64(3), ranged[0].ID)
	assert.Equal(t, int64(5), ranged[2].ID)

	paged, err := s.Query(ctx, domain.AuditFilter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, paged, 2)
	assert.Equal(t, int64(5), paged[0].ID)
}

func TestListFiltersAndPagination(t *testing.T) {
	s := New()
	ctx := context.Background()

	client := "acme"
	for i := 0; i < 5; i++ {
		c := &domain.Case{
			ContentFingerprint: fingerprint.ComputeString(fmt.Sprintf("content %d", i)),
			RiskLevel:          domain.RiskLevelMedium,
			Status:             domain.CaseStatusOpen,
			CreatedAt:          time.Date(2025, 6, 1+i, 0, 0, 0, 0, time.UTC),
		}
		if i%2 == 0 {
			c.ClientID = &client
			c.RiskLevel = domain.RiskLevelHigh
		}
		require.NoError(t, s.Create(ctx, c))
	}

	all, err := s.List(ctx, domain.CaseFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)

	high, err := s.List(ctx, domain.CaseFilter{RiskLevel: domain.RiskLevelHigh})
	require.NoError(t, err)
	assert.Len(t, high, 3)

	byClient, err := s.List(ctx, domain.CaseFilter{ClientID: "acme"})
	require.NoError(t, err)
	assert.Len(t, byClient, 3)

	paged, err := s.List(ctx, domain.CaseFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, paged, 2)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	c, _, err := s.UpsertActiveByFingerprint(ctx, mediumEval("isolated"))
	require.NoError(t, err)

	c.Status = domain.CaseStatusResolved
	c.RiskScore = 0.99

	fresh, err := s.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CaseStatusOpen, fresh.Status)
	assert.Equal(t, 0.45, fresh.RiskScore)
}

func TestSnapshotReadsHonorWindow(t *testing.T) {
	now := time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)
	s := NewWithClock(func() time.Time { return now })
	ctx := context.Background()

	old := &domain.Case{
		ContentFingerprint: fingerprint.ComputeString("ancient"),
		Status:             domain.CaseStatusResolved,
		RiskLevel:          domain.RiskLevelHigh,
		CreatedAt:          now.AddDate(0, 0, -40),
		UpdatedAt:          now.AddDate(0, 0, -39),
	}
	require.NoError(t, s.Create(ctx, old))

	recent := &domain.Case{
		ContentFingerprint: fingerprint.ComputeString("recent"),
		Status:             domain.CaseStatusOpen,
		RiskLevel:          domain.RiskLevelMedium,
		CreatedAt:          now.AddDate(0, 0, -3),
		UpdatedAt:          now.AddDate(0, 0, -3),
	}
	require.NoError(t, s.Create(ctx, recent))

	windowed, err := s.CasesSince(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, recent.ID, windowed[0].ID)

	require.NoError(t, s.Append(ctx, &domain.AuditLogEntry{
		SourceChannel: domain.ChannelText,
		RiskLevel:     domain.RiskLevelLow,
		Timestamp:     now.AddDate(0, 0, -31),
	}))
	require.NoError(t, s.Append(ctx, &domain.AuditLogEntry{
		SourceChannel: domain.ChannelText,
		RiskLevel:     domain.RiskLevelLow,
		Timestamp:     now.AddDate(0, 0, -1),
	}))

	entries, err := s.AuditEntriesSince(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCancelledContextSurfacesAsUnavailable(t *testing.T) {
	s := New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.UpsertActiveByFingerprint(ctx, mediumEval("x"))
	assert.ErrorIs(t, err, domain.ErrRepositoryUnavailable)

	_, err = s.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrRepositoryUnavailable)
}
