package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sentinelai/risk-engine/internal/domain"
	"github.com/sentinelai/risk-engine/internal/pkg/logger"
	"github.com/sentinelai/risk-engine/internal/repository"
)

// TransitionCase moves a case to newStatus on behalf of actor. Lifecycle
// rules are checked against the current record before capability: a closed
// case rejects every transition no matter who asks. Closing transitions
// (RESOLVED, FALSE_POSITIVE) require reviewer capability, all others
// analyst. The write itself is a compare-and-swap on the case version,
// retried a bounded number of times when concurrent writers interleave.
func (e *Engine) TransitionCase(ctx context.Context, actor domain.Actor, caseID uuid.UUID, newStatus domain.CaseStatus, assignedTo *string) (*domain.Case, error) {
	ctx, span := e.tracer.Start(ctx, "engine.TransitionCase")
	defer span.End()

	c, err := e.getCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := c.ValidateTransition(newStatus); err != nil {
		return nil, err
	}

	capability := domain.RoleAnalyst
	operation := "case transition"
	if newStatus.Terminal() {
		capability = domain.RoleReviewer
		operation = "closing a case"
	}
	if err := requireCapability(actor, capability, operation); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < e.cfg.TransitionRetries; attempt++ {
		from := c.Status

		rctx, cancel := e.repoCtx(ctx)
		updated, err := e.cases.UpdateStatus(rctx, caseID, c.Version, newStatus, assignedTo)
		cancel()

		switch {
		case err == nil:
			e.log.WithContext(ctx).CaseTransitioned(caseID.String(), string(from), string(newStatus), actor.ID)
			e.recordTransitionNote(ctx, updated, actor, assignedTo)
			e.publish(ctx, Event{Type: EventCaseTransitioned, Case: updated, FromStatus: from})
			return updated, nil

		case errors.Is(err, repository.ErrVersionConflict):
			// Someone else moved the case first. Re-read and re-check the
			// lifecycle rules against its new status before trying again.
			c, err = e.getCase(ctx, caseID)
			if err != nil {
				return nil, err
			}
			if err := c.ValidateTransition(newStatus); err != nil {
				return nil, err
			}

		default:
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: case %s transition contended after %d attempts",
		domain.ErrRepositoryUnavailable, caseID, e.cfg.TransitionRetries)
}

// AddNote appends a timeline note authored by actor. Notes stay allowed on
// closed cases; only status changes are frozen by terminal states.
func (e *Engine) AddNote(ctx context.Context, actor domain.Actor, caseID uuid.UUID, text string) (*domain.CaseNote, error) {
	if err := requireCapability(actor, domain.RoleAnalyst, "adding a note"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: note text is required", domain.ErrInvalidInput)
	}

	rctx, cancel := e.repoCtx(ctx)
	defer cancel()

	note, err := e.cases.AddNote(rctx, caseID, authorName(actor), text)
	if err != nil {
		return nil, err
	}

	e.log.WithContext(ctx).NoteAdded(caseID.String(), note.Author)
	e.publish(ctx, Event{Type: EventNoteAdded, Note: note})
	return note, nil
}

// CreateCase opens a case directly, outside the evaluation pipeline. The
// risk level is derived from the submitted score and the case starts OPEN;
// manual creation never consults fingerprint deduplication and writes no
// audit record, those belong to the evaluation path.
func (e *Engine) CreateCase(ctx context.Context, actor domain.Actor, req *domain.CreateCaseRequest) (*domain.Case, error) {
	if err := requireCapability(actor, domain.RoleAnalyst, "creating a case"); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	c := &domain.Case{
		ID:                 uuid.New(),
		ContentFingerprint: req.ContentFingerprint,
		RiskScore:          req.RiskScore,
		AIProbability:      req.AIProbability,
		FraudProbability:   req.FraudProbability,
		RiskLevel:          domain.LevelForScore(req.RiskScore),
		Status:             domain.CaseStatusOpen,
		EscalationReason:   req.EscalationReason,
		AssignedTo:         req.AssignedTo,
		ClientID:           req.ClientID,
		Detail:             req.Detail,
	}

	rctx, cancel := e.repoCtx(ctx)
	defer cancel()

	if err := e.cases.Create(rctx, c); err != nil {
		return nil, err
	}

	e.log.WithContext(ctx).CaseOpened(c.ID.String(), string(c.RiskLevel), "")
	e.publish(ctx, Event{Type: EventCaseOpened, Case: c})
	return c, nil
}

// GetCase returns one case by id.
func (e *Engine) GetCase(ctx context.Context, actor domain.Actor, caseID uuid.UUID) (*domain.Case, error) {
	if err := requireCapability(actor, domain.RoleAnalyst, "viewing cases"); err != nil {
		return nil, err
	}
	return e.getCase(ctx, caseID)
}

// ListCases returns cases matching the filter, newest first.
func (e *Engine) ListCases(ctx context.Context, actor domain.Actor, f domain.CaseFilter) ([]*domain.Case, error) {
	if err := requireCapability(actor, domain.RoleAnalyst, "viewing cases"); err != nil {
		return nil, err
	}

	rctx, cancel := e.repoCtx(ctx)
	defer cancel()
	return e.cases.List(rctx, f)
}

// ListNotes returns a case's timeline oldest first.
func (e *Engine) ListNotes(ctx context.Context, actor domain.Actor, caseID uuid.UUID) ([]*domain.CaseNote, error) {
	if err := requireCapability(actor, domain.RoleAnalyst, "viewing cases"); err != nil {
		return nil, err
	}

	rctx, cancel := e.repoCtx(ctx)
	defer cancel()
	return e.cases.ListNotes(rctx, caseID)
}

func (e *Engine) getCase(ctx context.Context, caseID uuid.UUID) (*domain.Case, error) {
	rctx, cancel := e.repoCtx(ctx)
	defer cancel()
	return e.cases.GetByID(rctx, caseID)
}

// recordTransitionNote leaves an automatic trail entry after a successful
// transition. Best effort: the transition already committed, so a failed
// note is logged and dropped rather than surfaced.
func (e *Engine) recordTransitionNote(ctx context.Context, c *domain.Case, actor domain.Actor, assignedTo *string) {
	text := "Status changed to " + string(c.Status)
	if assignedTo != nil && *assignedTo != "" {
		text += ", assigned to " + *assignedTo
	}

	rctx, cancel := e.repoCtx(ctx)
	defer cancel()

	if _, err := e.cases.AddNote(rctx, c.ID, authorName(actor), text); err != nil {
		e.log.WithContext(ctx).Warn("transition note not recorded",
			logger.ErrorField(err),
			logger.StringField("case_id", c.ID.String()))
	}
}

func authorName(actor domain.Actor) string {
	if actor.Name != "" {
		return actor.Name
	}
	return actor.ID
}
