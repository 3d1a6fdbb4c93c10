package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sentinelai/risk-engine/internal/domain"
	"github.com/sentinelai/risk-engine/internal/pkg/logger"
	"github.com/sentinelai/risk-engine/internal/repository"
	"github.com/sentinelai/risk-engine/internal/risk"
)

// Outcome reports everything one evaluation did. The assessment is always
// present; the persistence fields describe how far the write side got.
type Outcome struct {
	Assessment domain.RiskAssessment

	// Case is the created or updated case, nil for LOW risk submissions
	// and when the case write failed.
	Case        *domain.Case
	CaseCreated bool

	// AuditEntry is the appended compliance record, nil when the append
	// failed.
	AuditEntry *domain.AuditLogEntry

	// CaseErr and AuditErr carry the persistence failures. The assessment
	// itself never fails once inputs validate.
	CaseErr  error
	AuditErr error
}

// Degraded reports whether any persistence step failed. A degraded
// evaluation may be retried with the same content; deduplication makes the
// retry converge instead of duplicating.
func (o *Outcome) Degraded() bool {
	return o.CaseErr != nil || o.AuditErr != nil
}

// Evaluate fuses the submission's probabilities, classifies escalation,
// applies the case auto-creation policy, and appends the audit record.
// It returns an error only when the submission itself is invalid; once the
// assessment is computed the evaluation is driven to completion and
// persistence failures are reported inside the Outcome.
func (e *Engine) Evaluate(ctx context.Context, result *domain.AnalysisResult) (*Outcome, error) {
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "engine.Evaluate")
	defer span.End()

	if err := result.Validate(); err != nil {
		return nil, err
	}

	assessment, err := risk.Assess(result.AIProbability, result.FraudProbability)
	if err != nil {
		return nil, err
	}

	log := e.log.WithContext(ctx)
	log.EvaluationStarted(string(result.SourceChannel), result.ContentFingerprint.String())
	span.SetAttributes(
		attribute.String("risk.level", string(assessment.RiskLevel)),
		attribute.Float64("risk.score", assessment.RiskScore),
	)

	if assessment.Escalated() {
		log.EscalationRaised(result.ContentFingerprint.String(),
			string(assessment.EscalationType), assessment.RiskScore)
	}

	outcome := &Outcome{Assessment: assessment}

	// Case write first: an audit failure afterwards must never roll back
	// a durably created case.
	if assessment.RiskLevel != domain.RiskLevelLow {
		e.applyCasePolicy(ctx, result, assessment, outcome)
	}

	e.appendAudit(ctx, result, assessment, outcome)

	durationMs := time.Since(start).Milliseconds()
	e.recordLatency(durationMs)
	log.EvaluationCompleted(result.ContentFingerprint.String(),
		string(assessment.RiskLevel), assessment.RiskScore, durationMs)

	return outcome, nil
}

// applyCasePolicy runs the MEDIUM+ auto-creation path: one atomic
// compare-and-create-or-update keyed by the content fingerprint.
func (e *Engine) applyCasePolicy(ctx context.Context, result *domain.AnalysisResult, assessment domain.RiskAssessment, outcome *Outcome) {
	rctx, cancel := e.repoCtx(ctx)
	defer cancel()

	eval := repository.Evaluation{
		Fingerprint: result.ContentFingerprint,
		Assessment:  assessment,
		ClientID:    result.ClientID,
		Detail:      result.Detail,
	}

	c, created, err := e.cases.UpsertActiveByFingerprint(rctx, eval)
	if err != nil {
		outcome.CaseErr = err
		e.log.WithContext(ctx).Error("case write failed",
			logger.ErrorField(err),
			logger.StringField("content_fingerprint", result.ContentFingerprint.String()))
		return
	}

	outcome.Case = c
	outcome.CaseCreated = created

	log := e.log.WithContext(ctx)
	if created {
		log.CaseOpened(c.ID.String(), string(c.RiskLevel), string(assessment.EscalationType))
		e.publish(ctx, Event{Type: EventCaseOpened, Case: c})
	} else {
		log.CaseAttached(c.ID.String(), string(c.RiskLevel))
		e.publish(ctx, Event{Type: EventCaseUpdated, Case: c})
	}
}

// appendAudit writes the unconditional compliance record. Failure here is
// a degraded-but-available condition: it is logged loudly and surfaced in
// the outcome, never propagated as an operation failure.
func (e *Engine) appendAudit(ctx context.Context, result *domain.AnalysisResult, assessment domain.RiskAssessment, outcome *Outcome) {
	rctx, cancel := e.repoCtx(ctx)
	defer cancel()

	entry := &domain.AuditLogEntry{
		SourceChannel:      result.SourceChannel,
		ContentFingerprint: result.ContentFingerprint,
		AIProbability:      result.AIProbability,
		FraudProbability:   result.FraudProbability,
		FraudRiskScore:     assessment.RiskScore,
		RiskLevel:          assessment.RiskLevel,
		Detail:             result.Detail,
		Flagged:            assessment.Flagged(),
	}

	if err := e.audit.Append(rctx, entry); err != nil {
		outcome.AuditErr = err
		e.log.WithContext(ctx).AuditWriteFailed(result.ContentFingerprint.String(), err)
		return
	}
	outcome.AuditEntry = entry
}
