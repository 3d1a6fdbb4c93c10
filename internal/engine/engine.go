package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sentinelai/risk-engine/internal/config"
	"github.com/sentinelai/risk-engine/internal/domain"
	"github.com/sentinelai/risk-engine/internal/pkg/logger"
	"github.com/sentinelai/risk-engine/internal/repository"
)

// EventType labels a case lifecycle notification.
type EventType string

const (
	EventCaseOpened       EventType = "case.opened"
	EventCaseUpdated      EventType = "case.updated"
	EventCaseTransitioned EventType = "case.transitioned"
	EventNoteAdded        EventType = "note.added"
)

// Event is the notification fanned out after a successful lifecycle write.
type Event struct {
	Type       EventType         `json:"type"`
	Case       *domain.Case      `json:"case"`
	FromStatus domain.CaseStatus `json:"from_status,omitempty"`
	Note       *domain.CaseNote  `json:"note,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// EventSink receives lifecycle events. The engine calls it inline on the
// write path, so implementations must not block; a nil sink disables
// publication entirely.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

// Engine fuses detection probabilities into risk assessments and drives
// the case lifecycle and audit trail that hang off them. It is safe for
// concurrent use; all shared mutable state lives behind the repositories.
type Engine struct {
	cases  repository.CaseRepository
	audit  repository.AuditRepository
	events EventSink
	cfg    config.EngineConfig
	log    *logger.Logger
	tracer trace.Tracer

	// Latency tracking
	latencyMu    sync.RWMutex
	avgLatencyMs float64
	evalCount    int64
}

// New creates an engine on top of the given repositories. events may be
// nil when no broker is configured.
func New(cases repository.CaseRepository, audit repository.AuditRepository, events EventSink, cfg config.EngineConfig, log *logger.Logger) *Engine {
	if cfg.RepositoryTimeout <= 0 {
		cfg.RepositoryTimeout = 5 * time.Second
	}
	if cfg.TransitionRetries <= 0 {
		cfg.TransitionRetries = 3
	}

	return &Engine{
		cases:  cases,
		audit:  audit,
		events: events,
		cfg:    cfg,
		log:    log.Named("risk_engine"),
		tracer: otel.Tracer("github.com/sentinelai/risk-engine/internal/engine"),
	}
}

// repoCtx bounds one repository call so no operation blocks indefinitely.
func (e *Engine) repoCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.RepositoryTimeout)
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if e.events == nil {
		return
	}
	ev.OccurredAt = time.Now().UTC()
	e.events.Publish(ctx, ev)
}

// recordLatency updates evaluation latency tracking
func (e *Engine) recordLatency(durationMs int64) {
	e.latencyMu.Lock()
	defer e.latencyMu.Unlock()

	// Exponential moving average
	if e.avgLatencyMs == 0 {
		e.avgLatencyMs = float64(durationMs)
	} else {
		e.avgLatencyMs = e.avgLatencyMs*0.9 + float64(durationMs)*0.1
	}
	e.evalCount++

	if threshold := e.cfg.LatencyWarnThreshold; threshold > 0 && durationMs > threshold.Milliseconds() {
		e.log.LatencyWarning("evaluate", durationMs, threshold.Milliseconds())
	}
}

// AverageLatencyMs returns the moving average evaluation latency.
func (e *Engine) AverageLatencyMs() float64 {
	e.latencyMu.RLock()
	defer e.latencyMu.RUnlock()
	return e.avgLatencyMs
}

// EvaluationCount returns the total number of evaluations performed.
func (e *Engine) EvaluationCount() int64 {
	e.latencyMu.RLock()
	defer e.latencyMu.RUnlock()
	return e.evalCount
}

// requireCapability checks the actor's tier against the minimum an
// operation demands, naming the missing capability in the error.
func requireCapability(actor domain.Actor, min domain.Role, operation string) error {
	if !actor.Role.AtLeast(min) {
		return fmt.Errorf("%w: %s requires at least %s capability, actor %s has %q",
			domain.ErrPermissionDenied, operation, min, actor.ID, actor.Role)
	}
	return nil
}
