package logger

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with risk-engine specific functionality
type Logger struct {
	*zap.Logger
	serviceName string
}

// ContextKey for request context values
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	ActorIDKey   ContextKey = "actor_id"
	TraceIDKey   ContextKey = "trace_id"
	SpanIDKey    ContextKey = "span_id"
	CaseIDKey    ContextKey = "case_id"
)

// New creates a new logger instance
func New(serviceName, environment string, debug bool) (*Logger, error) {
	var config zap.Config

	if environment == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if debug {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	// Add service metadata
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
		"env":     environment,
		"pid":     os.Getpid(),
	}

	zapLogger, err := config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}

	return &Logger{
		Logger:      zapLogger,
		serviceName: serviceName,
	}, nil
}

// NewNop returns a logger that discards all output. Intended for tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), serviceName: "nop"}
}

// Named returns a named sub-logger
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		Logger:      l.Logger.Named(name),
		serviceName: l.serviceName,
	}
}

// WithContext returns a logger with context values
func (l *Logger) WithContext(ctx context.Context) *Logger {
	fields := []zap.Field{}

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if actorID, ok := ctx.Value(ActorIDKey).(string); ok && actorID != "" {
		fields = append(fields, zap.String("actor_id", actorID))
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	if spanID, ok := ctx.Value(SpanIDKey).(string); ok && spanID != "" {
		fields = append(fields, zap.String("span_id", spanID))
	}
	if caseID, ok := ctx.Value(CaseIDKey).(string); ok && caseID != "" {
		fields = append(fields, zap.String("case_id", caseID))
	}

	return &Logger{
		Logger:      l.With(fields...),
		serviceName: l.serviceName,
	}
}

// WithCase returns a logger with case context
func (l *Logger) WithCase(caseID string) *Logger {
	return &Logger{
		Logger:      l.With(zap.String("case_id", caseID)),
		serviceName: l.serviceName,
	}
}

// WithActor returns a logger with acting principal context
func (l *Logger) WithActor(actorID, role string) *Logger {
	return &Logger{
		Logger: l.With(
			zap.String("actor_id", actorID),
			zap.String("actor_role", role),
		),
		serviceName: l.serviceName,
	}
}

// EvaluationStarted logs the start of a risk evaluation
func (l *Logger) EvaluationStarted(channel, fingerprint string) {
	l.Info("evaluation started",
		zap.String("source_channel", channel),
		zap.String("content_fingerprint", fingerprint),
	)
}

// EvaluationCompleted logs the outcome of a risk evaluation
func (l *Logger) EvaluationCompleted(fingerprint, riskLevel string, riskScore float64, durationMs int64) {
	l.Info("evaluation completed",
		zap.String("content_fingerprint", fingerprint),
		zap.String("risk_level", riskLevel),
		zap.Float64("risk_score", riskScore),
		zap.Int64("duration_ms", durationMs),
	)
}

// CaseOpened logs creation of a new investigation case
func (l *Logger) CaseOpened(caseID, riskLevel, escalationType string) {
	l.Info("case opened",
		zap.String("case_id", caseID),
		zap.String("risk_level", riskLevel),
		zap.String("escalation_type", escalationType),
	)
}

// CaseAttached logs a re-submission folding into an existing active case
func (l *Logger) CaseAttached(caseID, riskLevel string) {
	l.Info("evaluation attached to active case",
		zap.String("case_id", caseID),
		zap.String("risk_level", riskLevel),
	)
}

// CaseTransitioned logs a status change
func (l *Logger) CaseTransitioned(caseID, from, to, actorID string) {
	l.Info("case transitioned",
		zap.String("case_id", caseID),
		zap.String("from_status", from),
		zap.String("to_status", to),
		zap.String("actor_id", actorID),
	)
}

// EscalationRaised logs a matched escalation rule
func (l *Logger) EscalationRaised(fingerprint, escalationType string, riskScore float64) {
	l.Warn("escalation raised",
		zap.String("content_fingerprint", fingerprint),
		zap.String("escalation_type", escalationType),
		zap.Float64("risk_score", riskScore),
	)
}

// NoteAdded logs a note append
func (l *Logger) NoteAdded(caseID, author string) {
	l.Info("note added",
		zap.String("case_id", caseID),
		zap.String("author", author),
	)
}

// AuditWriteFailed logs a degraded audit append. The evaluation still
// succeeds, so this is an operational alarm rather than a request error.
func (l *Logger) AuditWriteFailed(fingerprint string, err error) {
	l.Error("audit write failed, evaluation degraded",
		zap.String("content_fingerprint", fingerprint),
		zap.Error(err),
	)
}

// LatencyWarning logs when an operation exceeds expected latency
func (l *Logger) LatencyWarning(operation string, durationMs, thresholdMs int64) {
	l.Warn("latency threshold exceeded",
		zap.String("operation", operation),
		zap.Int64("duration_ms", durationMs),
		zap.Int64("threshold_ms", thresholdMs),
	)
}

// Helper field functions

// ErrorField creates an error field
func ErrorField(err error) zap.Field {
	return zap.Error(err)
}

// NamedErrorField attaches an error under a custom key, for log lines
// carrying more than one failure.
func NamedErrorField(key string, err error) zap.Field {
	return zap.NamedError(key, err)
}

// DurationField creates a duration field
func DurationField(name string, d time.Duration) zap.Field {
	return zap.Duration(name, d)
}

// StringField creates a string field
func StringField(key, value string) zap.Field {
	return zap.String(key, value)
}

// IntField creates an int field
func IntField(key string, value int) zap.Field {
	return zap.Int(key, value)
}

// Float64Field creates a float64 field
func Float64Field(key string, value float64) zap.Field {
	return zap.Float64(key, value)
}

// BoolField creates a bool field
func BoolField(key string, value bool) zap.Field {
	return zap.Bool(key, value)
}
