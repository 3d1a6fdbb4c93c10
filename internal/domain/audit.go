package domain

import (
	"encoding/json"
	"time"

	"github.com/sentinelai/risk-engine/internal/fingerprint"
)

// AuditLogEntry is one append-only compliance record. Exactly one entry is
// written per evaluated submission, whether or not a case came out of it.
// Entries are never updated or deleted, and ids grow monotonically so the
// log always reads back in insertion order.
type AuditLogEntry struct {
	ID                 int64                   `json:"id" db:"id"`
	Timestamp          time.Time               `json:"timestamp" db:"timestamp"`
	SourceChannel      SourceChannel           `json:"source_channel" db:"source_channel"`
	ContentFingerprint fingerprint.Fingerprint `json:"content_fingerprint" db:"content_fingerprint"`
	AIProbability      float64                 `json:"ai_probability" db:"ai_probability"`
	FraudProbability   float64                 `json:"fraud_probability" db:"fraud_probability"`

	// FraudRiskScore is the fused risk score at evaluation time.
	FraudRiskScore float64   `json:"fraud_risk_score" db:"fraud_risk_score"`
	RiskLevel      RiskLevel `json:"risk_level" db:"risk_level"`

	// Detail is the opaque detector payload, stored verbatim.
	Detail json.RawMessage `json:"result,omitempty" db:"result_json"`

	// Flagged marks every entry above LOW severity for compliance review.
	Flagged bool `json:"flagged" db:"flagged"`
}

// AuditFilter narrows audit log queries. Zero values mean no constraint.
// FromID and ToID bound entry ids inclusively.
type AuditFilter struct {
	FromID        int64
	ToID          int64
	FlaggedOnly   bool
	SourceChannel SourceChannel
	Limit         int
	Offset        int
}
