package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sentinelai/risk-engine/internal/fingerprint"
)

// CaseStatus represents where an investigation sits in its lifecycle.
type CaseStatus string

const (
	CaseStatusOpen          CaseStatus = "OPEN"
	CaseStatusUnderReview   CaseStatus = "UNDER_REVIEW"
	CaseStatusEscalated     CaseStatus = "ESCALATED"
	CaseStatusResolved      CaseStatus = "RESOLVED"
	CaseStatusFalsePositive CaseStatus = "FALSE_POSITIVE"
)

// Valid reports whether the status is a known lifecycle state.
func (s CaseStatus) Valid() bool {
	switch s {
	case CaseStatusOpen, CaseStatusUnderReview, CaseStatusEscalated,
		CaseStatusResolved, CaseStatusFalsePositive:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status permits no further transitions.
// RESOLVED and FALSE_POSITIVE cases are frozen forever.
func (s CaseStatus) Terminal() bool {
	return s == CaseStatusResolved || s == CaseStatusFalsePositive
}

// Case is a durable investigation record. Its risk fields are a snapshot
// of the most recent evaluation of the underlying content; its status
// walks the lifecycle independently.
type Case struct {
	ID                 uuid.UUID               `json:"id" db:"id"`
	ContentFingerprint fingerprint.Fingerprint `json:"content_fingerprint" db:"content_fingerprint"`

	RiskScore        float64   `json:"risk_score" db:"risk_score"`
	AIProbability    float64   `json:"ai_probability" db:"ai_probability"`
	FraudProbability float64   `json:"fraud_probability" db:"fraud_probability"`
	RiskLevel        RiskLevel `json:"risk_level" db:"risk_level"`

	Status           CaseStatus      `json:"status" db:"status"`
	EscalationReason string          `json:"escalation_reason,omitempty" db:"escalation_reason"`
	AssignedTo       *string         `json:"assigned_to,omitempty" db:"assigned_to"`
	ClientID         *string         `json:"client_id,omitempty" db:"client_id"`
	Detail           json.RawMessage `json:"result,omitempty" db:"result_json"`

	// Version counts mutations of the record. Status updates compare it
	// so concurrent transitions cannot silently overwrite each other.
	Version int64 `json:"version" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Active reports whether the case still participates in deduplication and
// accepts transitions.
func (c *Case) Active() bool {
	return !c.Status.Terminal()
}

// ValidateTransition checks a proposed status change against the
// lifecycle rules. The terminal check runs first so a frozen case reports
// InvalidTransition even to callers who also lack the capability.
func (c *Case) ValidateTransition(to CaseStatus) error {
	if c.Status.Terminal() {
		return fmt.Errorf("%w: case %s is %s and cannot change status", ErrInvalidTransition, c.ID, c.Status)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: unknown target status %q", ErrInvalidTransition, to)
	}
	return nil
}

// CaseNote is one immutable entry in a case's investigation timeline.
// Notes are only ever appended, never edited or removed.
type CaseNote struct {
	ID        int64     `json:"id" db:"id"`
	CaseID    uuid.UUID `json:"case_id" db:"case_id"`
	Author    string    `json:"author" db:"author"`
	Text      string    `json:"text" db:"note"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// CreateCaseRequest is an operator-initiated case creation. It bypasses
// fingerprint deduplication and always opens a fresh case.
type CreateCaseRequest struct {
	ContentFingerprint fingerprint.Fingerprint `json:"content_fingerprint" validate:"required"`
	RiskScore          float64                 `json:"risk_score" validate:"min=0,max=1"`
	AIProbability      float64                 `json:"ai_probability" validate:"min=0,max=1"`
	FraudProbability   float64                 `json:"fraud_probability" validate:"min=0,max=1"`
	EscalationReason   string                  `json:"escalation_reason,omitempty"`
	AssignedTo         *string                 `json:"assigned_to,omitempty"`
	ClientID           *string                 `json:"client_id,omitempty"`
	Detail             json.RawMessage         `json:"result,omitempty"`
}

// Validate rejects malformed manual creation requests.
func (r *CreateCaseRequest) Validate() error {
	if r.ContentFingerprint.IsZero() {
		return fmt.Errorf("%w: content_fingerprint is required", ErrInvalidInput)
	}
	if err := ValidateProbability("risk_score", r.RiskScore); err != nil {
		return err
	}
	if err := ValidateProbability("ai_probability", r.AIProbability); err != nil {
		return err
	}
	return ValidateProbability("fraud_probability", r.FraudProbability)
}

// CaseFilter narrows case listings. Zero values mean no constraint.
type CaseFilter struct {
	Status    CaseStatus
	RiskLevel RiskLevel
	ClientID  string
	Limit     int
	Offset    int
}
