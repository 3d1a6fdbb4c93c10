package domain

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/sentinelai/risk-engine/internal/fingerprint"
)

// SourceChannel identifies the intake surface a submission arrived through.
type SourceChannel string

const (
	ChannelText     SourceChannel = "TEXT"
	ChannelDocument SourceChannel = "DOCUMENT"
	ChannelImage    SourceChannel = "IMAGE"
)

// Valid reports whether the channel is one of the known intake surfaces.
func (c SourceChannel) Valid() bool {
	switch c {
	case ChannelText, ChannelDocument, ChannelImage:
		return true
	default:
		return false
	}
}

// RiskLevel represents the discrete severity derived from a fused risk
// score. It is always computed from the score, never set independently.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// Valid reports whether the level is a known severity.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelCritical:
		return true
	default:
		return false
	}
}

// LevelForScore maps a fused risk score onto its severity bucket. Buckets
// are half-open so every score in [0,1] lands in exactly one level:
// [0, 0.3) LOW, [0.3, 0.6) MEDIUM, [0.6, 0.8) HIGH, [0.8, 1.0] CRITICAL.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= 0.8:
		return RiskLevelCritical
	case score >= 0.6:
		return RiskLevelHigh
	case score >= 0.3:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// EscalationType classifies why a submission warrants escalation. It is
// orthogonal to RiskLevel: the type captures the shape of the threat, the
// level captures its magnitude.
type EscalationType string

const (
	// EscalationCriticalRisk fires when the fused score alone crosses the
	// critical threshold.
	EscalationCriticalRisk EscalationType = "CRITICAL_RISK"

	// EscalationHumanCraftedFraud fires on high fraud intent paired with
	// low AI involvement, the signature of a manually written scam.
	EscalationHumanCraftedFraud EscalationType = "HUMAN_CRAFTED_FRAUD"

	// EscalationSyntheticSuspicious fires on strong AI-generation signal
	// paired with low fraud intent.
	EscalationSyntheticSuspicious EscalationType = "SYNTHETIC_SUSPICIOUS"

	// EscalationElevatedRisk fires when no specific pattern matched but
	// the severity still reached HIGH.
	EscalationElevatedRisk EscalationType = "ELEVATED_RISK"
)

// AnalysisResult is the detection output handed to the engine for one
// submission. The engine consumes these from upstream inference services
// and never produces them itself.
type AnalysisResult struct {
	AIProbability      float64                 `json:"ai_probability"`
	FraudProbability   float64                 `json:"fraud_probability"`
	ContentFingerprint fingerprint.Fingerprint `json:"content_fingerprint"`
	SourceChannel      SourceChannel           `json:"source_channel"`

	// ClientID optionally attributes the submission to an API tenant.
	ClientID *string `json:"client_id,omitempty"`

	// Detail carries the raw detector output. The engine stores and
	// surfaces it without interpreting its schema.
	Detail json.RawMessage `json:"result,omitempty"`
}

// Validate rejects contract violations before any side effect happens.
// Probabilities must be real numbers in [0,1], the fingerprint must be
// present, and the channel must be a known surface.
func (r *AnalysisResult) Validate() error {
	if err := ValidateProbability("ai_probability", r.AIProbability); err != nil {
		return err
	}
	if err := ValidateProbability("fraud_probability", r.FraudProbability); err != nil {
		return err
	}
	if r.ContentFingerprint.IsZero() {
		return fmt.Errorf("%w: content_fingerprint is required", ErrInvalidInput)
	}
	if !r.SourceChannel.Valid() {
		return fmt.Errorf("%w: unknown source_channel %q", ErrInvalidInput, r.SourceChannel)
	}
	return nil
}

// ValidateProbability checks that a named probability field is a finite
// number in [0,1], wrapping ErrInvalidInput otherwise.
func ValidateProbability(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be a finite number", ErrInvalidInput, name)
	}
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: %s %v outside [0,1]", ErrInvalidInput, name, v)
	}
	return nil
}

// RiskAssessment is the immutable outcome of fusing the two detection
// probabilities for one submission.
type RiskAssessment struct {
	RiskScore        float64        `json:"risk_score"`
	RiskLevel        RiskLevel      `json:"risk_level"`
	AIProbability    float64        `json:"ai_probability"`
	FraudProbability float64        `json:"fraud_probability"`
	EscalationType   EscalationType `json:"escalation_type,omitempty"`
	EscalationReason string         `json:"escalation_reason,omitempty"`
}

// Escalated reports whether a classification rule matched. The type and
// reason are either both set or both empty.
func (a RiskAssessment) Escalated() bool {
	return a.EscalationType != ""
}

// Flagged reports whether the submission's audit entry is marked for
// compliance attention. Everything above LOW is flagged.
func (a RiskAssessment) Flagged() bool {
	return a.RiskLevel != RiskLevelLow
}
