package risk

import (
	"fmt"

	"github.com/sentinelai/risk-engine/internal/domain"
)

// CriticalScoreThreshold is the fused score at and above which severity
// alone forces escalation, regardless of the probability shape.
const CriticalScoreThreshold = 0.8

// Probability thresholds for the shape-based escalation rules.
const (
	highProbability = 0.6
	lowProbability  = 0.3
)

// Classify applies the escalation rules to a fused assessment and returns
// a copy with escalation type and reason filled in when a rule matched.
// Rules are evaluated in strict priority order and the first match wins:
//
//  1. fused score at or above the critical threshold
//  2. high fraud intent with low AI generation
//  3. high AI generation with low fraud intent
//  4. HIGH severity that no rule above characterized
//
// An assessment that matches nothing is returned unchanged; type and
// reason are always set together.
func Classify(a domain.RiskAssessment) domain.RiskAssessment {
	switch {
	case a.RiskScore >= CriticalScoreThreshold:
		a.EscalationType = domain.EscalationCriticalRisk
		a.EscalationReason = fmt.Sprintf(
			"Auto-escalated: combined risk score %.2f exceeds critical threshold (%.2f). "+
				"AI probability: %.1f%%, fraud probability: %.1f%%. Immediate senior review required.",
			a.RiskScore, CriticalScoreThreshold, a.AIProbability*100, a.FraudProbability*100)

	case a.FraudProbability >= highProbability && a.AIProbability < lowProbability:
		a.EscalationType = domain.EscalationHumanCraftedFraud
		a.EscalationReason = fmt.Sprintf(
			"Human-crafted fraud alert: high fraud probability (%.1f%%) with low AI generation (%.1f%%). "+
				"This suggests a deliberate, manually composed fraudulent communication.",
			a.FraudProbability*100, a.AIProbability*100)

	case a.AIProbability >= highProbability && a.FraudProbability < lowProbability:
		a.EscalationType = domain.EscalationSyntheticSuspicious
		a.EscalationReason = fmt.Sprintf(
			"Synthetic content alert: high AI generation probability (%.1f%%) with low direct fraud "+
				"indicators (%.1f%%). Content may be aimed at social engineering or impersonation.",
			a.AIProbability*100, a.FraudProbability*100)

	case a.RiskLevel == domain.RiskLevelHigh:
		a.EscalationType = domain.EscalationElevatedRisk
		a.EscalationReason = fmt.Sprintf(
			"High risk detected: risk_score=%.2f, AI=%.1f%%, fraud=%.1f%%. Queued for analyst review.",
			a.RiskScore, a.AIProbability*100, a.FraudProbability*100)
	}

	return a
}

// Assess fuses the two probabilities and classifies the result in one
// step. This is the evaluation entry point most callers want.
func Assess(aiProbability, fraudProbability float64) (domain.RiskAssessment, error) {
	a, err := Fuse(aiProbability, fraudProbability)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	return Classify(a), nil
}
