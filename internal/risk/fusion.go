package risk

import (
	"github.com/sentinelai/risk-engine/internal/domain"
)

// Weights applied when fusing the two detection probabilities. Fraud
// intent carries the larger share of the fused score.
const (
	FraudWeight = 0.6
	AIWeight    = 0.4
)

// Fuse combines the AI-generation and fraud-intent probabilities into a
// single score and its severity level. The computation is deterministic:
// the same pair of inputs always yields the same assessment, and a rise in
// either probability never lowers the score.
func Fuse(aiProbability, fraudProbability float64) (domain.RiskAssessment, error) {
	if err := domain.ValidateProbability("ai_probability", aiProbability); err != nil {
		return domain.RiskAssessment{}, err
	}
	if err := domain.ValidateProbability("fraud_probability", fraudProbability); err != nil {
		return domain.RiskAssessment{}, err
	}

	score := clamp01(FraudWeight*fraudProbability + AIWeight*aiProbability)

	return domain.RiskAssessment{
		RiskScore:        score,
		RiskLevel:        domain.LevelForScore(score),
		AIProbability:    aiProbability,
		FraudProbability: fraudProbability,
	}, nil
}

// clamp01 guards against floating point drift pushing a weighted sum of
// valid probabilities a hair outside [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
