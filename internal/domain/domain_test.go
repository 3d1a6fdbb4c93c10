package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelai/risk-engine/internal/fingerprint"
)

func TestLevelForScoreBuckets(t *testing.T) {
	cases := []struct {
		score float64
		want  RiskLevel
	}{
		{0.0, RiskLevelLow},
		{0.29999, RiskLevelLow},
		{0.3, RiskLevelMedium},
		{0.59999, RiskLevelMedium},
		{0.6, RiskLevelHigh},
		{0.79999, RiskLevelHigh},
		{0.8, RiskLevelCritical},
		{1.0, RiskLevelCritical},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, LevelForScore(tc.score), "score %v", tc.score)
	}
}

func TestLevelForScoreIsMonotonic(t *testing.T) {
	rank := map[RiskLevel]int{
		RiskLevelLow:      0,
		RiskLevelMedium:   1,
		RiskLevelHigh:     2,
		RiskLevelCritical: 3,
	}

	prev := rank[LevelForScore(0)]
	for s := 0.0; s <= 1.0; s += 0.001 {
		cur := rank[LevelForScore(s)]
		require.GreaterOrEqual(t, cur, prev, "level dropped at score %v", s)
		prev = cur
	}
}

func TestCaseStatusTerminal(t *testing.T) {
	assert.True(t, CaseStatusResolved.Terminal())
	assert.True(t, CaseStatusFalsePositive.Terminal())
	assert.False(t, CaseStatusOpen.Terminal())
	assert.False(t, CaseStatusUnderReview.Terminal())
	assert.False(t, CaseStatusEscalated.Terminal())
}

func TestValidateTransitionChecksTerminalFirst(t *testing.T) {
	resolved := &Case{Status: CaseStatusResolved}

	// Even an unknown target status reports the terminal violation first.
	err := resolved.ValidateTransition(CaseStatus("NONSENSE"))
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "RESOLVED")

	open := &Case{Status: CaseStatusOpen}
	err = open.ValidateTransition(CaseStatus("NONSENSE"))
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "NONSENSE")

	assert.NoError(t, open.ValidateTransition(CaseStatusUnderReview))
}

func TestRoleOrdering(t *testing.T) {
	assert.True(t, RoleAdmin.AtLeast(RoleReviewer))
	assert.True(t, RoleReviewer.AtLeast(RoleAnalyst))
	assert.True(t, RoleAnalyst.AtLeast(RoleAnalyst))
	assert.False(t, RoleAnalyst.AtLeast(RoleReviewer))
	assert.False(t, RoleReviewer.AtLeast(RoleAdmin))

	unknown := Role("superuser")
	assert.False(t, unknown.Known())
	assert.False(t, unknown.AtLeast(RoleAnalyst))
}

func TestAnalysisResultValidate(t *testing.T) {
	valid := AnalysisResult{
		AIProbability:      0.4,
		FraudProbability:   0.7,
		ContentFingerprint: fingerprint.ComputeString("payload"),
		SourceChannel:      ChannelText,
	}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*AnalysisResult)
	}{
		{"ai probability above one", func(r *AnalysisResult) { r.AIProbability = 1.2 }},
		{"fraud probability negative", func(r *AnalysisResult) { r.FraudProbability = -0.1 }},
		{"ai probability NaN", func(r *AnalysisResult) { r.AIProbability = math.NaN() }},
		{"missing fingerprint", func(r *AnalysisResult) { r.ContentFingerprint = fingerprint.Fingerprint{} }},
		{"unknown channel", func(r *AnalysisResult) { r.SourceChannel = "CARRIER_PIGEON" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := valid
			tc.mutate(&r)
			assert.ErrorIs(t, r.Validate(), ErrInvalidInput)
		})
	}
}

func TestAssessmentFlagged(t *testing.T) {
	assert.False(t, RiskAssessment{RiskLevel: RiskLevelLow}.Flagged())
	assert.True(t, RiskAssessment{RiskLevel: RiskLevelMedium}.Flagged())
	assert.True(t, RiskAssessment{RiskLevel: RiskLevelHigh}.Flagged())
	assert.True(t, RiskAssessment{RiskLevel: RiskLevelCritical}.Flagged())
}
