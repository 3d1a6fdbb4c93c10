package signals

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywords(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []string
	}{
		{
			name: "all categories collected in order",
			payload: `{
				"fraud_signals": {
					"urgency": {"score": 0.8, "keywords": ["act now", "urgent"]},
					"financial_redirection": {"score": 0.6, "keywords": ["wire transfer"]},
					"impersonation": {"score": 0.4, "keywords": ["ceo"]}
				}
			}`,
			want: []string{"act now", "urgent", "wire transfer", "ceo"},
		},
		{
			name:    "missing categories are skipped",
			payload: `{"fraud_signals": {"urgency": {"keywords": ["hurry"]}}}`,
			want:    []string{"hurry"},
		},
		{
			name:    "repeated keyword kept per occurrence",
			payload: `{"fraud_signals": {"urgency": {"keywords": ["wire"]}, "financial_redirection": {"keywords": ["wire"]}}}`,
			want:    []string{"wire", "wire"},
		},
		{
			name:    "falls back to suspicious_phrases",
			payload: `{"suspicious_phrases": ["gift card", "verify account"]}`,
			want:    []string{"gift card", "verify account"},
		},
		{
			name:    "categorised signals win over the fallback",
			payload: `{"fraud_signals": {"urgency": {"keywords": ["now"]}}, "suspicious_phrases": ["ignored"]}`,
			want:    []string{"now"},
		},
		{
			name:    "empty keyword lists fall through",
			payload: `{"fraud_signals": {"urgency": {"keywords": []}}, "suspicious_phrases": ["kept"]}`,
			want:    []string{"kept"},
		},
		{
			name:    "unrelated payload yields nothing",
			payload: `{"model": "detector-v2", "tokens": 512}`,
			want:    nil,
		},
		{
			name:    "malformed payload yields nothing",
			payload: `{"fraud_signals": `,
			want:    nil,
		},
		{
			name:    "empty payload yields nothing",
			payload: ``,
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Keywords(json.RawMessage(tt.payload))
			assert.Equal(t, tt.want, got)
		})
	}
}
