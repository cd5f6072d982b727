package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/finledger/reconcile/internal/domain/scorer"
)

func TestClassify(t *testing.T) {
	thresholds := DefaultThresholds()

	tests := []struct {
		name       string
		confidence int
		want       Outcome
	}{
		{"well above auto-apply", 5, OutcomeAutoApply},
		{"exactly at auto-apply", 3, OutcomeAutoApply},
		{"between thresholds", 2, OutcomeNeedsReview},
		{"exactly at review min", 1, OutcomeNeedsReview},
		{"below review min", 0, OutcomeUnmatched},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &scorer.Candidate{Confidence: tt.confidence}
			assert.Equal(t, tt.want, Classify(c, thresholds))
		})
	}
}

func TestClassify_NilCandidateIsUnmatched(t *testing.T) {
	assert.Equal(t, OutcomeUnmatched, Classify(nil, DefaultThresholds()))
}

func TestClassify_ThresholdsFromConfigNotConstants(t *testing.T) {
	strict := Thresholds{AutoApplyMin: 6, ReviewMin: 4}

	c := &scorer.Candidate{Confidence: 5}
	assert.Equal(t, OutcomeNeedsReview, Classify(c, strict))
	assert.Equal(t, OutcomeAutoApply, Classify(c, Thresholds{AutoApplyMin: 5, ReviewMin: 1}))
}
