// Package classifier routes selected matches into outcome buckets using
// configured confidence thresholds.
package classifier

import "github.com/finledger/reconcile/internal/domain/scorer"

// Outcome is the disposition bucket for one selected match.
type Outcome string

const (
	OutcomeAutoApply   Outcome = "auto_apply"
	OutcomeNeedsReview Outcome = "needs_review"
	OutcomeUnmatched   Outcome = "unmatched"
)

// Thresholds holds the two bucket boundaries. Both are configuration, never
// constants baked into logic.
type Thresholds struct {
	// AutoApplyMin is the minimum confidence for a match to be written
	// back without human review. The default corresponds to two strong
	// signals.
	AutoApplyMin int `yaml:"auto_apply_min"`

	// ReviewMin is the minimum confidence for a match to be surfaced for
	// manual review at all.
	ReviewMin int `yaml:"review_min"`
}

// DefaultThresholds returns the standard bucket boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{AutoApplyMin: 3, ReviewMin: 1}
}

// Classify buckets one selected candidate. A nil candidate is unmatched.
func Classify(c *scorer.Candidate, t Thresholds) Outcome {
	switch {
	case c == nil:
		return OutcomeUnmatched
	case c.Confidence >= t.AutoApplyMin:
		return OutcomeAutoApply
	case c.Confidence >= t.ReviewMin:
		return OutcomeNeedsReview
	default:
		return OutcomeUnmatched
	}
}
