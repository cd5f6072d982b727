package recon

import (
	"fmt"
	"strings"
)

// Render formats a run result as the human-readable report printed by the
// CLI. The output is deterministic for a given result.
func Render(res *Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Reconciliation run %s (%s)\n", res.RunID, res.Mode)
	fmt.Fprintf(&b, "  auto_applied:      %d\n", len(res.AutoApplied))
	fmt.Fprintf(&b, "  needs_review:      %d\n", len(res.NeedsReview))
	fmt.Fprintf(&b, "  unmatched_ledger:  %d\n", len(res.Unmatched))
	fmt.Fprintf(&b, "  skipped_duplicate: %d\n", len(res.SkippedDuplicate))
	fmt.Fprintf(&b, "  total_reconciled:  %s\n", res.TotalReconciled.StringFixed(2))

	if len(res.AutoApplied) > 0 {
		b.WriteString("\nAuto-applied:\n")
		for _, m := range res.AutoApplied {
			writeMatch(&b, m)
		}
	}

	if len(res.NeedsReview) > 0 {
		b.WriteString("\nNeeds review:\n")
		for _, m := range res.NeedsReview {
			writeMatch(&b, m)
		}
	}

	if len(res.Unmatched) > 0 {
		b.WriteString("\nUnmatched:\n")
		for _, u := range res.Unmatched {
			fmt.Fprintf(&b, "  %s: %s\n", u.LedgerID, u.Reason)
		}
	}

	if len(res.SkippedDuplicate) > 0 {
		b.WriteString("\nSkipped (already linked):\n")
		for _, s := range res.SkippedDuplicate {
			fmt.Fprintf(&b, "  %s -> %s\n", s.LedgerID, s.ExternalID)
		}
	}

	if len(res.Ambiguous) > 0 {
		b.WriteString("\nAmbiguous (check these):\n")
		for _, a := range res.Ambiguous {
			fmt.Fprintf(&b, "  %s: best %s (confidence %d) vs runner-up %s (confidence %d), delta %d\n",
				a.LedgerID,
				a.Best.ExternalID, a.Best.Confidence,
				a.RunnerUp.ExternalID, a.RunnerUp.Confidence,
				a.Delta)
		}
	}

	return b.String()
}

func writeMatch(b *strings.Builder, m Match) {
	fmt.Fprintf(b, "  %s -> %s  amount=%s confidence=%d signals=%s\n",
		m.LedgerID, m.ExternalID,
		m.Amount.StringFixed(2), m.Confidence,
		strings.Join(m.Signals, ","))
}
