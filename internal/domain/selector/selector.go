// Package selector picks, per ledger record, the single best external match
// while guaranteeing each external record is consumed at most once per run.
//
// Selection is global rather than per-record to avoid a greedy first-come
// bias: all candidates across the batch are sorted once, then claimed in
// order. This approximates a maximum-weight bipartite matching without an
// exact solver, trading optimality for human-auditable behavior, which is
// the right trade at thousands of records per run.
package selector

import (
	"sort"

	"github.com/finledger/reconcile/internal/domain/scorer"
)

// Less is the total candidate ordering: higher confidence first, then closer
// date, then closer amount, then lexicographically smaller external id, then
// ledger id. The trailing id comparisons make the order fully deterministic;
// map iteration order must never decide a match.
func Less(a, b *scorer.Candidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.DateDeltaDays != b.DateDeltaDays {
		return a.DateDeltaDays < b.DateDeltaDays
	}
	if cmp := a.AmountDelta.Cmp(b.AmountDelta); cmp != 0 {
		return cmp < 0
	}
	if a.External.ID != b.External.ID {
		return a.External.ID < b.External.ID
	}
	return a.Ledger.ID < b.Ledger.ID
}

// Sort orders candidates in place by the selection ordering.
func Sort(cands []*scorer.Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		return Less(cands[i], cands[j])
	})
}

// Select runs the global sort-and-claim pass and returns the selected
// candidates in claim order. Each ledger record and each external record
// appears at most once in the result.
func Select(cands []*scorer.Candidate) []*scorer.Candidate {
	return SelectExcluding(cands, nil)
}

// SelectExcluding behaves like Select but never claims the given external
// ids. The runner uses this to recompute a ledger record's next-best
// candidate after a link conflict.
func SelectExcluding(cands []*scorer.Candidate, excludedExternal map[string]bool) []*scorer.Candidate {
	sorted := make([]*scorer.Candidate, len(cands))
	copy(sorted, cands)
	Sort(sorted)

	// Claims from an earlier selection pass are engine-local; reset them
	// so re-selection after a conflict starts clean.
	for _, c := range sorted {
		c.External.ConsumedBy = ""
	}

	ledgerClaimed := make(map[string]bool)
	externalClaimed := make(map[string]bool)

	var selected []*scorer.Candidate
	for _, c := range sorted {
		if excludedExternal[c.External.ID] {
			continue
		}
		if ledgerClaimed[c.Ledger.ID] || externalClaimed[c.External.ID] {
			continue
		}

		ledgerClaimed[c.Ledger.ID] = true
		externalClaimed[c.External.ID] = true
		c.External.ConsumedBy = c.Ledger.ID
		selected = append(selected, c)
	}

	return selected
}

// TopTwo returns the best and runner-up candidates for one ledger record,
// for the ambiguity section of the run report. The runner-up is nil when
// only one candidate exists.
func TopTwo(cands []*scorer.Candidate) (best, runnerUp *scorer.Candidate) {
	for _, c := range cands {
		switch {
		case best == nil || Less(c, best):
			best, runnerUp = c, best
		case runnerUp == nil || Less(c, runnerUp):
			runnerUp = c
		}
	}
	return best, runnerUp
}
