package recon

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode selects whether a run persists its outcome.
type Mode string

const (
	// ModeDryRun computes and reports the full outcome but writes nothing.
	ModeDryRun Mode = "dry_run"

	// ModeApply persists auto-applied links, review matches and the run
	// record.
	ModeApply Mode = "apply"
)

// Match is one ledger-to-external pairing in the run result.
type Match struct {
	LedgerID      string          `json:"ledger_id"`
	ExternalID    string          `json:"external_id"`
	Confidence    int             `json:"confidence"`
	Signals       []string        `json:"signals"`
	DateDeltaDays int             `json:"date_delta_days"`
	AmountDelta   decimal.Decimal `json:"amount_delta"`
	Amount        decimal.Decimal `json:"amount"`
}

// Unmatched is a ledger record that ends the run without a pairing, with the
// reason it did.
type Unmatched struct {
	LedgerID string `json:"ledger_id"`
	Reason   string `json:"reason"`
}

// Skipped is a ledger record that already carried a link from a prior run.
type Skipped struct {
	LedgerID   string `json:"ledger_id"`
	ExternalID string `json:"external_id"`
}

// Ambiguity is a ledger record whose best and runner-up candidates scored
// close enough that a human should sanity-check the choice.
type Ambiguity struct {
	LedgerID string `json:"ledger_id"`
	Best     Match  `json:"best"`
	RunnerUp Match  `json:"runner_up"`
	Delta    int    `json:"delta"`
}

// Result is the complete outcome of one reconciliation run. Every ledger
// record in the batch appears in exactly one of the four buckets. The same
// input always yields the same Result regardless of mode.
type Result struct {
	RunID    string    `json:"run_id"`
	Mode     Mode      `json:"mode"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	AutoApplied      []Match     `json:"auto_applied"`
	NeedsReview      []Match     `json:"needs_review"`
	Unmatched        []Unmatched `json:"unmatched"`
	SkippedDuplicate []Skipped   `json:"skipped_duplicate"`

	Ambiguous []Ambiguity `json:"ambiguous,omitempty"`

	// TotalReconciled is the sum of absolute ledger amounts across the
	// auto-applied bucket.
	TotalReconciled decimal.Decimal `json:"total_reconciled"`
}

// Counts returns the four bucket sizes in report order.
func (r *Result) Counts() (autoApplied, needsReview, unmatched, skipped int) {
	return len(r.AutoApplied), len(r.NeedsReview), len(r.Unmatched), len(r.SkippedDuplicate)
}
