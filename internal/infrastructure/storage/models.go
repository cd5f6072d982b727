package storage

import (
	"fmt"
	"time"
)

// Run status values.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// Review match status values.
const (
	ReviewStatusPending  = "pending"
	ReviewStatusAccepted = "accepted"
	ReviewStatusRejected = "rejected"
)

// RunRecord is one reconciliation run.
type RunRecord struct {
	ID                string    `json:"id"`
	Mode              string    `json:"mode"` // dry_run or apply
	StartedAt         time.Time `json:"started_at"`
	CompletedAt       time.Time `json:"completed_at,omitempty"`
	DateToleranceDays int       `json:"date_tolerance_days"`
	AutoApplyMin      int       `json:"auto_apply_min"`
	ReviewMin         int       `json:"review_min"`
	Status            string    `json:"status"`

	// Bucket counts, filled at completion.
	AutoApplied      int    `json:"auto_applied"`
	NeedsReview      int    `json:"needs_review"`
	UnmatchedLedger  int    `json:"unmatched_ledger"`
	SkippedDuplicate int    `json:"skipped_duplicate"`
	TotalReconciled  string `json:"total_reconciled"` // decimal string
}

// RunSummary carries the completion counts for a run.
type RunSummary struct {
	Status           string
	AutoApplied      int
	NeedsReview      int
	UnmatchedLedger  int
	SkippedDuplicate int
	TotalReconciled  string
}

// ReviewMatch is a below-auto-apply match surfaced for manual disposition.
type ReviewMatch struct {
	RunID         string    `json:"run_id"`
	LedgerID      string    `json:"ledger_id"`
	ExternalID    string    `json:"external_id"`
	Confidence    int       `json:"confidence"`
	Signals       []string  `json:"signals"`
	DateDeltaDays int       `json:"date_delta_days"`
	AmountDelta   string    `json:"amount_delta"` // decimal string
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// LinkConflictError reports that an external record the engine expected to
// be free was already consumed by a concurrent or prior process. The caller
// treats it as fatal for that single pairing only.
type LinkConflictError struct {
	ExternalID string
	ConsumedBy string
}

func (e *LinkConflictError) Error() string {
	return fmt.Sprintf("external record %s already consumed by %s", e.ExternalID, e.ConsumedBy)
}
