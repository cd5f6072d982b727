package dto

import "time"

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// NewHealthResponse creates a healthy response stamped with the current time.
func NewHealthResponse() HealthResponse {
	return HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// RunResponse represents a reconciliation run in API responses.
type RunResponse struct {
	ID                string `json:"id"`
	Mode              string `json:"mode"`
	StartedAt         string `json:"started_at"`
	CompletedAt       string `json:"completed_at,omitempty"`
	DateToleranceDays int    `json:"date_tolerance_days"`
	AutoApplyMin      int    `json:"auto_apply_min"`
	ReviewMin         int    `json:"review_min"`
	Status            string `json:"status"`
	AutoApplied       int    `json:"auto_applied"`
	NeedsReview       int    `json:"needs_review"`
	UnmatchedLedger   int    `json:"unmatched_ledger"`
	SkippedDuplicate  int    `json:"skipped_duplicate"`
	TotalReconciled   string `json:"total_reconciled"`
}

// RunListResponse is returned when listing runs.
type RunListResponse struct {
	Runs  []RunResponse `json:"runs"`
	Count int           `json:"count"`
}

// ReviewMatchResponse represents one pending review match.
type ReviewMatchResponse struct {
	RunID         string   `json:"run_id"`
	LedgerID      string   `json:"ledger_id"`
	ExternalID    string   `json:"external_id"`
	Confidence    int      `json:"confidence"`
	Signals       []string `json:"signals"`
	DateDeltaDays int      `json:"date_delta_days"`
	AmountDelta   string   `json:"amount_delta"`
	Status        string   `json:"status"`
	CreatedAt     string   `json:"created_at"`
}

// ReviewListResponse is returned when listing pending review matches.
type ReviewListResponse struct {
	Matches []ReviewMatchResponse `json:"matches"`
	Count   int                   `json:"count"`
}

// DisposeResponse is returned after a review disposition.
type DisposeResponse struct {
	LedgerID   string `json:"ledger_id"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
}
