package storage

import (
	"context"
	"time"

	"github.com/finledger/reconcile/internal/domain/record"
)

// Repository defines the complete storage interface. This allows swapping
// implementations (SQLite, PostgreSQL) and makes testing with the in-memory
// mock straightforward.
type Repository interface {
	LedgerRepository
	ExternalRepository
	RunRepository
	ReviewRepository
	Close() error
}

// BatchFilter scopes the ledger records a reconciliation run claims.
type BatchFilter struct {
	Source string    // Ledger source tag (empty = all)
	From   time.Time // Inclusive occurred_at lower bound (zero = open)
	To     time.Time // Inclusive occurred_at upper bound (zero = open)
	Limit  int       // Max records (0 = all)
}

// Window scopes the external records loaded for candidate generation.
type Window struct {
	Source string
	From   time.Time
	To     time.Time
}

// Link is one ledger-to-external pairing to persist.
type Link struct {
	LedgerID   string
	ExternalID string
	Confidence int
	Signals    []string
}

// StageResult reports a staging insert.
type StageResult struct {
	Inserted         int
	SkippedDuplicate int
}

// LedgerRepository provides ledger record access. Records already linked by
// a prior run are included in a fetched batch; the idempotency guard, not
// the store, decides to skip them.
type LedgerRepository interface {
	// FetchLedgerBatch returns the ledger records matching the filter,
	// ordered by id for reproducible runs.
	FetchLedgerBatch(ctx context.Context, f BatchFilter) ([]*record.LedgerRecord, error)

	// SaveLedgerRecords inserts or replaces ledger records. Used by
	// loaders and fixtures; the engine itself never creates ledger rows.
	SaveLedgerRecords(ctx context.Context, recs []*record.LedgerRecord) error

	// ApplyLinks persists a batch of links atomically: every link sets
	// external_link on the ledger side and consumed_by on the external
	// side, or none do. A *LinkConflictError is returned (and nothing
	// committed) if any target external record is already consumed.
	ApplyLinks(ctx context.Context, runID string, links []Link) error
}

// ExternalRepository provides external record access.
type ExternalRepository interface {
	// FetchExternalWindow returns external records in the window,
	// ordered by id.
	FetchExternalWindow(ctx context.Context, w Window) ([]*record.ExternalRecord, error)

	// StageExternalRecords inserts external records keyed by content
	// hash. Re-staging a record that hashes identically is skipped, not
	// duplicated.
	StageExternalRecords(ctx context.Context, recs []*record.ExternalRecord) (*StageResult, error)

	// MarkConsumed records that a single external record was claimed.
	MarkConsumed(ctx context.Context, externalID, ledgerID string) error
}

// RunRepository tracks reconciliation runs.
type RunRepository interface {
	StartRun(ctx context.Context, run *RunRecord) error
	CompleteRun(ctx context.Context, runID string, summary RunSummary) error
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
}

// ReviewRepository holds needs-review matches awaiting manual disposition.
type ReviewRepository interface {
	SaveReviewMatches(ctx context.Context, matches []ReviewMatch) error
	ListPendingReview(ctx context.Context, limit int) ([]ReviewMatch, error)

	// DisposeReview accepts or rejects a pending match. Accepting applies
	// the link through the same conflict checks as ApplyLinks.
	DisposeReview(ctx context.Context, ledgerID, externalID string, accept bool) error
}
