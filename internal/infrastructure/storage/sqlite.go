package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/finledger/reconcile/internal/domain/record"
)

// SQLiteStore provides SQLite database access for reconciliation state.
// It implements the Repository interface.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Repository
var _ Repository = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database and runs pending
// migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// FetchLedgerBatch returns ledger records matching the filter, ordered by id.
func (s *SQLiteStore) FetchLedgerBatch(ctx context.Context, f BatchFilter) ([]*record.LedgerRecord, error) {
	query := `
	SELECT id, amount, occurred_at, descriptor, method_hint, source, external_link
	FROM ledger_records
	WHERE (? = '' OR source = ?)
	  AND (? = 0 OR occurred_at >= ?)
	  AND (? = 0 OR occurred_at <= ?)
	ORDER BY id`

	args := []any{
		f.Source, f.Source,
		boolArg(!f.From.IsZero()), f.From,
		boolArg(!f.To.IsZero()), f.To,
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch ledger batch: %w", err)
	}
	defer rows.Close()

	var out []*record.LedgerRecord
	for rows.Next() {
		var (
			r      record.LedgerRecord
			amount string
			link   sql.NullString
		)
		if err := rows.Scan(&r.ID, &amount, &r.OccurredAt, &r.Descriptor, &r.MethodHint, &r.Source, &link); err != nil {
			return nil, err
		}
		r.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("ledger record %s: bad amount %q: %w", r.ID, amount, err)
		}
		r.ExternalLink = link.String
		out = append(out, &r)
	}
	return out, rows.Err()
}

// SaveLedgerRecords inserts or replaces ledger records.
func (s *SQLiteStore) SaveLedgerRecords(ctx context.Context, recs []*record.LedgerRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	query := `
	INSERT OR REPLACE INTO ledger_records
	(id, amount, occurred_at, descriptor, method_hint, source, external_link)
	VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''))`

	for _, r := range recs {
		if _, err := tx.ExecContext(ctx, query,
			r.ID, r.Amount.String(), r.OccurredAt, r.Descriptor, r.MethodHint, r.Source, r.ExternalLink,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("save ledger record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// ApplyLinks persists a batch of links in a single transaction. Either every
// link commits or none do; a conflict on any external record rolls back the
// whole batch and surfaces a *LinkConflictError.
func (s *SQLiteStore) ApplyLinks(ctx context.Context, runID string, links []Link) error {
	if len(links) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, l := range links {
		var consumedBy sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT consumed_by FROM external_records WHERE id = ?`, l.ExternalID,
		).Scan(&consumedBy)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("check external record %s: %w", l.ExternalID, err)
		}
		if consumedBy.Valid && consumedBy.String != "" && consumedBy.String != l.LedgerID {
			_ = tx.Rollback()
			return &LinkConflictError{ExternalID: l.ExternalID, ConsumedBy: consumedBy.String}
		}

		signals, _ := json.Marshal(l.Signals)
		provenance := fmt.Sprintf("reconciled by run %s (confidence %d, signals %s)", runID, l.Confidence, signals)

		if _, err := tx.ExecContext(ctx, `
			UPDATE ledger_records
			SET external_link = ?, link_confidence = ?, link_run_id = ?, linked_at = ?, provenance = ?
			WHERE id = ?`,
			l.ExternalID, l.Confidence, runID, now, provenance, l.LedgerID,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("link ledger record %s: %w", l.LedgerID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE external_records SET consumed_by = ? WHERE id = ?`,
			l.LedgerID, l.ExternalID,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("mark external record %s consumed: %w", l.ExternalID, err)
		}
	}

	return tx.Commit()
}

// FetchExternalWindow returns external records in the window, ordered by id.
func (s *SQLiteStore) FetchExternalWindow(ctx context.Context, w Window) ([]*record.ExternalRecord, error) {
	query := `
	SELECT id, amount, posted_at, description, source, consumed_by
	FROM external_records
	WHERE (? = '' OR source = ?)
	  AND (? = 0 OR posted_at >= ?)
	  AND (? = 0 OR posted_at <= ?)
	ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query,
		w.Source, w.Source,
		boolArg(!w.From.IsZero()), w.From,
		boolArg(!w.To.IsZero()), w.To,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch external window: %w", err)
	}
	defer rows.Close()

	var out []*record.ExternalRecord
	for rows.Next() {
		var (
			r        record.ExternalRecord
			amount   string
			consumed sql.NullString
		)
		if err := rows.Scan(&r.ID, &amount, &r.PostedAt, &r.Description, &r.Source, &consumed); err != nil {
			return nil, err
		}
		r.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("external record %s: bad amount %q: %w", r.ID, amount, err)
		}
		r.ConsumedBy = consumed.String
		out = append(out, &r)
	}
	return out, rows.Err()
}

// StageExternalRecords inserts external records, deduplicating on content
// hash so re-ingesting the same source file never creates duplicate rows.
func (s *SQLiteStore) StageExternalRecords(ctx context.Context, recs []*record.ExternalRecord) (*StageResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	query := `
	INSERT INTO external_records (id, amount, posted_at, description, source, content_hash)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(content_hash) DO NOTHING`

	result := &StageResult{}
	for _, r := range recs {
		res, err := tx.ExecContext(ctx, query,
			r.ID, r.Amount.String(), r.PostedAt, r.Description, r.Source, r.Hash(),
		)
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("stage external record %s: %w", r.ID, err)
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			result.Inserted++
		} else {
			result.SkippedDuplicate++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkConsumed records that an external record was claimed by a ledger
// record. It fails with a *LinkConflictError if another ledger record
// already holds the claim.
func (s *SQLiteStore) MarkConsumed(ctx context.Context, externalID, ledgerID string) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE external_records SET consumed_by = ?
	WHERE id = ? AND (consumed_by IS NULL OR consumed_by = '' OR consumed_by = ?)`,
		ledgerID, externalID, ledgerID)
	if err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n == 0 {
		var consumedBy sql.NullString
		err := s.db.QueryRowContext(ctx,
			`SELECT consumed_by FROM external_records WHERE id = ?`, externalID,
		).Scan(&consumedBy)
		if err != nil {
			return fmt.Errorf("mark consumed %s: %w", externalID, err)
		}
		return &LinkConflictError{ExternalID: externalID, ConsumedBy: consumedBy.String}
	}
	return nil
}

// StartRun records the start of a reconciliation run.
func (s *SQLiteStore) StartRun(ctx context.Context, run *RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO recon_runs (id, mode, started_at, date_tolerance_days, auto_apply_min, review_min, status)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Mode, run.StartedAt, run.DateToleranceDays, run.AutoApplyMin, run.ReviewMin, RunStatusRunning,
	)
	return err
}

// CompleteRun records the completion of a reconciliation run.
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary RunSummary) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE recon_runs
	SET completed_at = ?, status = ?, auto_applied = ?, needs_review = ?,
	    unmatched_ledger = ?, skipped_duplicate = ?, total_reconciled = ?
	WHERE id = ?`,
		time.Now().UTC(), summary.Status, summary.AutoApplied, summary.NeedsReview,
		summary.UnmatchedLedger, summary.SkippedDuplicate, summary.TotalReconciled, runID,
	)
	return err
}

// ListRuns returns recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, mode, started_at, completed_at, date_tolerance_days, auto_apply_min, review_min,
	       status, auto_applied, needs_review, unmatched_ledger, skipped_duplicate, total_reconciled
	FROM recon_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// GetRun retrieves a run by ID. Returns nil when not found.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, mode, started_at, completed_at, date_tolerance_days, auto_apply_min, review_min,
	       status, auto_applied, needs_review, unmatched_ledger, skipped_duplicate, total_reconciled
	FROM recon_runs WHERE id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRun(rows)
}

func scanRun(rows *sql.Rows) (*RunRecord, error) {
	var (
		run       RunRecord
		completed sql.NullTime
	)
	err := rows.Scan(
		&run.ID, &run.Mode, &run.StartedAt, &completed,
		&run.DateToleranceDays, &run.AutoApplyMin, &run.ReviewMin,
		&run.Status, &run.AutoApplied, &run.NeedsReview,
		&run.UnmatchedLedger, &run.SkippedDuplicate, &run.TotalReconciled,
	)
	if err != nil {
		return nil, err
	}
	if completed.Valid {
		run.CompletedAt = completed.Time
	}
	return &run, nil
}

// SaveReviewMatches stores needs-review matches for manual disposition.
func (s *SQLiteStore) SaveReviewMatches(ctx context.Context, matches []ReviewMatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	query := `
	INSERT OR REPLACE INTO review_matches
	(ledger_id, external_id, run_id, confidence, signals_json, date_delta_days, amount_delta, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, m := range matches {
		signals, _ := json.Marshal(m.Signals)
		status := m.Status
		if status == "" {
			status = ReviewStatusPending
		}
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, query,
			m.LedgerID, m.ExternalID, m.RunID, m.Confidence, string(signals),
			m.DateDeltaDays, m.AmountDelta, status, createdAt,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("save review match %s/%s: %w", m.LedgerID, m.ExternalID, err)
		}
	}
	return tx.Commit()
}

// ListPendingReview returns pending review matches, oldest first.
func (s *SQLiteStore) ListPendingReview(ctx context.Context, limit int) ([]ReviewMatch, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT ledger_id, external_id, run_id, confidence, signals_json, date_delta_days, amount_delta, status, created_at
	FROM review_matches WHERE status = ? ORDER BY created_at, ledger_id LIMIT ?`,
		ReviewStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReviewMatch
	for rows.Next() {
		var (
			m           ReviewMatch
			signalsJSON string
		)
		if err := rows.Scan(&m.LedgerID, &m.ExternalID, &m.RunID, &m.Confidence,
			&signalsJSON, &m.DateDeltaDays, &m.AmountDelta, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(signalsJSON), &m.Signals)
		out = append(out, m)
	}
	return out, rows.Err()
}

// DisposeReview accepts or rejects a pending review match. Accepting applies
// the link with the same conflict checks as ApplyLinks.
func (s *SQLiteStore) DisposeReview(ctx context.Context, ledgerID, externalID string, accept bool) error {
	var m *ReviewMatch
	rows, err := s.db.QueryContext(ctx, `
	SELECT ledger_id, external_id, run_id, confidence, signals_json, date_delta_days, amount_delta, status, created_at
	FROM review_matches WHERE ledger_id = ? AND external_id = ? AND status = ?`,
		ledgerID, externalID, ReviewStatusPending)
	if err != nil {
		return err
	}
	if rows.Next() {
		var signalsJSON string
		m = &ReviewMatch{}
		if err := rows.Scan(&m.LedgerID, &m.ExternalID, &m.RunID, &m.Confidence,
			&signalsJSON, &m.DateDeltaDays, &m.AmountDelta, &m.Status, &m.CreatedAt); err != nil {
			rows.Close()
			return err
		}
		_ = json.Unmarshal([]byte(signalsJSON), &m.Signals)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("no pending review match for %s/%s", ledgerID, externalID)
	}

	if accept {
		if err := s.ApplyLinks(ctx, m.RunID, []Link{{
			LedgerID:   m.LedgerID,
			ExternalID: m.ExternalID,
			Confidence: m.Confidence,
			Signals:    m.Signals,
		}}); err != nil {
			return err
		}
	}

	status := ReviewStatusRejected
	if accept {
		status = ReviewStatusAccepted
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE review_matches SET status = ? WHERE ledger_id = ? AND external_id = ?`,
		status, ledgerID, externalID)
	return err
}

// boolArg converts a condition to the 0/1 guard used in WHERE clauses.
func boolArg(b bool) int {
	if b {
		return 1
	}
	return 0
}
