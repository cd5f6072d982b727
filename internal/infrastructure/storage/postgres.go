package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/finledger/reconcile/internal/domain/record"
)

// PostgresStore provides PostgreSQL database access for reconciliation
// state, for deployments where the ledger lives in a shared server database
// rather than a local file.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Repository
var _ Repository = (*PostgresStore)(nil)

// NewPostgresStore connects to PostgreSQL and ensures the schema exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) ensureSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ledger_records (
			id TEXT PRIMARY KEY,
			amount NUMERIC(18,2) NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			descriptor TEXT NOT NULL DEFAULT '',
			method_hint TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			external_link TEXT,
			link_confidence INTEGER,
			link_run_id TEXT,
			linked_at TIMESTAMPTZ,
			provenance TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_occurred_at ON ledger_records(occurred_at)`,
		`CREATE TABLE IF NOT EXISTS external_records (
			id TEXT PRIMARY KEY,
			amount NUMERIC(18,2) NOT NULL,
			posted_at TIMESTAMPTZ NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			consumed_by TEXT,
			content_hash TEXT NOT NULL UNIQUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_external_posted_at ON external_records(posted_at)`,
		`CREATE TABLE IF NOT EXISTS recon_runs (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			date_tolerance_days INTEGER NOT NULL,
			auto_apply_min INTEGER NOT NULL,
			review_min INTEGER NOT NULL,
			status TEXT NOT NULL,
			auto_applied INTEGER NOT NULL DEFAULT 0,
			needs_review INTEGER NOT NULL DEFAULT 0,
			unmatched_ledger INTEGER NOT NULL DEFAULT 0,
			skipped_duplicate INTEGER NOT NULL DEFAULT 0,
			total_reconciled TEXT NOT NULL DEFAULT '0'
		)`,
		`CREATE TABLE IF NOT EXISTS review_matches (
			ledger_id TEXT NOT NULL,
			external_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			confidence INTEGER NOT NULL,
			signals_json TEXT NOT NULL DEFAULT '[]',
			date_delta_days INTEGER NOT NULL,
			amount_delta TEXT NOT NULL DEFAULT '0',
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (ledger_id, external_id)
		)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// FetchLedgerBatch returns ledger records matching the filter, ordered by id.
func (s *PostgresStore) FetchLedgerBatch(ctx context.Context, f BatchFilter) ([]*record.LedgerRecord, error) {
	query := `
	SELECT id, amount::text, occurred_at, descriptor, method_hint, source, external_link
	FROM ledger_records
	WHERE ($1 = '' OR source = $1)
	  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
	  AND ($3::timestamptz IS NULL OR occurred_at <= $3)
	ORDER BY id`

	args := []any{f.Source, nullTime(f.From), nullTime(f.To)}
	if f.Limit > 0 {
		query += " LIMIT $4"
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

// SaveLedgerRecords inserts or updates ledger records.
func (s *PostgresStore) SaveLedgerRecords(ctx context.Context, recs []*record.LedgerRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO ledger_records (id, amount, occurred_at, descriptor, method_hint, source, external_link)
	VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	ON CONFLICT (id) DO UPDATE SET
		amount = EXCLUDED.amount,
		occurred_at = EXCLUDED.occurred_at,
		descriptor = EXCLUDED.descriptor,
		method_hint = EXCLUDED.method_hint,
		source = EXCLUDED.source`

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

// ApplyLinks persists a batch of links atomically, locking each target
// external row so concurrent processes cannot double-consume it.
func (s *PostgresStore) ApplyLinks(ctx context.Context, runID string, links []Link) error {
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
			`SELECT consumed_by FROM external_records WHERE id = $1 FOR UPDATE`, l.ExternalID,
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
			SET external_link = $1, link_confidence = $2, link_run_id = $3, linked_at = $4, provenance = $5
			WHERE id = $6`,
			l.ExternalID, l.Confidence, runID, now, provenance, l.LedgerID,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("link ledger record %s: %w", l.LedgerID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE external_records SET consumed_by = $1 WHERE id = $2`,
			l.LedgerID, l.ExternalID,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("mark external record %s consumed: %w", l.ExternalID, err)
		}
	}

	return tx.Commit()
}

// FetchExternalWindow returns external records in the window, ordered by id.
func (s *PostgresStore) FetchExternalWindow(ctx context.Context, w Window) ([]*record.ExternalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, amount::text, posted_at, description, source, consumed_by
	FROM external_records
	WHERE ($1 = '' OR source = $1)
	  AND ($2::timestamptz IS NULL OR posted_at >= $2)
	  AND ($3::timestamptz IS NULL OR posted_at <= $3)
	ORDER BY id`,
		w.Source, nullTime(w.From), nullTime(w.To))
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

// StageExternalRecords inserts external records, deduplicating on content hash.
func (s *PostgresStore) StageExternalRecords(ctx context.Context, recs []*record.ExternalRecord) (*StageResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	query := `
	INSERT INTO external_records (id, amount, posted_at, description, source, content_hash)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (content_hash) DO NOTHING`

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

// MarkConsumed records that an external record was claimed by a ledger record.
func (s *PostgresStore) MarkConsumed(ctx context.Context, externalID, ledgerID string) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE external_records SET consumed_by = $1
	WHERE id = $2 AND (consumed_by IS NULL OR consumed_by = '' OR consumed_by = $1)`,
		ledgerID, externalID)
	if err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n == 0 {
		var consumedBy sql.NullString
		err := s.db.QueryRowContext(ctx,
			`SELECT consumed_by FROM external_records WHERE id = $1`, externalID,
		).Scan(&consumedBy)
		if err != nil {
			return fmt.Errorf("mark consumed %s: %w", externalID, err)
		}
		return &LinkConflictError{ExternalID: externalID, ConsumedBy: consumedBy.String}
	}
	return nil
}

// StartRun records the start of a reconciliation run.
func (s *PostgresStore) StartRun(ctx context.Context, run *RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO recon_runs (id, mode, started_at, date_tolerance_days, auto_apply_min, review_min, status)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Mode, run.StartedAt, run.DateToleranceDays, run.AutoApplyMin, run.ReviewMin, RunStatusRunning,
	)
	return err
}

// CompleteRun records the completion of a reconciliation run.
func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary RunSummary) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE recon_runs
	SET completed_at = $1, status = $2, auto_applied = $3, needs_review = $4,
	    unmatched_ledger = $5, skipped_duplicate = $6, total_reconciled = $7
	WHERE id = $8`,
		time.Now().UTC(), summary.Status, summary.AutoApplied, summary.NeedsReview,
		summary.UnmatchedLedger, summary.SkippedDuplicate, summary.TotalReconciled, runID,
	)
	return err
}

// ListRuns returns recent runs, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, mode, started_at, completed_at, date_tolerance_days, auto_apply_min, review_min,
	       status, auto_applied, needs_review, unmatched_ledger, skipped_duplicate, total_reconciled
	FROM recon_runs ORDER BY started_at DESC LIMIT $1`, limit)
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
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, mode, started_at, completed_at, date_tolerance_days, auto_apply_min, review_min,
	       status, auto_applied, needs_review, unmatched_ledger, skipped_duplicate, total_reconciled
	FROM recon_runs WHERE id = $1`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRun(rows)
}

// SaveReviewMatches stores needs-review matches for manual disposition.
func (s *PostgresStore) SaveReviewMatches(ctx context.Context, matches []ReviewMatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO review_matches
	(ledger_id, external_id, run_id, confidence, signals_json, date_delta_days, amount_delta, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (ledger_id, external_id) DO UPDATE SET
		run_id = EXCLUDED.run_id,
		confidence = EXCLUDED.confidence,
		signals_json = EXCLUDED.signals_json,
		date_delta_days = EXCLUDED.date_delta_days,
		amount_delta = EXCLUDED.amount_delta`

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
func (s *PostgresStore) ListPendingReview(ctx context.Context, limit int) ([]ReviewMatch, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT ledger_id, external_id, run_id, confidence, signals_json, date_delta_days, amount_delta, status, created_at
	FROM review_matches WHERE status = $1 ORDER BY created_at, ledger_id LIMIT $2`,
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

// DisposeReview accepts or rejects a pending review match.
func (s *PostgresStore) DisposeReview(ctx context.Context, ledgerID, externalID string, accept bool) error {
	var (
		m           ReviewMatch
		signalsJSON string
	)
	err := s.db.QueryRowContext(ctx, `
	SELECT ledger_id, external_id, run_id, confidence, signals_json, date_delta_days, amount_delta, status, created_at
	FROM review_matches WHERE ledger_id = $1 AND external_id = $2 AND status = $3`,
		ledgerID, externalID, ReviewStatusPending,
	).Scan(&m.LedgerID, &m.ExternalID, &m.RunID, &m.Confidence,
		&signalsJSON, &m.DateDeltaDays, &m.AmountDelta, &m.Status, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("no pending review match for %s/%s", ledgerID, externalID)
	}
	if err != nil {
		return err
	}
	_ = json.Unmarshal([]byte(signalsJSON), &m.Signals)

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
		`UPDATE review_matches SET status = $1 WHERE ledger_id = $2 AND external_id = $3`,
		status, ledgerID, externalID)
	return err
}

// nullTime maps a zero time to NULL for open-ended window bounds.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
