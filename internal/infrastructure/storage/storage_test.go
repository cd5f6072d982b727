package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finledger/reconcile/internal/domain/record"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testLedger(id string, amount float64, date time.Time) *record.LedgerRecord {
	return &record.LedgerRecord{
		ID:         id,
		Amount:     decimal.NewFromFloat(amount),
		OccurredAt: date,
		Descriptor: "TEST",
		Source:     "ledger",
	}
}

func testExternal(id string, amount float64, date time.Time, description string) *record.ExternalRecord {
	return &record.ExternalRecord{
		ID:          id,
		Amount:      decimal.NewFromFloat(amount),
		PostedAt:    date,
		Description: description,
		Source:      "bank",
	}
}

func TestSQLiteStore_LedgerRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	date := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveLedgerRecords(ctx, []*record.LedgerRecord{
		testLedger("L1", 115.00, date),
		testLedger("L2", 250.75, date.AddDate(0, 0, 1)),
	}))

	got, err := store.FetchLedgerBatch(ctx, BatchFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "L1", got[0].ID)
	assert.True(t, got[0].Amount.Equal(decimal.NewFromFloat(115.00)))
	assert.False(t, got[0].Linked())
}

func TestSQLiteStore_FetchLedgerBatchFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	date := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveLedgerRecords(ctx, []*record.LedgerRecord{
		testLedger("L1", 10, date),
		testLedger("L2", 20, date.AddDate(0, 0, 10)),
	}))

	got, err := store.FetchLedgerBatch(ctx, BatchFilter{To: date.AddDate(0, 0, 5)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "L1", got[0].ID)
}

func TestSQLiteStore_StagingDeduplicatesOnContentHash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	date := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	first, err := store.StageExternalRecords(ctx, []*record.ExternalRecord{
		testExternal("E1", -115.00, date, "MCARD DEP CR"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)

	// Same physical record re-parsed with formatting differences and a new id
	second, err := store.StageExternalRecords(ctx, []*record.ExternalRecord{
		testExternal("E1-reimport", -115.00, date, "mcard  dep. cr"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 1, second.SkippedDuplicate)

	got, err := store.FetchExternalWindow(ctx, Window{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteStore_ApplyLinksSetsBothSides(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	date := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveLedgerRecords(ctx, []*record.LedgerRecord{testLedger("L1", 115, date)}))
	_, err := store.StageExternalRecords(ctx, []*record.ExternalRecord{testExternal("E1", -115, date, "DEP")})
	require.NoError(t, err)

	err = store.ApplyLinks(ctx, "run-1", []Link{
		{LedgerID: "L1", ExternalID: "E1", Confidence: 5, Signals: []string{"exact_amount", "same_day"}},
	})
	require.NoError(t, err)

	ledger, err := store.FetchLedgerBatch(ctx, BatchFilter{})
	require.NoError(t, err)
	assert.Equal(t, "E1", ledger[0].ExternalLink)

	external, err := store.FetchExternalWindow(ctx, Window{})
	require.NoError(t, err)
	assert.Equal(t, "L1", external[0].ConsumedBy)
}

func TestSQLiteStore_ApplyLinksConflictRollsBackBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	date := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveLedgerRecords(ctx, []*record.LedgerRecord{
		testLedger("L1", 115, date),
		testLedger("L2", 200, date),
	}))
	_, err := store.StageExternalRecords(ctx, []*record.ExternalRecord{
		testExternal("E1", -115, date, "A"),
		testExternal("E2", -200, date, "B"),
	})
	require.NoError(t, err)

	// E2 grabbed by another process first
	require.NoError(t, store.MarkConsumed(ctx, "E2", "L9"))

	err = store.ApplyLinks(ctx, "run-1", []Link{
		{LedgerID: "L1", ExternalID: "E1", Confidence: 5},
		{LedgerID: "L2", ExternalID: "E2", Confidence: 4},
	})

	var conflict *LinkConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "E2", conflict.ExternalID)
	assert.Equal(t, "L9", conflict.ConsumedBy)

	// Nothing from the batch committed, including the valid L1/E1 link
	ledger, err := store.FetchLedgerBatch(ctx, BatchFilter{})
	require.NoError(t, err)
	for _, r := range ledger {
		assert.False(t, r.Linked(), "ledger %s should not be linked", r.ID)
	}
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := &RunRecord{
		ID:                "run-1",
		Mode:              "dry_run",
		StartedAt:         time.Now().UTC(),
		DateToleranceDays: 3,
		AutoApplyMin:      3,
		ReviewMin:         1,
	}
	require.NoError(t, store.StartRun(ctx, run))

	require.NoError(t, store.CompleteRun(ctx, "run-1", RunSummary{
		Status:          RunStatusCompleted,
		AutoApplied:     4,
		NeedsReview:     2,
		TotalReconciled: "460.00",
	}))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, RunStatusCompleted, got.Status)
	assert.Equal(t, 4, got.AutoApplied)
	assert.Equal(t, "460.00", got.TotalReconciled)

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	missing, err := store.GetRun(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteStore_ReviewDisposition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	date := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveLedgerRecords(ctx, []*record.LedgerRecord{testLedger("L1", 115, date)}))
	_, err := store.StageExternalRecords(ctx, []*record.ExternalRecord{testExternal("E1", -115, date, "DEP")})
	require.NoError(t, err)

	require.NoError(t, store.SaveReviewMatches(ctx, []ReviewMatch{
		{RunID: "run-1", LedgerID: "L1", ExternalID: "E1", Confidence: 2, Signals: []string{"exact_amount"}},
	}))

	pending, err := store.ListPendingReview(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, []string{"exact_amount"}, pending[0].Signals)

	require.NoError(t, store.DisposeReview(ctx, "L1", "E1", true))

	ledger, err := store.FetchLedgerBatch(ctx, BatchFilter{})
	require.NoError(t, err)
	assert.Equal(t, "E1", ledger[0].ExternalLink)

	pending, err = store.ListPendingReview(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Disposing twice fails: the match is no longer pending
	assert.Error(t, store.DisposeReview(ctx, "L1", "E1", true))
}
