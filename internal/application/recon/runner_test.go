package recon

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finledger/reconcile/internal/domain/record"
	"github.com/finledger/reconcile/internal/infrastructure/config"
	"github.com/finledger/reconcile/internal/infrastructure/storage"
)

var testDay = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func newTestRunner(repo storage.Repository) *Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(repo, config.Default().Matching, nil, logger)
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedCoffeePair(repo *storage.MockRepository) {
	repo.SeedLedger(&record.LedgerRecord{
		ID:         "L1",
		Amount:     amt("25.00"),
		OccurredAt: testDay,
		Descriptor: "Coffee Shop",
		MethodHint: "card",
	})
	repo.SeedExternal(&record.ExternalRecord{
		ID:          "E1",
		Amount:      amt("-25.00"),
		PostedAt:    testDay,
		Description: "POS DEBIT COFFEE SHOP 1234",
	})
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	repo := storage.NewMockRepository()
	seedCoffeePair(repo)
	runner := newTestRunner(repo)

	res, err := runner.Run(context.Background(), Options{Mode: ModeDryRun})

	require.NoError(t, err)
	require.Len(t, res.AutoApplied, 1)
	assert.Equal(t, "L1", res.AutoApplied[0].LedgerID)
	assert.Equal(t, "E1", res.AutoApplied[0].ExternalID)

	// exact_amount(2) + same_day(2) + descriptor_similarity(1) + method_hint_match(1)
	assert.Equal(t, 6, res.AutoApplied[0].Confidence)

	assert.False(t, repo.ApplyLinksCalled)
	assert.False(t, repo.StartRunCalled)
	assert.Empty(t, repo.Ledger("L1").ExternalLink)
	assert.Empty(t, repo.External("E1").ConsumedBy)
}

func TestRun_ApplyPersistsLinksAndRun(t *testing.T) {
	repo := storage.NewMockRepository()
	seedCoffeePair(repo)
	runner := newTestRunner(repo)

	res, err := runner.Run(context.Background(), Options{Mode: ModeApply})

	require.NoError(t, err)
	require.Len(t, res.AutoApplied, 1)
	assert.Equal(t, "E1", repo.Ledger("L1").ExternalLink)
	assert.Equal(t, "L1", repo.External("E1").ConsumedBy)
	assert.Equal(t, "25.00", res.TotalReconciled.StringFixed(2))

	runs, err := repo.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, storage.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, 1, runs[0].AutoApplied)
	assert.Equal(t, "25.00", runs[0].TotalReconciled)
}

func TestRun_DryRunThenApplyProduceSameOutcome(t *testing.T) {
	repo := storage.NewMockRepository()
	seedCoffeePair(repo)
	repo.SeedLedger(&record.LedgerRecord{
		ID:         "L2",
		Amount:     amt("120.00"),
		OccurredAt: testDay.AddDate(0, 0, 1),
		Descriptor: "Utilities",
	})
	repo.SeedExternal(&record.ExternalRecord{
		ID:          "E2",
		Amount:      amt("-120.00"),
		PostedAt:    testDay,
		Description: "CITY UTILITIES PAYMENT",
	})
	runner := newTestRunner(repo)

	dry, err := runner.Run(context.Background(), Options{Mode: ModeDryRun})
	require.NoError(t, err)
	applied, err := runner.Run(context.Background(), Options{Mode: ModeApply})
	require.NoError(t, err)

	assert.Equal(t, dry.AutoApplied, applied.AutoApplied)
	assert.Equal(t, dry.NeedsReview, applied.NeedsReview)
	assert.Equal(t, dry.Unmatched, applied.Unmatched)
	assert.Equal(t, dry.SkippedDuplicate, applied.SkippedDuplicate)
}

func TestRun_RerunSkipsLinkedRecords(t *testing.T) {
	repo := storage.NewMockRepository()
	seedCoffeePair(repo)
	runner := newTestRunner(repo)

	first, err := runner.Run(context.Background(), Options{Mode: ModeApply})
	require.NoError(t, err)
	require.Len(t, first.AutoApplied, 1)

	second, err := runner.Run(context.Background(), Options{Mode: ModeApply})
	require.NoError(t, err)

	assert.Empty(t, second.AutoApplied)
	require.Len(t, second.SkippedDuplicate, 1)
	assert.Equal(t, "L1", second.SkippedDuplicate[0].LedgerID)
	assert.Equal(t, "E1", second.SkippedDuplicate[0].ExternalID)

	// The link is unchanged, not reapplied.
	assert.Equal(t, "E1", repo.Ledger("L1").ExternalLink)
}

func TestRun_SplitPaymentStaysUnmatched(t *testing.T) {
	// A $500.00 invoice paid as $200.00 + $300.00 shares no candidate with
	// either external record; partial matching is out of scope.
	repo := storage.NewMockRepository()
	repo.SeedLedger(&record.LedgerRecord{
		ID:         "L1",
		Amount:     amt("500.00"),
		OccurredAt: testDay,
		Descriptor: "Invoice 1042",
	})
	repo.SeedExternal(&record.ExternalRecord{
		ID:          "E1",
		Amount:      amt("-200.00"),
		PostedAt:    testDay,
		Description: "INVOICE 1042 PART 1",
	})
	repo.SeedExternal(&record.ExternalRecord{
		ID:          "E2",
		Amount:      amt("-300.00"),
		PostedAt:    testDay,
		Description: "INVOICE 1042 PART 2",
	})
	runner := newTestRunner(repo)

	res, err := runner.Run(context.Background(), Options{Mode: ModeDryRun})

	require.NoError(t, err)
	assert.Empty(t, res.AutoApplied)
	require.Len(t, res.Unmatched, 1)
	assert.Equal(t, ReasonNoCandidate, res.Unmatched[0].Reason)
}

func TestRun_OneToOneConsumption(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.SeedLedger(
		&record.LedgerRecord{ID: "L1", Amount: amt("30.00"), OccurredAt: testDay, Descriptor: "Parking"},
		&record.LedgerRecord{ID: "L2", Amount: amt("30.00"), OccurredAt: testDay, Descriptor: "Parking"},
	)
	repo.SeedExternal(&record.ExternalRecord{
		ID:          "E1",
		Amount:      amt("-30.00"),
		PostedAt:    testDay,
		Description: "PARKING GARAGE",
	})
	runner := newTestRunner(repo)

	res, err := runner.Run(context.Background(), Options{Mode: ModeDryRun})

	require.NoError(t, err)
	require.Len(t, res.AutoApplied, 1)
	assert.Equal(t, "L1", res.AutoApplied[0].LedgerID) // ledger id tie-break
	require.Len(t, res.Unmatched, 1)
	assert.Equal(t, "L2", res.Unmatched[0].LedgerID)
	assert.Equal(t, ReasonCandidatesClaimed, res.Unmatched[0].Reason)
}

func TestRun_NeedsReviewPersisted(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.SeedLedger(&record.LedgerRecord{
		ID:         "L1",
		Amount:     amt("10.00"),
		OccurredAt: testDay,
		Descriptor: "Rent",
	})
	repo.SeedExternal(&record.ExternalRecord{
		ID:          "E1",
		Amount:      amt("-10.02"),
		PostedAt:    testDay.AddDate(0, 0, 5),
		Description: "ZZQQ TRANSACTION",
	})
	runner := newTestRunner(repo)

	// close_amount(1) + within_window(0) = 1: above review min, below auto.
	res, err := runner.Run(context.Background(), Options{Mode: ModeApply, DateToleranceDays: 7})

	require.NoError(t, err)
	assert.Empty(t, res.AutoApplied)
	require.Len(t, res.NeedsReview, 1)
	assert.Equal(t, 1, res.NeedsReview[0].Confidence)
	assert.Empty(t, repo.Ledger("L1").ExternalLink)

	pending, err := repo.ListPendingReview(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "L1", pending[0].LedgerID)
	assert.Equal(t, "E1", pending[0].ExternalID)
}

func TestRun_ConflictFallsBackToRunnerUp(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.SeedLedger(&record.LedgerRecord{
		ID:         "L1",
		Amount:     amt("50.00"),
		OccurredAt: testDay,
		Descriptor: "Gym Membership",
	})
	repo.SeedExternal(
		&record.ExternalRecord{ID: "E1", Amount: amt("-50.00"), PostedAt: testDay, Description: "GYM MEMBERSHIP"},
		&record.ExternalRecord{ID: "E2", Amount: amt("-50.00"), PostedAt: testDay.AddDate(0, 0, 1), Description: "GYM MEMBERSHIP"},
	)
	repo.ConflictExternalIDs = map[string]string{"E1": "other-process"}
	runner := newTestRunner(repo)

	res, err := runner.Run(context.Background(), Options{Mode: ModeApply})

	require.NoError(t, err)
	require.Len(t, res.AutoApplied, 1)
	assert.Equal(t, "E2", res.AutoApplied[0].ExternalID)
	assert.Equal(t, "E2", repo.Ledger("L1").ExternalLink)
	assert.Equal(t, "L1", repo.External("E2").ConsumedBy)
	assert.Empty(t, repo.External("E1").ConsumedBy)
}

func TestRun_ConflictWithoutFallbackReported(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.SeedLedger(&record.LedgerRecord{
		ID:         "L1",
		Amount:     amt("50.00"),
		OccurredAt: testDay,
		Descriptor: "Gym Membership",
	})
	repo.SeedExternal(&record.ExternalRecord{
		ID: "E1", Amount: amt("-50.00"), PostedAt: testDay, Description: "GYM MEMBERSHIP",
	})
	repo.ConflictExternalIDs = map[string]string{"E1": "other-process"}
	runner := newTestRunner(repo)

	res, err := runner.Run(context.Background(), Options{Mode: ModeApply})

	require.NoError(t, err)
	assert.Empty(t, res.AutoApplied)
	require.Len(t, res.Unmatched, 1)
	assert.Equal(t, ReasonLinkConflict, res.Unmatched[0].Reason)
	assert.Empty(t, repo.Ledger("L1").ExternalLink)
}

func TestRun_InvalidRecordReported(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.SeedLedger(&record.LedgerRecord{
		ID:         "L1",
		Amount:     amt("15.00"),
		Descriptor: "Missing date",
	})
	runner := newTestRunner(repo)

	res, err := runner.Run(context.Background(), Options{Mode: ModeDryRun})

	require.NoError(t, err)
	require.Len(t, res.Unmatched, 1)
	assert.Equal(t, ReasonInvalidRecord, res.Unmatched[0].Reason)
}

func TestRun_CancellationDiscardsApply(t *testing.T) {
	repo := storage.NewMockRepository()
	seedCoffeePair(repo)
	runner := newTestRunner(repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, Options{Mode: ModeApply})

	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, repo.ApplyLinksCalled)
	assert.Empty(t, repo.Ledger("L1").ExternalLink)

	runs, lerr := repo.ListRuns(context.Background(), 0)
	require.NoError(t, lerr)
	require.Len(t, runs, 1)
	assert.Equal(t, storage.RunStatusCancelled, runs[0].Status)
}

func TestRun_FetchFailureMarksRunFailed(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.FetchLedgerErr = assert.AnError
	runner := newTestRunner(repo)

	_, err := runner.Run(context.Background(), Options{Mode: ModeApply})

	require.Error(t, err)
	var ioErr *RepositoryIOError
	require.ErrorAs(t, err, &ioErr)
	assert.ErrorIs(t, err, assert.AnError)

	runs, lerr := repo.ListRuns(context.Background(), 0)
	require.NoError(t, lerr)
	require.Len(t, runs, 1)
	assert.Equal(t, storage.RunStatusFailed, runs[0].Status)
}

func TestRun_AmbiguousMatchesFlagged(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.SeedLedger(&record.LedgerRecord{
		ID:         "L1",
		Amount:     amt("75.00"),
		OccurredAt: testDay,
		Descriptor: "Grocery Store",
	})
	repo.SeedExternal(
		&record.ExternalRecord{ID: "E1", Amount: amt("-75.00"), PostedAt: testDay, Description: "GROCERY STORE"},
		&record.ExternalRecord{ID: "E2", Amount: amt("-75.00"), PostedAt: testDay.AddDate(0, 0, 1), Description: "GROCERY STORE"},
	)
	runner := newTestRunner(repo)

	res, err := runner.Run(context.Background(), Options{Mode: ModeDryRun})

	require.NoError(t, err)
	require.Len(t, res.Ambiguous, 1)
	assert.Equal(t, "L1", res.Ambiguous[0].LedgerID)
	assert.Equal(t, "E1", res.Ambiguous[0].Best.ExternalID)
	assert.Equal(t, "E2", res.Ambiguous[0].RunnerUp.ExternalID)
	assert.Equal(t, 1, res.Ambiguous[0].Delta)
}

func TestRender_ContainsBucketsAndReasons(t *testing.T) {
	repo := storage.NewMockRepository()
	seedCoffeePair(repo)
	repo.SeedLedger(&record.LedgerRecord{
		ID:         "L2",
		Amount:     amt("999.00"),
		OccurredAt: testDay,
		Descriptor: "No counterpart",
	})
	runner := newTestRunner(repo)

	res, err := runner.Run(context.Background(), Options{Mode: ModeDryRun})
	require.NoError(t, err)

	out := Render(res)
	assert.Contains(t, out, "auto_applied:      1")
	assert.Contains(t, out, "L1 -> E1")
	assert.Contains(t, out, "L2: no_candidate_in_tolerance")
	assert.Contains(t, out, "total_reconciled:  25.00")
}
