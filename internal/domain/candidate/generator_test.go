package candidate

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finledger/reconcile/internal/domain/record"
)

func makeExternal(id string, amount float64, date time.Time) *record.ExternalRecord {
	return &record.ExternalRecord{
		ID:       id,
		Amount:   decimal.NewFromFloat(amount),
		PostedAt: date,
		Source:   "bank",
	}
}

func makeLedger(id string, amount float64, date time.Time) *record.LedgerRecord {
	return &record.LedgerRecord{
		ID:         id,
		Amount:     decimal.NewFromFloat(amount),
		OccurredAt: date,
	}
}

var day = time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)

func defaultParams() Params {
	return Params{
		DateToleranceDays: 3,
		LedgerRule:        record.AlwaysOutflow,
	}
}

func TestGenerate_ExactAmountSameDay(t *testing.T) {
	idx := NewIndex([]*record.ExternalRecord{
		makeExternal("E1", -115.00, day),
		makeExternal("E2", -250.00, day),
	}, record.NegativeIsOutflow)

	got := Generate(makeLedger("L1", 115.00, day), idx, defaultParams())

	require.Len(t, got, 1)
	assert.Equal(t, "E1", got[0].ID)
}

func TestGenerate_DateWindowFilter(t *testing.T) {
	idx := NewIndex([]*record.ExternalRecord{
		makeExternal("E1", -100.00, day.AddDate(0, 0, 3)),
		makeExternal("E2", -100.00, day.AddDate(0, 0, 4)),
	}, record.NegativeIsOutflow)

	got := Generate(makeLedger("L1", 100.00, day), idx, defaultParams())

	require.Len(t, got, 1)
	assert.Equal(t, "E1", got[0].ID)
}

func TestGenerate_WideWindowForLegacyPasses(t *testing.T) {
	// Legacy amount-only matches can need a window of months
	idx := NewIndex([]*record.ExternalRecord{
		makeExternal("E1", -100.00, day.AddDate(0, 0, 60)),
	}, record.NegativeIsOutflow)

	p := defaultParams()
	p.DateToleranceDays = 90
	got := Generate(makeLedger("L1", 100.00, day), idx, p)

	assert.Len(t, got, 1)
}

func TestGenerate_AmountToleranceBoundary(t *testing.T) {
	idx := NewIndex([]*record.ExternalRecord{
		makeExternal("AT", -100.02, day), // exactly at tolerance
		makeExternal("BEYOND", -100.03, day), // one cent beyond
	}, record.NegativeIsOutflow)

	got := Generate(makeLedger("L1", 100.00, day), idx, defaultParams())

	require.Len(t, got, 1)
	assert.Equal(t, "AT", got[0].ID)
}

func TestGenerate_ToleranceBoundaryLargerExternal(t *testing.T) {
	// The pair tolerance follows the larger amount, here the external
	// side: 2.99 vs 3.01 differ by exactly the $0.02 tolerance and must
	// come back even though the two amounts land in cent buckets further
	// apart than a spread sized from the ledger amount alone would reach.
	idx := NewIndex([]*record.ExternalRecord{
		makeExternal("AT", -3.01, day),
		makeExternal("BEYOND", -3.02, day),
	}, record.NegativeIsOutflow)

	got := Generate(makeLedger("L1", 2.99, day), idx, defaultParams())

	require.Len(t, got, 1)
	assert.Equal(t, "AT", got[0].ID)
}

func TestGenerate_SplitPaymentOutsideTolerance(t *testing.T) {
	// A partial payment is not a candidate for the full amount
	idx := NewIndex([]*record.ExternalRecord{
		makeExternal("E2", -200.00, day.AddDate(0, 0, 7)),
	}, record.NegativeIsOutflow)

	p := defaultParams()
	p.DateToleranceDays = 30
	got := Generate(makeLedger("L2", 500.00, day), idx, p)

	assert.Empty(t, got)
}

func TestGenerate_DirectionMismatchExcluded(t *testing.T) {
	// A bank credit cannot match a ledger charge
	idx := NewIndex([]*record.ExternalRecord{
		makeExternal("CREDIT", 115.00, day),
	}, record.NegativeIsOutflow)

	got := Generate(makeLedger("L1", 115.00, day), idx, defaultParams())

	assert.Empty(t, got)
}

func TestGenerate_EmptyBucketIsNormal(t *testing.T) {
	idx := NewIndex(nil, record.NegativeIsOutflow)

	got := Generate(makeLedger("L1", 42.00, day), idx, defaultParams())

	assert.Empty(t, got)
}

func TestGenerate_InvalidLedgerRecordExcluded(t *testing.T) {
	idx := NewIndex([]*record.ExternalRecord{
		makeExternal("E1", -10.00, day),
	}, record.NegativeIsOutflow)

	invalid := &record.LedgerRecord{ID: "L1", Amount: decimal.NewFromFloat(10.00)}
	assert.Empty(t, Generate(invalid, idx, defaultParams()))
}

func TestNewIndex_SkipsConsumedAndInvalid(t *testing.T) {
	consumed := makeExternal("E1", -10.00, day)
	consumed.ConsumedBy = "L9"
	invalid := &record.ExternalRecord{ID: "E2", Amount: decimal.NewFromFloat(-10.00)}

	idx := NewIndex([]*record.ExternalRecord{consumed, invalid, makeExternal("E3", -10.00, day)}, record.NegativeIsOutflow)

	assert.Equal(t, 1, idx.Size())
}

func TestGenerate_BucketLookupScales(t *testing.T) {
	// Many near-miss amounts; only the in-tolerance ones come back
	var records []*record.ExternalRecord
	for i := 0; i < 500; i++ {
		records = append(records, makeExternal(fmt.Sprintf("E%d", i), -100.00-float64(i), day))
	}
	idx := NewIndex(records, record.NegativeIsOutflow)

	got := Generate(makeLedger("L1", 100.00, day), idx, defaultParams())

	require.Len(t, got, 1)
	assert.Equal(t, "E0", got[0].ID)
}
