package scorer

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finledger/reconcile/internal/domain/record"
)

func ledgerRec(amount float64, date time.Time, descriptor string) *record.LedgerRecord {
	return &record.LedgerRecord{
		ID:         "L1",
		Amount:     decimal.NewFromFloat(amount),
		OccurredAt: date,
		Descriptor: descriptor,
	}
}

func externalRec(amount float64, date time.Time, description string) *record.ExternalRecord {
	return &record.ExternalRecord{
		ID:          "E1",
		Amount:      decimal.NewFromFloat(amount),
		PostedAt:    date,
		Description: description,
	}
}

func TestScore_DepositExample(t *testing.T) {
	// Arrange: a card deposit and the matching statement line
	s := New(DefaultConfig())
	date := time.Date(2013, 1, 9, 0, 0, 0, 0, time.UTC)
	lr := ledgerRec(115.00, date, "MCARD DEP")
	er := externalRec(-115.00, date, "097384700019 00001 MCARD DEP CR CHASE")

	// Act
	c := s.Score(lr, er, 3)

	// Assert: exact amount (2) + same day (2) + descriptor similarity (1)
	assert.Equal(t, 5, c.Confidence)
	assert.Equal(t, []string{SignalExactAmount, SignalSameDay, SignalDescriptorSimilarity}, c.Signals)
	assert.Equal(t, 0, c.DateDeltaDays)
	assert.True(t, c.AmountDelta.IsZero())
}

func TestScore_AmountTiersAreMutuallyExclusive(t *testing.T) {
	s := New(DefaultConfig())
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	exact := s.Score(ledgerRec(100.00, date, ""), externalRec(-100.01, date, ""), 3)
	assert.Contains(t, exact.Signals, SignalExactAmount)
	assert.NotContains(t, exact.Signals, SignalCloseAmount)

	close := s.Score(ledgerRec(100.00, date, ""), externalRec(-100.02, date, ""), 3)
	assert.Contains(t, close.Signals, SignalCloseAmount)
	assert.NotContains(t, close.Signals, SignalExactAmount)
}

func TestScore_DateTiers(t *testing.T) {
	s := New(DefaultConfig())
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	lr := ledgerRec(50.00, date, "")

	tests := []struct {
		name       string
		daysAway   int
		wantSignal string
		wantWeight int
	}{
		{"same day", 0, SignalSameDay, 2},
		{"near day", 3, SignalNearDay, 1},
		{"within window only", 7, SignalWithinWindow, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			er := externalRec(-50.00, date.AddDate(0, 0, tt.daysAway), "")
			c := s.Score(lr, er, 10)

			assert.Contains(t, c.Signals, tt.wantSignal)
			// exact_amount(2) + date tier weight
			assert.Equal(t, 2+tt.wantWeight, c.Confidence)
		})
	}
}

func TestScore_DescriptorBelowThresholdDoesNotFire(t *testing.T) {
	s := New(DefaultConfig())
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	c := s.Score(
		ledgerRec(75.00, date, "JOHNSON PLUMBING"),
		externalRec(-75.00, date, "XK9Q INTL 0042"),
		3,
	)

	assert.NotContains(t, c.Signals, SignalDescriptorSimilarity)
	assert.Equal(t, 4, c.Confidence) // exact_amount + same_day only
}

func TestScore_BoilerplateStrippedBeforeSimilarity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BoilerplateTokens = []string{"point", "of", "sale", "purchase", "chase"}
	s := New(cfg)
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	c := s.Score(
		ledgerRec(30.00, date, "ACME CAFE"),
		externalRec(-30.00, date, "POINT OF SALE PURCHASE ACME CAFE CHASE"),
		3,
	)

	assert.Contains(t, c.Signals, SignalDescriptorSimilarity)
}

func TestScore_MethodHint(t *testing.T) {
	s := New(DefaultConfig())
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	lr := ledgerRec(60.00, date, "")
	lr.MethodHint = "card"

	fired := s.Score(lr, externalRec(-60.00, date, "VISA 4211 GROCERY"), 3)
	assert.Contains(t, fired.Signals, SignalMethodHintMatch)

	notFired := s.Score(lr, externalRec(-60.00, date, "CHECK 1042"), 3)
	assert.NotContains(t, notFired.Signals, SignalMethodHintMatch)

	// No hint at all never fires
	noHint := s.Score(ledgerRec(60.00, date, ""), externalRec(-60.00, date, "VISA 4211"), 3)
	assert.NotContains(t, noHint.Signals, SignalMethodHintMatch)
}

func TestScore_ConfidenceIsMonotonic(t *testing.T) {
	// Adding a fired signal never decreases confidence
	s := New(DefaultConfig())
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	base := s.Score(ledgerRec(80.00, date, ""), externalRec(-80.00, date.AddDate(0, 0, 2), "STMT 9"), 5)

	withDescriptor := s.Score(
		ledgerRec(80.00, date, "UTILITY CO"),
		externalRec(-80.00, date.AddDate(0, 0, 2), "UTILITY CO AUTOPAY"),
		5,
	)

	require.Greater(t, len(withDescriptor.Signals), len(base.Signals))
	assert.GreaterOrEqual(t, withDescriptor.Confidence, base.Confidence)
}

func TestScore_NegativeWeightsClamped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights.CloseAmount = -5
	s := New(cfg)
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	c := s.Score(ledgerRec(100.00, date, ""), externalRec(-100.02, date, ""), 3)

	assert.GreaterOrEqual(t, c.Confidence, 2) // same_day still counts in full
	assert.Contains(t, c.Signals, SignalCloseAmount)
}

func TestScore_SignalOrderIsStable(t *testing.T) {
	s := New(DefaultConfig())
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	lr := ledgerRec(115.00, date, "MCARD DEP")
	lr.MethodHint = "card"
	er := externalRec(-115.00, date, "MCARD DEP CR")

	first := s.Score(lr, er, 3)
	second := s.Score(lr, er, 3)

	assert.Equal(t, first.Signals, second.Signals)
	assert.Equal(t,
		[]string{SignalExactAmount, SignalSameDay, SignalDescriptorSimilarity, SignalMethodHintMatch},
		first.Signals,
	)
}
