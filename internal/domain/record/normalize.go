package record

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DirectionRule names a source-specific sign convention. The exact mapping
// per source is configuration, not something the engine guesses (different
// exports use debit columns, credit columns, or signed literals).
type DirectionRule string

const (
	// NegativeIsOutflow treats negative amounts as money leaving the
	// account. This is the common convention for card and bank feeds.
	NegativeIsOutflow DirectionRule = "negative_is_outflow"

	// NegativeIsInflow inverts the convention, for exports that list
	// debits as positive line items.
	NegativeIsInflow DirectionRule = "negative_is_inflow"

	// AlwaysOutflow marks every record as an outflow regardless of sign,
	// for sources that only ever carry charges.
	AlwaysOutflow DirectionRule = "always_outflow"

	// AlwaysInflow marks every record as an inflow regardless of sign.
	AlwaysInflow DirectionRule = "always_inflow"
)

var (
	defaultToleranceCents = decimal.NewFromFloat(0.02)
	tolerancePercent      = decimal.NewFromFloat(0.005)
	centQuantum           = int32(2)
)

// NormalizeAmount reduces a signed source amount to an absolute magnitude
// plus a Direction derived from the source's sign rule.
func NormalizeAmount(amount decimal.Decimal, rule DirectionRule) (decimal.Decimal, Direction) {
	abs := amount.Abs()

	switch rule {
	case AlwaysOutflow:
		return abs, DirectionOutflow
	case AlwaysInflow:
		return abs, DirectionInflow
	case NegativeIsInflow:
		if amount.IsNegative() {
			return abs, DirectionInflow
		}
		return abs, DirectionOutflow
	case NegativeIsOutflow:
		if amount.IsNegative() {
			return abs, DirectionOutflow
		}
		return abs, DirectionInflow
	default:
		return abs, DirectionUnknown
	}
}

// AmountTolerance returns the allowed absolute difference for a pair of
// amounts: the smaller of $0.02 or 0.5% of the larger amount. The percentage
// term absorbs rounding and fee-shaving on large amounts without loosening
// small ones.
func AmountTolerance(a, b decimal.Decimal) decimal.Decimal {
	larger := a.Abs()
	if b.Abs().GreaterThan(larger) {
		larger = b.Abs()
	}

	pct := larger.Mul(tolerancePercent).Round(centQuantum)
	if pct.LessThan(defaultToleranceCents) {
		return pct
	}
	return defaultToleranceCents
}

// WithinTolerance reports whether two absolute amounts differ by at most the
// given tolerance. The boundary is inclusive.
func WithinTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

// ToleranceCap returns the largest tolerance AmountTolerance can produce for
// any pair of amounts. Range lookups must size themselves with this, not with
// a tolerance derived from one side alone: the pair's tolerance depends on
// the larger amount, which may be the one still being searched for.
func ToleranceCap() decimal.Decimal {
	return defaultToleranceCents
}

// NormalizeDate reduces a timestamp to a timezone-naive calendar date.
// Time-of-day is never trusted for matching.
func NormalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DateDeltaDays returns the absolute number of calendar days between two
// dates.
func DateDeltaDays(a, b time.Time) int {
	da := NormalizeDate(a)
	db := NormalizeDate(b)
	delta := int(da.Sub(db).Hours() / 24)
	if delta < 0 {
		delta = -delta
	}
	return delta
}

// NormalizeDescriptor lowercases a free-text descriptor, strips
// non-alphanumeric characters, collapses whitespace, and removes known
// boilerplate tokens so similarity scoring sees only the distinguishing text.
// Boilerplate entries go through the same folding, so a configured phrase
// like "POINT OF SALE PURCHASE" strips each of its words.
func NormalizeDescriptor(s string, boilerplate []string) string {
	skip := make(map[string]bool, len(boilerplate))
	for _, entry := range boilerplate {
		for _, tok := range strings.Fields(foldAlnum(entry)) {
			skip[tok] = true
		}
	}

	tokens := strings.Fields(foldAlnum(s))
	kept := tokens[:0]
	for _, tok := range tokens {
		if !skip[tok] {
			kept = append(kept, tok)
		}
	}

	return strings.Join(kept, " ")
}

// foldAlnum lowercases s and replaces every non-alphanumeric rune with a
// space.
func foldAlnum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return b.String()
}

// Tokens splits an already-normalized descriptor into its tokens.
func Tokens(normalized string) []string {
	return strings.Fields(normalized)
}
