package candidate

import (
	"github.com/shopspring/decimal"

	"github.com/finledger/reconcile/internal/domain/record"
)

// Params bounds a single candidate-generation pass. Date tolerance is a
// per-pass parameter because settlement latency varies by payment rail:
// card settlement floats a few days, while legacy amount-only matches may
// need a window of months.
type Params struct {
	// DateToleranceDays is the maximum calendar-day distance between
	// occurred_at and posted_at.
	DateToleranceDays int

	// AmountTolerance overrides the derived per-pair tolerance when
	// positive. Zero means derive it from the amounts (the smaller of
	// $0.02 or 0.5% of the larger amount).
	AmountTolerance decimal.Decimal

	// LedgerRule is the sign convention of the ledger source.
	LedgerRule record.DirectionRule
}

// Generate returns the external records that could plausibly correspond to
// the given ledger record: same cent-tolerance amount bucket, compatible
// direction, and within the date window. An empty result is a normal,
// frequent outcome, not an error.
func Generate(lr *record.LedgerRecord, idx *Index, p Params) []*record.ExternalRecord {
	if !lr.Valid() {
		return nil
	}

	ledgerAbs, ledgerDir := record.NormalizeAmount(lr.Amount, p.LedgerRule)

	// Bucket spread uses the widest tolerance any pair in range could
	// carry; the exact per-pair tolerance is checked inside the loop. The
	// spread cannot be derived from the ledger amount alone: the pair
	// tolerance grows with the larger amount, so a larger external record
	// can sit in a bucket a ledger-sized spread would never reach.
	maxTol := p.AmountTolerance
	if !maxTol.IsPositive() {
		maxTol = record.ToleranceCap()
	}

	center := centBucket(ledgerAbs)
	spread := centBucket(maxTol)
	bucketed := idx.lookupRange(center-spread, center+spread)
	if len(bucketed) == 0 {
		return nil
	}

	var out []*record.ExternalRecord
	for _, er := range bucketed {
		extAbs, extDir := record.NormalizeAmount(er.Amount, idx.rule)

		if !ledgerDir.Compatible(extDir) {
			continue
		}

		tol := p.AmountTolerance
		if !tol.IsPositive() {
			tol = record.AmountTolerance(ledgerAbs, extAbs)
		}
		if !record.WithinTolerance(ledgerAbs, extAbs, tol) {
			continue
		}
		if record.DateDeltaDays(lr.OccurredAt, er.PostedAt) > p.DateToleranceDays {
			continue
		}

		out = append(out, er)
	}

	return out
}
