// Package candidate bounds the search space of a reconciliation run: for
// each ledger record it produces the set of external records that could
// plausibly correspond to it, using an amount-bucket index plus a date
// window.
package candidate

import (
	"github.com/shopspring/decimal"

	"github.com/finledger/reconcile/internal/domain/record"
)

var centFactor = decimal.NewFromInt(100)

// Index holds external records bucketed by absolute amount in cents for O(1)
// bucket lookup. Records that fail validation or are already consumed never
// enter the index.
type Index struct {
	buckets map[int64][]*record.ExternalRecord
	rule    record.DirectionRule
	size    int
}

// NewIndex builds an amount-bucket index over the given external records.
// The direction rule is the sign convention of the external source.
func NewIndex(records []*record.ExternalRecord, rule record.DirectionRule) *Index {
	idx := &Index{
		buckets: make(map[int64][]*record.ExternalRecord, len(records)),
		rule:    rule,
	}

	for _, r := range records {
		if !r.Valid() || r.Consumed() {
			continue
		}
		key := centBucket(r.Amount)
		idx.buckets[key] = append(idx.buckets[key], r)
		idx.size++
	}

	return idx
}

// Size returns the number of indexed records.
func (idx *Index) Size() int {
	return idx.size
}

// Rule returns the direction rule the index was built with.
func (idx *Index) Rule() record.DirectionRule {
	return idx.rule
}

// lookupRange returns all records whose absolute amount in cents falls in
// [lo, hi], in bucket order.
func (idx *Index) lookupRange(lo, hi int64) []*record.ExternalRecord {
	if lo < 0 {
		lo = 0
	}

	var out []*record.ExternalRecord
	for key := lo; key <= hi; key++ {
		out = append(out, idx.buckets[key]...)
	}
	return out
}

// centBucket maps an amount to its bucket key: the absolute value rounded to
// whole cents.
func centBucket(amount decimal.Decimal) int64 {
	return amount.Abs().Mul(centFactor).Round(0).IntPart()
}
