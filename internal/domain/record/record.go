// Package record defines the typed ledger and external statement records the
// reconciliation engine operates on, plus the normalization rules that make
// records from different sources comparable.
package record

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the normalized money-movement direction of a record,
// independent of the source's sign convention.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionInflow
	DirectionOutflow
)

// String returns the lowercase name of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionInflow:
		return "inflow"
	case DirectionOutflow:
		return "outflow"
	default:
		return "unknown"
	}
}

// Compatible reports whether two directions can describe the same
// transaction. Unknown is compatible with everything; sources without a
// reliable sign convention should not block matching on direction alone.
func (d Direction) Compatible(other Direction) bool {
	if d == DirectionUnknown || other == DirectionUnknown {
		return true
	}
	return d == other
}

// LedgerRecord is one expected financial event from the internal system of
// record. The engine never creates or deletes ledger records; the only
// mutation it performs is setting ExternalLink when a match is applied.
type LedgerRecord struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Descriptor  string          `json:"descriptor"`
	ExternalLink string         `json:"external_link,omitempty"`
	MethodHint  string          `json:"method_hint,omitempty"`
	Source      string          `json:"source,omitempty"`
}

// Linked reports whether this record already carries an external link from a
// prior reconciliation run.
func (r *LedgerRecord) Linked() bool {
	return r.ExternalLink != ""
}

// Valid reports whether the record carries the fields matching depends on.
// A record that fails this check is excluded from candidate generation and
// reported as unmatched with reason invalid_record; it is a data-quality
// signal, not an error.
func (r *LedgerRecord) Valid() bool {
	return r.ID != "" && !r.OccurredAt.IsZero()
}

// ExternalRecord is one line item from an external statement or legacy
// export. It is read-only input to the engine; ConsumedBy is engine-local
// bookkeeping persisted only when a link is applied.
type ExternalRecord struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	PostedAt    time.Time       `json:"posted_at"`
	Description string          `json:"description"`
	ConsumedBy  string          `json:"consumed_by,omitempty"`
	Source      string          `json:"source,omitempty"`
}

// Consumed reports whether this record has been claimed by a ledger record.
func (r *ExternalRecord) Consumed() bool {
	return r.ConsumedBy != ""
}

// Valid reports whether the record carries the fields matching depends on.
func (r *ExternalRecord) Valid() bool {
	return r.ID != "" && !r.PostedAt.IsZero()
}
