package recon

import "fmt"

// Unmatched reasons. The report never stays silent about a ledger record:
// each one either matched (with its fired signals) or carries one of these.
const (
	ReasonInvalidRecord     = "invalid_record"
	ReasonNoCandidate       = "no_candidate_in_tolerance"
	ReasonBelowReviewMin    = "below_review_min"
	ReasonCandidatesClaimed = "candidates_claimed"
	ReasonLinkConflict      = "link_conflict"
)

// InvalidRecordError reports a record with an unparseable amount or date.
// It is recovered locally: the record is excluded from matching and surfaced
// in the report, and the run continues.
type InvalidRecordError struct {
	RecordID string
	Field    string
	Reason   string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid record %s: %s %s", e.RecordID, e.Field, e.Reason)
}

// RepositoryIOError reports a read or write failure against the ledger or
// external store. It is surfaced to the caller; in apply mode the store's
// transactional ApplyLinks guarantees no partially applied links remain.
type RepositoryIOError struct {
	Op  string
	Err error
}

func (e *RepositoryIOError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryIOError) Unwrap() error {
	return e.Err
}
