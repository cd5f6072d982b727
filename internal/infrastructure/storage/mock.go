package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/finledger/reconcile/internal/domain/record"
)

// MockRepository is an in-memory implementation of Repository for testing.
// It stores all data in maps, making tests fast and isolated.
type MockRepository struct {
	ledger   map[string]*record.LedgerRecord
	external map[string]*record.ExternalRecord
	hashes   map[string]bool
	runs     map[string]*RunRecord
	reviews  map[string]*ReviewMatch // keyed by ledger_id|external_id

	// Hooks for test assertions
	ApplyLinksCalled  bool
	AppliedLinks      []Link
	StageCalled       bool
	StartRunCalled    bool
	CompleteRunCalled bool

	// Error injection for testing error paths
	FetchLedgerErr   error
	FetchExternalErr error
	ApplyLinksErr    error
	StageErr         error

	// ConflictExternalIDs makes ApplyLinks fail with a LinkConflictError
	// the first time each listed external id is linked.
	ConflictExternalIDs map[string]string
}

// NewMockRepository creates a new mock repository for testing
func NewMockRepository() *MockRepository {
	return &MockRepository{
		ledger:   make(map[string]*record.LedgerRecord),
		external: make(map[string]*record.ExternalRecord),
		hashes:   make(map[string]bool),
		runs:     make(map[string]*RunRecord),
		reviews:  make(map[string]*ReviewMatch),
	}
}

// Compile-time check that MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)

// Close is a no-op for the mock.
func (m *MockRepository) Close() error { return nil }

// SeedLedger adds ledger records directly.
func (m *MockRepository) SeedLedger(recs ...*record.LedgerRecord) {
	for _, r := range recs {
		cp := *r
		m.ledger[r.ID] = &cp
	}
}

// SeedExternal adds external records directly.
func (m *MockRepository) SeedExternal(recs ...*record.ExternalRecord) {
	for _, r := range recs {
		cp := *r
		m.external[r.ID] = &cp
		m.hashes[cp.Hash()] = true
	}
}

// Ledger returns the stored ledger record with the given id.
func (m *MockRepository) Ledger(id string) *record.LedgerRecord { return m.ledger[id] }

// External returns the stored external record with the given id.
func (m *MockRepository) External(id string) *record.ExternalRecord { return m.external[id] }

func (m *MockRepository) FetchLedgerBatch(_ context.Context, f BatchFilter) ([]*record.LedgerRecord, error) {
	if m.FetchLedgerErr != nil {
		return nil, m.FetchLedgerErr
	}

	var out []*record.LedgerRecord
	for _, r := range m.ledger {
		if f.Source != "" && r.Source != f.Source {
			continue
		}
		if !f.From.IsZero() && r.OccurredAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && r.OccurredAt.After(f.To) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MockRepository) SaveLedgerRecords(_ context.Context, recs []*record.LedgerRecord) error {
	m.SeedLedger(recs...)
	return nil
}

func (m *MockRepository) ApplyLinks(_ context.Context, runID string, links []Link) error {
	m.ApplyLinksCalled = true
	if m.ApplyLinksErr != nil {
		return m.ApplyLinksErr
	}

	// All-or-nothing: validate every link before mutating anything.
	for _, l := range links {
		if consumedBy, ok := m.ConflictExternalIDs[l.ExternalID]; ok {
			delete(m.ConflictExternalIDs, l.ExternalID)
			return &LinkConflictError{ExternalID: l.ExternalID, ConsumedBy: consumedBy}
		}
		er, ok := m.external[l.ExternalID]
		if !ok {
			return fmt.Errorf("external record %s not found", l.ExternalID)
		}
		if er.ConsumedBy != "" && er.ConsumedBy != l.LedgerID {
			return &LinkConflictError{ExternalID: l.ExternalID, ConsumedBy: er.ConsumedBy}
		}
		if _, ok := m.ledger[l.LedgerID]; !ok {
			return fmt.Errorf("ledger record %s not found", l.LedgerID)
		}
	}

	for _, l := range links {
		m.ledger[l.LedgerID].ExternalLink = l.ExternalID
		m.external[l.ExternalID].ConsumedBy = l.LedgerID
	}
	m.AppliedLinks = append(m.AppliedLinks, links...)
	return nil
}

func (m *MockRepository) FetchExternalWindow(_ context.Context, w Window) ([]*record.ExternalRecord, error) {
	if m.FetchExternalErr != nil {
		return nil, m.FetchExternalErr
	}

	var out []*record.ExternalRecord
	for _, r := range m.external {
		if w.Source != "" && r.Source != w.Source {
			continue
		}
		if !w.From.IsZero() && r.PostedAt.Before(w.From) {
			continue
		}
		if !w.To.IsZero() && r.PostedAt.After(w.To) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockRepository) StageExternalRecords(_ context.Context, recs []*record.ExternalRecord) (*StageResult, error) {
	m.StageCalled = true
	if m.StageErr != nil {
		return nil, m.StageErr
	}

	result := &StageResult{}
	for _, r := range recs {
		hash := r.Hash()
		if m.hashes[hash] {
			result.SkippedDuplicate++
			continue
		}
		cp := *r
		m.external[r.ID] = &cp
		m.hashes[hash] = true
		result.Inserted++
	}
	return result, nil
}

func (m *MockRepository) MarkConsumed(_ context.Context, externalID, ledgerID string) error {
	er, ok := m.external[externalID]
	if !ok {
		return fmt.Errorf("external record %s not found", externalID)
	}
	if er.ConsumedBy != "" && er.ConsumedBy != ledgerID {
		return &LinkConflictError{ExternalID: externalID, ConsumedBy: er.ConsumedBy}
	}
	er.ConsumedBy = ledgerID
	return nil
}

func (m *MockRepository) StartRun(_ context.Context, run *RunRecord) error {
	m.StartRunCalled = true
	cp := *run
	cp.Status = RunStatusRunning
	m.runs[run.ID] = &cp
	return nil
}

func (m *MockRepository) CompleteRun(_ context.Context, runID string, summary RunSummary) error {
	m.CompleteRunCalled = true
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	run.CompletedAt = time.Now().UTC()
	run.Status = summary.Status
	run.AutoApplied = summary.AutoApplied
	run.NeedsReview = summary.NeedsReview
	run.UnmatchedLedger = summary.UnmatchedLedger
	run.SkippedDuplicate = summary.SkippedDuplicate
	run.TotalReconciled = summary.TotalReconciled
	return nil
}

func (m *MockRepository) ListRuns(_ context.Context, limit int) ([]RunRecord, error) {
	var out []RunRecord
	for _, run := range m.runs {
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockRepository) GetRun(_ context.Context, runID string) (*RunRecord, error) {
	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (m *MockRepository) SaveReviewMatches(_ context.Context, matches []ReviewMatch) error {
	for _, match := range matches {
		cp := match
		if cp.Status == "" {
			cp.Status = ReviewStatusPending
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now().UTC()
		}
		m.reviews[match.LedgerID+"|"+match.ExternalID] = &cp
	}
	return nil
}

func (m *MockRepository) ListPendingReview(_ context.Context, limit int) ([]ReviewMatch, error) {
	var out []ReviewMatch
	for _, match := range m.reviews {
		if match.Status == ReviewStatusPending {
			out = append(out, *match)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LedgerID < out[j].LedgerID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockRepository) DisposeReview(ctx context.Context, ledgerID, externalID string, accept bool) error {
	match, ok := m.reviews[ledgerID+"|"+externalID]
	if !ok || match.Status != ReviewStatusPending {
		return fmt.Errorf("no pending review match for %s/%s", ledgerID, externalID)
	}

	if accept {
		if err := m.ApplyLinks(ctx, match.RunID, []Link{{
			LedgerID:   match.LedgerID,
			ExternalID: match.ExternalID,
			Confidence: match.Confidence,
			Signals:    match.Signals,
		}}); err != nil {
			return err
		}
		match.Status = ReviewStatusAccepted
		return nil
	}
	match.Status = ReviewStatusRejected
	return nil
}
