// Package recon orchestrates reconciliation runs: it pulls a ledger batch
// and an external window from storage, drives candidate generation, scoring,
// selection and classification, and either reports the outcome (dry run) or
// persists it (apply).
package recon

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finledger/reconcile/internal/domain/candidate"
	"github.com/finledger/reconcile/internal/domain/classifier"
	"github.com/finledger/reconcile/internal/domain/record"
	"github.com/finledger/reconcile/internal/domain/scorer"
	"github.com/finledger/reconcile/internal/domain/selector"
	"github.com/finledger/reconcile/internal/events"
	"github.com/finledger/reconcile/internal/infrastructure/config"
	"github.com/finledger/reconcile/internal/infrastructure/storage"
)

// ambiguityDelta is the maximum confidence gap between the best and
// runner-up candidates for a match to be flagged as ambiguous in the report.
const ambiguityDelta = 1

// Options parameterizes one run. Zero values fall back to the matching
// configuration.
type Options struct {
	Mode Mode

	// LedgerFilter scopes the ledger batch; ExternalWindow scopes the
	// external records considered as candidates.
	LedgerFilter   storage.BatchFilter
	ExternalWindow storage.Window

	// DateToleranceDays overrides the configured date window when
	// positive. Legacy amount-only backfills widen this to months.
	DateToleranceDays int

	// AmountTolerance overrides the derived per-pair tolerance when
	// positive.
	AmountTolerance decimal.Decimal

	// AutoApplyMin and ReviewMin override the configured classification
	// thresholds when positive.
	AutoApplyMin int
	ReviewMin    int
}

// Runner executes reconciliation runs against a repository.
type Runner struct {
	repo      storage.Repository
	matching  config.MatchingConfig
	publisher events.Publisher
	logger    *slog.Logger
}

// NewRunner creates a runner. A nil publisher disables event emission.
func NewRunner(repo storage.Repository, matching config.MatchingConfig, publisher events.Publisher, logger *slog.Logger) *Runner {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Runner{
		repo:      repo,
		matching:  matching,
		publisher: publisher,
		logger:    logger,
	}
}

// Run executes one reconciliation run. The outcome is identical for both
// modes; only persistence differs. In apply mode either the full auto-apply
// batch commits or none of it does, and cancellation before the apply step
// discards it entirely.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	started := time.Now().UTC()
	runID := uuid.NewString()

	if opts.Mode == "" {
		opts.Mode = ModeDryRun
	}
	apply := opts.Mode == ModeApply

	tolDays := opts.DateToleranceDays
	if tolDays <= 0 {
		tolDays = r.matching.DateToleranceDays
	}
	thresholds := r.matching.Thresholds()
	if opts.AutoApplyMin > 0 {
		thresholds.AutoApplyMin = opts.AutoApplyMin
	}
	if opts.ReviewMin > 0 {
		thresholds.ReviewMin = opts.ReviewMin
	}

	log := r.logger.With("run_id", runID, "mode", string(opts.Mode))
	log.Info("starting reconciliation run",
		"date_tolerance_days", tolDays,
		"auto_apply_min", thresholds.AutoApplyMin,
		"review_min", thresholds.ReviewMin)

	if apply {
		run := &storage.RunRecord{
			ID:                runID,
			Mode:              string(opts.Mode),
			StartedAt:         started,
			DateToleranceDays: tolDays,
			AutoApplyMin:      thresholds.AutoApplyMin,
			ReviewMin:         thresholds.ReviewMin,
			Status:            storage.RunStatusRunning,
		}
		if err := r.repo.StartRun(ctx, run); err != nil {
			return nil, &RepositoryIOError{Op: "start run", Err: err}
		}
	}

	ledger, err := r.repo.FetchLedgerBatch(ctx, opts.LedgerFilter)
	if err != nil {
		return nil, r.fail(ctx, apply, runID, "fetch ledger batch", err)
	}
	externals, err := r.repo.FetchExternalWindow(ctx, opts.ExternalWindow)
	if err != nil {
		return nil, r.fail(ctx, apply, runID, "fetch external window", err)
	}

	log.Info("loaded batch", "ledger_records", len(ledger), "external_records", len(externals))

	// Idempotency guard and validation. Already-linked records are skipped
	// here, not filtered by the store, so re-runs report them explicitly.
	var eligible []*record.LedgerRecord
	var skipped []Skipped
	var invalid []Unmatched
	for _, lr := range ledger {
		switch {
		case lr.Linked():
			skipped = append(skipped, Skipped{LedgerID: lr.ID, ExternalID: lr.ExternalLink})
		case !lr.Valid():
			invalid = append(invalid, Unmatched{LedgerID: lr.ID, Reason: ReasonInvalidRecord})
		default:
			eligible = append(eligible, lr)
		}
	}

	ledgerRule := r.matching.DirectionRule(opts.LedgerFilter.Source, record.DirectionRule(r.matching.LedgerRule))
	externalRule := r.matching.DirectionRule(opts.ExternalWindow.Source, record.DirectionRule(r.matching.ExternalRule))

	scorerCfg := r.matching.ScorerConfig()
	scorerCfg.LedgerRule = ledgerRule
	scorerCfg.ExternalRule = externalRule
	sc := scorer.New(scorerCfg)

	idx := candidate.NewIndex(externals, externalRule)
	params := candidate.Params{
		DateToleranceDays: tolDays,
		AmountTolerance:   opts.AmountTolerance,
		LedgerRule:        ledgerRule,
	}

	perLedger, err := r.scoreAll(ctx, eligible, idx, sc, params)
	if err != nil {
		return nil, r.cancel(ctx, apply, runID, err)
	}

	excluded := make(map[string]bool)
	conflictLosers := make(map[string]bool)
	asm := assemble(perLedger, thresholds, excluded)

	if apply {
		for {
			if err := ctx.Err(); err != nil {
				return nil, r.cancel(ctx, apply, runID, err)
			}

			links := autoApplyLinks(asm)
			if len(links) == 0 {
				break
			}

			err := r.repo.ApplyLinks(ctx, runID, links)
			if err == nil {
				break
			}

			var conflict *storage.LinkConflictError
			if errors.As(err, &conflict) && !excluded[conflict.ExternalID] {
				// Someone else consumed this external since we loaded
				// the window. Exclude it and re-select; the affected
				// ledger record falls back to its next-best candidate.
				log.Warn("link conflict, reselecting",
					"external_id", conflict.ExternalID,
					"consumed_by", conflict.ConsumedBy)

				excluded[conflict.ExternalID] = true
				if c, ok := asm.byExternal[conflict.ExternalID]; ok {
					conflictLosers[c.Ledger.ID] = true
				}
				asm = assemble(perLedger, thresholds, excluded)
				continue
			}

			return nil, r.fail(ctx, apply, runID, "apply links", err)
		}
	}

	res := r.buildResult(runID, opts.Mode, started, eligible, perLedger, asm, conflictLosers, ledgerRule)
	res.Unmatched = append(res.Unmatched, invalid...)
	res.SkippedDuplicate = skipped
	sortResult(res)

	if apply {
		if err := r.persistOutcome(ctx, runID, res); err != nil {
			return nil, r.fail(ctx, apply, runID, "persist outcome", err)
		}
		r.publish(ctx, res)
	}

	res.Finished = time.Now().UTC()
	log.Info("run finished",
		"auto_applied", len(res.AutoApplied),
		"needs_review", len(res.NeedsReview),
		"unmatched", len(res.Unmatched),
		"skipped_duplicate", len(res.SkippedDuplicate),
		"total_reconciled", res.TotalReconciled.StringFixed(2))

	return res, nil
}

// scoreAll fans candidate generation and scoring out over a bounded worker
// pool. Results are collected by slot so the output order never depends on
// goroutine scheduling. Selection stays single-threaded in the caller.
func (r *Runner) scoreAll(ctx context.Context, eligible []*record.LedgerRecord, idx *candidate.Index, sc *scorer.Scorer, params candidate.Params) ([][]*scorer.Candidate, error) {
	results := make([][]*scorer.Candidate, len(eligible))

	workers := r.matching.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(eligible) {
		workers = len(eligible)
	}
	if workers == 0 {
		return results, ctx.Err()
	}

	type job struct {
		slot int
		lr   *record.LedgerRecord
	}

	jobs := make(chan job)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					continue
				}
				externals := candidate.Generate(j.lr, idx, params)
				cands := make([]*scorer.Candidate, 0, len(externals))
				for _, er := range externals {
					cands = append(cands, sc.Score(j.lr, er, params.DateToleranceDays))
				}
				results[j.slot] = cands
			}
		}()
	}

	for i, lr := range eligible {
		jobs <- job{slot: i, lr: lr}
	}
	close(jobs)
	wg.Wait()

	return results, ctx.Err()
}

// assembly is one selection-and-classification pass over the scored
// candidates.
type assembly struct {
	chosen     map[string]*scorer.Candidate // by ledger id
	byExternal map[string]*scorer.Candidate // by external id
	outcomes   map[string]classifier.Outcome
}

func assemble(perLedger [][]*scorer.Candidate, thresholds classifier.Thresholds, excluded map[string]bool) *assembly {
	var all []*scorer.Candidate
	for _, cands := range perLedger {
		all = append(all, cands...)
	}

	asm := &assembly{
		chosen:     make(map[string]*scorer.Candidate),
		byExternal: make(map[string]*scorer.Candidate),
		outcomes:   make(map[string]classifier.Outcome),
	}
	for _, c := range selector.SelectExcluding(all, excluded) {
		asm.chosen[c.Ledger.ID] = c
		asm.byExternal[c.External.ID] = c
		asm.outcomes[c.Ledger.ID] = classifier.Classify(c, thresholds)
	}
	return asm
}

// autoApplyLinks extracts the links to persist from an assembly, in
// deterministic ledger-id order.
func autoApplyLinks(asm *assembly) []storage.Link {
	ids := make([]string, 0, len(asm.chosen))
	for id, outcome := range asm.outcomes {
		if outcome == classifier.OutcomeAutoApply {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	links := make([]storage.Link, 0, len(ids))
	for _, id := range ids {
		c := asm.chosen[id]
		links = append(links, storage.Link{
			LedgerID:   c.Ledger.ID,
			ExternalID: c.External.ID,
			Confidence: c.Confidence,
			Signals:    c.Signals,
		})
	}
	return links
}

// buildResult buckets every eligible ledger record into exactly one outcome.
func (r *Runner) buildResult(runID string, mode Mode, started time.Time, eligible []*record.LedgerRecord, perLedger [][]*scorer.Candidate, asm *assembly, conflictLosers map[string]bool, ledgerRule record.DirectionRule) *Result {
	res := &Result{
		RunID:           runID,
		Mode:            mode,
		Started:         started,
		TotalReconciled: decimal.Zero,
	}

	for i, lr := range eligible {
		c, ok := asm.chosen[lr.ID]
		if !ok {
			reason := ReasonCandidatesClaimed
			switch {
			case len(perLedger[i]) == 0:
				reason = ReasonNoCandidate
			case conflictLosers[lr.ID]:
				reason = ReasonLinkConflict
			}
			res.Unmatched = append(res.Unmatched, Unmatched{LedgerID: lr.ID, Reason: reason})
			continue
		}

		m := toMatch(c, ledgerRule)
		switch asm.outcomes[lr.ID] {
		case classifier.OutcomeAutoApply:
			res.AutoApplied = append(res.AutoApplied, m)
			res.TotalReconciled = res.TotalReconciled.Add(m.Amount)
		case classifier.OutcomeNeedsReview:
			res.NeedsReview = append(res.NeedsReview, m)
		default:
			res.Unmatched = append(res.Unmatched, Unmatched{LedgerID: lr.ID, Reason: ReasonBelowReviewMin})
			continue
		}

		if best, runnerUp := selector.TopTwo(perLedger[i]); runnerUp != nil &&
			best.Confidence-runnerUp.Confidence <= ambiguityDelta {
			res.Ambiguous = append(res.Ambiguous, Ambiguity{
				LedgerID: lr.ID,
				Best:     toMatch(best, ledgerRule),
				RunnerUp: toMatch(runnerUp, ledgerRule),
				Delta:    best.Confidence - runnerUp.Confidence,
			})
		}
	}

	return res
}

func toMatch(c *scorer.Candidate, ledgerRule record.DirectionRule) Match {
	abs, _ := record.NormalizeAmount(c.Ledger.Amount, ledgerRule)
	return Match{
		LedgerID:      c.Ledger.ID,
		ExternalID:    c.External.ID,
		Confidence:    c.Confidence,
		Signals:       c.Signals,
		DateDeltaDays: c.DateDeltaDays,
		AmountDelta:   c.AmountDelta,
		Amount:        abs,
	}
}

// sortResult orders every bucket by ledger id so the rendered report is
// byte-stable across runs.
func sortResult(res *Result) {
	sort.Slice(res.AutoApplied, func(i, j int) bool { return res.AutoApplied[i].LedgerID < res.AutoApplied[j].LedgerID })
	sort.Slice(res.NeedsReview, func(i, j int) bool { return res.NeedsReview[i].LedgerID < res.NeedsReview[j].LedgerID })
	sort.Slice(res.Unmatched, func(i, j int) bool { return res.Unmatched[i].LedgerID < res.Unmatched[j].LedgerID })
	sort.Slice(res.SkippedDuplicate, func(i, j int) bool { return res.SkippedDuplicate[i].LedgerID < res.SkippedDuplicate[j].LedgerID })
	sort.Slice(res.Ambiguous, func(i, j int) bool { return res.Ambiguous[i].LedgerID < res.Ambiguous[j].LedgerID })
}

// persistOutcome writes review matches and the completed run record.
func (r *Runner) persistOutcome(ctx context.Context, runID string, res *Result) error {
	if len(res.NeedsReview) > 0 {
		now := time.Now().UTC()
		matches := make([]storage.ReviewMatch, 0, len(res.NeedsReview))
		for _, m := range res.NeedsReview {
			matches = append(matches, storage.ReviewMatch{
				RunID:         runID,
				LedgerID:      m.LedgerID,
				ExternalID:    m.ExternalID,
				Confidence:    m.Confidence,
				Signals:       m.Signals,
				DateDeltaDays: m.DateDeltaDays,
				AmountDelta:   m.AmountDelta.StringFixed(2),
				Status:        storage.ReviewStatusPending,
				CreatedAt:     now,
			})
		}
		if err := r.repo.SaveReviewMatches(ctx, matches); err != nil {
			return err
		}
	}

	return r.repo.CompleteRun(ctx, runID, storage.RunSummary{
		Status:           storage.RunStatusCompleted,
		AutoApplied:      len(res.AutoApplied),
		NeedsReview:      len(res.NeedsReview),
		UnmatchedLedger:  len(res.Unmatched),
		SkippedDuplicate: len(res.SkippedDuplicate),
		TotalReconciled:  res.TotalReconciled.StringFixed(2),
	})
}

// publish emits events for an applied run. Failures are logged by the
// publisher and never affect the run outcome.
func (r *Runner) publish(ctx context.Context, res *Result) {
	now := time.Now().UTC()
	for _, m := range res.AutoApplied {
		_ = r.publisher.PublishLinkApplied(ctx, events.LinkApplied{
			RunID:      res.RunID,
			LedgerID:   m.LedgerID,
			ExternalID: m.ExternalID,
			Confidence: m.Confidence,
			Signals:    m.Signals,
			Amount:     m.Amount.StringFixed(2),
			AppliedAt:  now,
		})
	}
	_ = r.publisher.PublishRunCompleted(ctx, events.RunCompleted{
		RunID:            res.RunID,
		Status:           storage.RunStatusCompleted,
		AutoApplied:      len(res.AutoApplied),
		NeedsReview:      len(res.NeedsReview),
		UnmatchedLedger:  len(res.Unmatched),
		SkippedDuplicate: len(res.SkippedDuplicate),
		TotalReconciled:  res.TotalReconciled.StringFixed(2),
		CompletedAt:      now,
	})
}

// fail marks an apply-mode run failed and wraps the underlying error.
func (r *Runner) fail(ctx context.Context, apply bool, runID, op string, err error) error {
	if apply {
		_ = r.repo.CompleteRun(context.WithoutCancel(ctx), runID, storage.RunSummary{Status: storage.RunStatusFailed})
	}
	return &RepositoryIOError{Op: op, Err: err}
}

// cancel marks an apply-mode run cancelled. Nothing has been written at any
// cancellation point, so there is nothing to roll back.
func (r *Runner) cancel(ctx context.Context, apply bool, runID string, err error) error {
	if apply {
		_ = r.repo.CompleteRun(context.WithoutCancel(ctx), runID, storage.RunSummary{Status: storage.RunStatusCancelled})
	}
	return err
}
