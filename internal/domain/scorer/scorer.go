// Package scorer assigns each (ledger, external) candidate pair an additive
// integer confidence score built from independent signals, so the basis for
// any matching decision is auditable after the fact.
package scorer

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/finledger/reconcile/internal/domain/record"
)

// Signal names, in evaluation order. The ordered fired-signal list on a
// candidate is part of the run report.
const (
	SignalExactAmount          = "exact_amount"
	SignalCloseAmount          = "close_amount"
	SignalSameDay              = "same_day"
	SignalNearDay              = "near_day"
	SignalWithinWindow         = "within_window"
	SignalDescriptorSimilarity = "descriptor_similarity"
	SignalMethodHintMatch      = "method_hint_match"
)

var exactAmountDelta = decimal.NewFromFloat(0.01)

// Weights holds the integer contribution of each signal. All weights must be
// non-negative: the model is strictly additive so confidence is monotonic
// and independent of evaluation order.
type Weights struct {
	ExactAmount          int `yaml:"exact_amount"`
	CloseAmount          int `yaml:"close_amount"`
	SameDay              int `yaml:"same_day"`
	NearDay              int `yaml:"near_day"`
	DescriptorSimilarity int `yaml:"descriptor_similarity"`
	MethodHintMatch      int `yaml:"method_hint_match"`
}

// DefaultWeights returns the standard signal weights.
func DefaultWeights() Weights {
	return Weights{
		ExactAmount:          2,
		CloseAmount:          1,
		SameDay:              2,
		NearDay:              1,
		DescriptorSimilarity: 1,
		MethodHintMatch:      1,
	}
}

// Candidate is an ephemeral scored pairing of a ledger record with an
// external record. It exists only during a single run and is never persisted
// directly.
type Candidate struct {
	Ledger        *record.LedgerRecord
	External      *record.ExternalRecord
	Confidence    int
	Signals       []string
	DateDeltaDays int
	AmountDelta   decimal.Decimal
}

// Config holds scorer tuning. Everything here is configuration, not
// hardcoded business logic.
type Config struct {
	Weights Weights

	// NearDayMax is the day delta at or under which near_day fires.
	NearDayMax int

	// SimilarityThreshold is the minimum descriptor similarity ratio for
	// descriptor_similarity to fire.
	SimilarityThreshold float64

	// BoilerplateTokens are stripped from descriptors before comparison
	// (processor names, "POINT OF SALE PURCHASE", branch suffixes).
	BoilerplateTokens []string

	// MethodHintKeywords maps a ledger method hint (card, transfer, cash)
	// to external-description tokens consistent with it.
	MethodHintKeywords map[string][]string

	// LedgerRule and ExternalRule are the sign conventions of the two
	// sources.
	LedgerRule   record.DirectionRule
	ExternalRule record.DirectionRule
}

// DefaultConfig returns scorer defaults.
func DefaultConfig() Config {
	return Config{
		Weights:             DefaultWeights(),
		NearDayMax:          3,
		SimilarityThreshold: 0.6,
		MethodHintKeywords: map[string][]string{
			"card":     {"mcard", "visa", "mastercard", "amex", "discover", "pos", "debit"},
			"transfer": {"ach", "wire", "transfer", "eft"},
			"cash":     {"cash", "atm", "deposit"},
		},
		LedgerRule:   record.AlwaysOutflow,
		ExternalRule: record.NegativeIsOutflow,
	}
}

// Scorer computes candidate confidence scores.
type Scorer struct {
	cfg Config
}

// New creates a scorer with the given config.
func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score evaluates one candidate pair. dateToleranceDays is the window the
// candidate was generated under; a pair inside the window but outside the
// near-day band still fires within_window (weight 0) so the report shows why
// the pair was considered at all.
func (s *Scorer) Score(lr *record.LedgerRecord, er *record.ExternalRecord, dateToleranceDays int) *Candidate {
	ledgerAbs, _ := record.NormalizeAmount(lr.Amount, s.cfg.LedgerRule)
	extAbs, _ := record.NormalizeAmount(er.Amount, s.cfg.ExternalRule)

	c := &Candidate{
		Ledger:        lr,
		External:      er,
		DateDeltaDays: record.DateDeltaDays(lr.OccurredAt, er.PostedAt),
		AmountDelta:   ledgerAbs.Sub(extAbs).Abs(),
	}

	// Amount tier: exact beats close, mutually exclusive.
	switch {
	case c.AmountDelta.LessThanOrEqual(exactAmountDelta):
		c.fire(SignalExactAmount, s.cfg.Weights.ExactAmount)
	default:
		c.fire(SignalCloseAmount, s.cfg.Weights.CloseAmount)
	}

	// Date tier: highest tier wins, mutually exclusive.
	switch {
	case c.DateDeltaDays == 0:
		c.fire(SignalSameDay, s.cfg.Weights.SameDay)
	case c.DateDeltaDays <= s.cfg.NearDayMax:
		c.fire(SignalNearDay, s.cfg.Weights.NearDay)
	case c.DateDeltaDays <= dateToleranceDays:
		c.fire(SignalWithinWindow, 0)
	}

	if s.descriptorSimilarity(lr.Descriptor, er.Description) >= s.cfg.SimilarityThreshold {
		c.fire(SignalDescriptorSimilarity, s.cfg.Weights.DescriptorSimilarity)
	}

	if s.methodHintMatches(lr.MethodHint, er.Description) {
		c.fire(SignalMethodHintMatch, s.cfg.Weights.MethodHintMatch)
	}

	return c
}

// fire records a signal. Negative weights are clamped to zero to keep the
// model additive.
func (c *Candidate) fire(name string, weight int) {
	if weight < 0 {
		weight = 0
	}
	c.Signals = append(c.Signals, name)
	c.Confidence += weight
}

// descriptorSimilarity returns a ratio in [0,1] between the normalized
// descriptors. External descriptions often embed the ledger descriptor
// inside vendor codes and processor boilerplate, so token containment is
// checked alongside plain edit distance and the better of the two wins.
func (s *Scorer) descriptorSimilarity(descriptor, description string) float64 {
	a := record.NormalizeDescriptor(descriptor, s.cfg.BoilerplateTokens)
	b := record.NormalizeDescriptor(description, s.cfg.BoilerplateTokens)
	if a == "" || b == "" {
		return 0
	}

	ratio := levenshtein.RatioForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)

	if overlap := tokenOverlap(record.Tokens(a), record.Tokens(b)); overlap > ratio {
		ratio = overlap
	}

	return ratio
}

// tokenOverlap returns the fraction of ledger descriptor tokens present in
// the external description.
func tokenOverlap(ledgerTokens, externalTokens []string) float64 {
	if len(ledgerTokens) == 0 {
		return 0
	}

	present := make(map[string]bool, len(externalTokens))
	for _, tok := range externalTokens {
		present[tok] = true
	}

	found := 0
	for _, tok := range ledgerTokens {
		if present[tok] {
			found++
		}
	}

	return float64(found) / float64(len(ledgerTokens))
}

// methodHintMatches reports whether the ledger method hint is consistent
// with known keywords in the external description.
func (s *Scorer) methodHintMatches(hint, description string) bool {
	if hint == "" {
		return false
	}

	keywords := s.cfg.MethodHintKeywords[strings.ToLower(hint)]
	if len(keywords) == 0 {
		return false
	}

	normalized := record.NormalizeDescriptor(description, nil)
	present := make(map[string]bool)
	for _, tok := range record.Tokens(normalized) {
		present[tok] = true
	}

	for _, kw := range keywords {
		if present[strings.ToLower(kw)] {
			return true
		}
	}
	return false
}
