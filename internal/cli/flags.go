// Package cli holds flag parsing and console output shared by the command
// line tools.
package cli

import (
	"flag"
	"time"

	"github.com/finledger/reconcile/internal/application/recon"
	"github.com/finledger/reconcile/internal/infrastructure/storage"
)

// ReconFlags are the flags of the reconcile command.
type ReconFlags struct {
	Apply             bool
	DateToleranceDays int
	LedgerSource      string
	ExternalSource    string
	From              string
	To                string
	Limit             int
	ConfigPath        string
	Verbose           bool
}

// ParseReconFlags parses reconcile flags from the command line.
func ParseReconFlags() ReconFlags {
	var flags ReconFlags
	flag.BoolVar(&flags.Apply, "apply", false, "Persist links (default is dry-run)")
	flag.IntVar(&flags.DateToleranceDays, "days", 0, "Date tolerance in days (0 = configured default)")
	flag.StringVar(&flags.LedgerSource, "ledger-source", "", "Only reconcile ledger records from this source")
	flag.StringVar(&flags.ExternalSource, "external-source", "", "Only consider external records from this source")
	flag.StringVar(&flags.From, "from", "", "Batch start date (YYYY-MM-DD)")
	flag.StringVar(&flags.To, "to", "", "Batch end date (YYYY-MM-DD)")
	flag.IntVar(&flags.Limit, "max", 0, "Maximum ledger records to process (0 = all)")
	flag.StringVar(&flags.ConfigPath, "config", "config.yaml", "Path to config file")
	flag.BoolVar(&flags.Verbose, "verbose", false, "Verbose output")
	flag.Parse()
	return flags
}

// ToOptions converts the flags to runner options. The external window is
// widened by the date tolerance on both ends so edge-of-range ledger records
// still see their counterparts.
func (f ReconFlags) ToOptions(defaultToleranceDays int) (recon.Options, error) {
	opts := recon.Options{
		Mode:              recon.ModeDryRun,
		DateToleranceDays: f.DateToleranceDays,
	}
	if f.Apply {
		opts.Mode = recon.ModeApply
	}

	from, to, err := parseDateRange(f.From, f.To)
	if err != nil {
		return recon.Options{}, err
	}

	opts.LedgerFilter = storage.BatchFilter{
		Source: f.LedgerSource,
		From:   from,
		To:     to,
		Limit:  f.Limit,
	}

	tolerance := f.DateToleranceDays
	if tolerance <= 0 {
		tolerance = defaultToleranceDays
	}
	window := storage.Window{Source: f.ExternalSource}
	if !from.IsZero() {
		window.From = from.AddDate(0, 0, -tolerance)
	}
	if !to.IsZero() {
		window.To = to.AddDate(0, 0, tolerance)
	}
	opts.ExternalWindow = window

	return opts, nil
}

func parseDateRange(fromStr, toStr string) (from, to time.Time, err error) {
	if fromStr != "" {
		from, err = time.Parse("2006-01-02", fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if toStr != "" {
		to, err = time.Parse("2006-01-02", toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return from, to, nil
}
