// Package staging parses external statement files (CSV, OFX, XLSX) into
// external records and inserts them through the content-hash staging path, so
// re-importing an overlapping file never duplicates records.
package staging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/finledger/reconcile/internal/domain/record"
	"github.com/finledger/reconcile/internal/infrastructure/storage"
)

// ImportResult reports one file import.
type ImportResult struct {
	Parsed           int `json:"parsed"`
	Inserted         int `json:"inserted"`
	SkippedDuplicate int `json:"skipped_duplicate"`
	SkippedInvalid   int `json:"skipped_invalid"`
}

// Importer stages statement files into the external record store.
type Importer struct {
	repo   storage.ExternalRepository
	logger *slog.Logger
}

// NewImporter creates an importer.
func NewImporter(repo storage.ExternalRepository, logger *slog.Logger) *Importer {
	return &Importer{repo: repo, logger: logger}
}

// ImportFile parses the file by extension and stages its records. Rows that
// fail to parse are skipped and counted, not fatal: one bad line in a bank
// export should not block the rest of the statement.
func (i *Importer) ImportFile(ctx context.Context, path, source string) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		recs    []*record.ExternalRecord
		invalid int
	)

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		recs, invalid, err = i.parseCSV(f, source)
	case ".ofx", ".qfx":
		recs, invalid, err = i.parseOFX(f, source)
	case ".xlsx":
		recs, invalid, err = i.parseXLSX(f, source)
	default:
		return nil, fmt.Errorf("unsupported statement format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	staged, err := i.repo.StageExternalRecords(ctx, recs)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", filepath.Base(path), err)
	}

	result := &ImportResult{
		Parsed:           len(recs),
		Inserted:         staged.Inserted,
		SkippedDuplicate: staged.SkippedDuplicate,
		SkippedInvalid:   invalid,
	}

	i.logger.Info("imported statement file",
		"file", filepath.Base(path),
		"source", source,
		"parsed", result.Parsed,
		"inserted", result.Inserted,
		"skipped_duplicate", result.SkippedDuplicate,
		"skipped_invalid", result.SkippedInvalid)

	return result, nil
}
