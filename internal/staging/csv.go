package staging

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finledger/reconcile/internal/domain/record"
)

// Accepted date layouts, tried in order. Bank exports disagree on this more
// than anything else.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// parseCSV reads a header-based CSV statement. Required columns are date,
// amount and description; an id column is used when present, otherwise ids
// are generated (the content hash, not the id, is the dedup key).
func (i *Importer) parseCSV(r io.Reader, source string) ([]*record.ExternalRecord, int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}

	idCol := columnIndex(header, "id", "external_id", "transaction_id", "fitid")
	dateCol := columnIndex(header, "date", "posted_at", "posted", "transaction_date")
	amountCol := columnIndex(header, "amount", "value")
	descCol := columnIndex(header, "description", "memo", "payee", "name")

	if dateCol < 0 || amountCol < 0 || descCol < 0 {
		return nil, 0, fmt.Errorf("missing required columns (need date, amount, description), got %v", header)
	}

	var recs []*record.ExternalRecord
	invalid := 0
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("line %d: %w", line, err)
		}

		rec, err := buildRecord(cell(row, idCol), cell(row, dateCol), cell(row, amountCol), cell(row, descCol), source)
		if err != nil {
			i.logger.Warn("skipping unparseable statement row", "line", line, "error", err)
			invalid++
			continue
		}
		recs = append(recs, rec)
	}

	return recs, invalid, nil
}

// buildRecord assembles one external record from raw string fields.
func buildRecord(id, date, amount, description, source string) (*record.ExternalRecord, error) {
	postedAt, err := parseDate(date)
	if err != nil {
		return nil, err
	}

	amt, err := parseAmount(amount)
	if err != nil {
		return nil, err
	}

	if id == "" {
		id = uuid.NewString()
	}

	return &record.ExternalRecord{
		ID:          id,
		Amount:      amt,
		PostedAt:    postedAt,
		Description: strings.TrimSpace(description),
		Source:      source,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// parseAmount handles currency symbols, thousands separators and
// parenthesized negatives.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")

	amt, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("unparseable amount %q", s)
	}
	if negative {
		amt = amt.Neg()
	}
	return amt, nil
}

// columnIndex returns the index of the first header matching any candidate
// name, case-insensitively, or -1.
func columnIndex(header []string, candidates ...string) int {
	for _, cand := range candidates {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), cand) {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
