package staging

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/finledger/reconcile/internal/domain/record"
)

// parseXLSX reads a legacy-export spreadsheet. Only the first sheet is read;
// the first row must be a header with the same column names the CSV path
// accepts.
func (i *Importer) parseXLSX(r io.Reader, source string) ([]*record.ExternalRecord, int, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, 0, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, 0, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, 0, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, 0, fmt.Errorf("sheet %s is empty", sheet)
	}

	header := rows[0]
	idCol := columnIndex(header, "id", "external_id", "transaction_id")
	dateCol := columnIndex(header, "date", "posted_at", "posted", "transaction_date")
	amountCol := columnIndex(header, "amount", "value")
	descCol := columnIndex(header, "description", "memo", "payee", "name")

	if dateCol < 0 || amountCol < 0 || descCol < 0 {
		return nil, 0, fmt.Errorf("missing required columns (need date, amount, description), got %v", header)
	}

	var recs []*record.ExternalRecord
	invalid := 0
	for n, row := range rows[1:] {
		if isEmptyRow(row) {
			continue
		}

		rec, err := buildRecord(cell(row, idCol), cell(row, dateCol), cell(row, amountCol), cell(row, descCol), source)
		if err != nil {
			i.logger.Warn("skipping unparseable spreadsheet row", "row", n+2, "error", err)
			invalid++
			continue
		}
		recs = append(recs, rec)
	}

	return recs, invalid, nil
}

func isEmptyRow(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}
