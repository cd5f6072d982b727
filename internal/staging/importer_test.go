package staging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/finledger/reconcile/internal/infrastructure/storage"
)

func newTestImporter(repo storage.ExternalRepository) *Importer {
	return NewImporter(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestImportFile_CSV(t *testing.T) {
	csvContent := `Date,Description,Amount,Transaction_ID
2026-03-10,POS DEBIT COFFEE SHOP,-25.00,T100
03/11/2026,"GROCERY STORE #42","($1,200.50)",T101
2026-03-12,REFUND,$15.00,T102
`
	path := writeFile(t, "statement.csv", csvContent)
	repo := storage.NewMockRepository()
	imp := newTestImporter(repo)

	res, err := imp.ImportFile(context.Background(), path, "bank")

	require.NoError(t, err)
	assert.Equal(t, 3, res.Parsed)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 0, res.SkippedInvalid)

	er := repo.External("T101")
	require.NotNil(t, er)
	assert.Equal(t, "-1200.50", er.Amount.String())
	assert.Equal(t, "GROCERY STORE #42", er.Description)
	assert.Equal(t, "bank", er.Source)
}

func TestImportFile_CSVSkipsBadRows(t *testing.T) {
	csvContent := `date,description,amount
2026-03-10,OK ROW,-10.00
not-a-date,BAD ROW,-11.00
2026-03-12,BAD AMOUNT,eleven
`
	path := writeFile(t, "statement.csv", csvContent)
	repo := storage.NewMockRepository()
	imp := newTestImporter(repo)

	res, err := imp.ImportFile(context.Background(), path, "bank")

	require.NoError(t, err)
	assert.Equal(t, 1, res.Parsed)
	assert.Equal(t, 2, res.SkippedInvalid)
}

func TestImportFile_CSVMissingColumns(t *testing.T) {
	path := writeFile(t, "statement.csv", "foo,bar\n1,2\n")
	imp := newTestImporter(storage.NewMockRepository())

	_, err := imp.ImportFile(context.Background(), path, "bank")

	assert.ErrorContains(t, err, "missing required columns")
}

func TestImportFile_ReimportDeduplicates(t *testing.T) {
	csvContent := `date,description,amount,id
2026-03-10,COFFEE SHOP,-25.00,T100
`
	path := writeFile(t, "statement.csv", csvContent)
	repo := storage.NewMockRepository()
	imp := newTestImporter(repo)

	first, err := imp.ImportFile(context.Background(), path, "bank")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)

	second, err := imp.ImportFile(context.Background(), path, "bank")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 1, second.SkippedDuplicate)
}

func TestImportFile_XLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"date", "description", "amount", "id"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"2026-03-10", "LEGACY EXPORT ROW", "-42.00", "X1"}))

	path := filepath.Join(t.TempDir(), "legacy.xlsx")
	require.NoError(t, f.SaveAs(path))

	repo := storage.NewMockRepository()
	imp := newTestImporter(repo)

	res, err := imp.ImportFile(context.Background(), path, "legacy_export")

	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	er := repo.External("X1")
	require.NotNil(t, er)
	assert.Equal(t, "-42", er.Amount.String())
	assert.Equal(t, "LEGACY EXPORT ROW", er.Description)
}

func TestImportFile_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, "statement.pdf", "not a statement")
	imp := newTestImporter(storage.NewMockRepository())

	_, err := imp.ImportFile(context.Background(), path, "bank")

	assert.ErrorContains(t, err, "unsupported statement format")
}
