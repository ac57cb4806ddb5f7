package ledger

import (
	"context"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/pik-sentinel/internal/model"
)

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Ledger")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "ledger.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestLoadXLSX(t *testing.T) {
	rows, err := csv.NewReader(strings.NewReader(sampleCSV)).ReadAll()
	require.NoError(t, err)
	// A blank spreadsheet row before the last record.
	rows = append(rows[:4], append([][]string{{"", ""}}, rows[4:]...)...)

	res, err := Load(context.Background(), createTestXLSX(t, rows), "")
	require.NoError(t, err)

	require.Len(t, res.Loans, 2)
	assert.Equal(t, "L001", res.Loans[0].LoanID)
	assert.Equal(t, model.PaymentInKind, res.Loans[0].PaymentType)
	assert.InDelta(t, 2_000_000, res.Loans[1].PrincipalAmount, 0.01)

	require.Len(t, res.Errors, 2)
	assert.Equal(t, 4, res.Errors[0].Row)
	assert.Equal(t, 6, res.Errors[1].Row)
}

func TestLoadXLSXCorrupt(t *testing.T) {
	_, err := Load(context.Background(), writeFile(t, "bad.xlsx", "this is not an xlsx file"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xlsx: open file")
}

func TestResolveFormatXLSX(t *testing.T) {
	f, err := ResolveFormat("Ledger.XLSX", "")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)
}
