package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/pik-sentinel/internal/model"
)

var flaggedAt = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func sampleReport() Report {
	cash := model.PaymentCash
	return Report{
		GeneratedAt: flaggedAt,
		LedgerPath:  "ledger.csv",
		Summary:     model.RunSummary{Total: 5, Flagged: 2, ToggleCount: 1, TotalExposure: 20_000_000},
		Decision: &model.EscalationDecision{
			Status:            model.StatusCritical,
			RecommendedAction: "Execute 15% hedge immediately",
			HedgePercentage:   15,
			Reasoning:         []string{"Flagged loans: 2"},
		},
		FlaggedLoans: []model.FlaggedLoan{
			{
				LoanRecord: model.LoanRecord{
					LoanID: "L1", Borrower: "Acme, Inc.", Industry: "energy", PaymentType: model.PaymentInKind,
					PrincipalAmount: 10_000_000, OutstandingBalance: 12_500_000,
					MaturityDate: time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
				},
				FlagReason:          "PIK toggle detected (Cash to PIK) in high-risk sector (energy)",
				RiskLevel:           model.RiskHigh,
				CorrelatedEvent:     "Gulf crisis",
				FlaggedAt:           flaggedAt,
				ConfidenceScore:     75,
				ToggleDetected:      true,
				PreviousPaymentType: &cash,
			},
			{
				LoanRecord: model.LoanRecord{
					LoanID: "L2", Borrower: "Beta", Industry: "mining", PaymentType: model.PaymentInKind,
					OutstandingBalance: 7_500_000,
				},
				RiskLevel:       model.RiskMedium,
				ConfidenceScore: 60,
				FlaggedAt:       flaggedAt,
			},
		},
	}
}

func TestFormatFor(t *testing.T) {
	for path, want := range map[string]Format{"a.csv": FormatCSV, "b.XLSX": FormatXLSX, "c.json": FormatJSON} {
		got, err := FormatFor(path)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := FormatFor("out.pdf")
	assert.True(t, eris.Is(err, model.ErrUnsupportedFormat))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleReport().FlaggedLoans))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, []string{
		"1", "L1", "Acme, Inc.", "energy", "PIK", "12500000.00", "10000000.00", "2026-12-31",
		"high", "75", "true", "Cash",
		"PIK toggle detected (Cash to PIK) in high-risk sector (energy)", "Gulf crisis", "2025-03-01T09:00:00Z",
	}, rows[1])
	assert.Equal(t, "2", rows[2][0])
	assert.Equal(t, "", rows[2][7])
	assert.Equal(t, "", rows[2][11])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleReport()))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	loans := got["ranked_flagged_loans"].([]any)
	require.Len(t, loans, 2)
	first := loans[0].(map[string]any)
	assert.Equal(t, "L1", first["loanId"])
	assert.Equal(t, "Cash", first["previous_interest_type"])
	assert.Equal(t, "critical", got["decision"].(map[string]any)["status"])

	buf.Reset()
	require.NoError(t, WriteJSON(&buf, Report{}))
	assert.Contains(t, buf.String(), `"ranked_flagged_loans": []`)
}

func TestWriteFileXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flagged.xlsx")
	require.NoError(t, WriteFile(path, sampleReport()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)

	loans := f.Sheet["Flagged Loans"]
	require.NotNil(t, loans)
	require.Len(t, loans.Rows, 3)
	assert.Equal(t, "loan_id", loans.Rows[0].Cells[1].String())
	assert.Equal(t, "L1", loans.Rows[1].Cells[1].String())
	balance, err := loans.Rows[1].Cells[5].Float()
	require.NoError(t, err)
	assert.InDelta(t, 12_500_000, balance, 0.01)

	summary := f.Sheet["Summary"]
	require.NotNil(t, summary)
	assert.Equal(t, "generated_at", summary.Rows[0].Cells[0].String())
	assert.Equal(t, "critical", summary.Rows[7].Cells[1].String())
}

func TestWriteFileCSVAndUnsupported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flagged.csv")
	require.NoError(t, WriteFile(path, sampleReport()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "loan_id")

	err = WriteFile(filepath.Join(dir, "flagged.txt"), sampleReport())
	assert.True(t, eris.Is(err, model.ErrUnsupportedFormat))
	_, statErr := os.Stat(filepath.Join(dir, "flagged.txt"))
	assert.True(t, os.IsNotExist(statErr))
}
