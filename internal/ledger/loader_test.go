package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pik-sentinel/internal/model"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleCSV = `loanId,borrower,industry,interestType,principalAmount,outstandingBalance,maturityDate,covenants
L001,Acme Energy,energy,PIK,10000000,12500000,2025-12-31,debt-to-equity < 2.0; interest coverage > 1.5
L002,Beta Retail,retail,Cash,"$2,000,000",1500000,2026-06-30T00:00:00Z,
L003,Gamma Mining,mining,Barter,100,100,2026-01-01,
L004,Delta Oil,energy,PIK,500,-10,2026-01-01,
`

func TestLoadCSV(t *testing.T) {
	path := writeFile(t, "ledger.csv", sampleCSV)

	res, err := Load(context.Background(), path, "")
	require.NoError(t, err)

	require.Len(t, res.Loans, 2)
	l1 := res.Loans[0]
	assert.Equal(t, "L001", l1.LoanID)
	assert.Equal(t, model.PaymentInKind, l1.PaymentType)
	assert.InDelta(t, 12_500_000, l1.OutstandingBalance, 0.01)
	assert.Equal(t, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), l1.MaturityDate)
	assert.Equal(t, []string{"debt-to-equity < 2.0", "interest coverage > 1.5"}, l1.Covenants)

	l2 := res.Loans[1]
	assert.InDelta(t, 2_000_000, l2.PrincipalAmount, 0.01)
	assert.Equal(t, []string{}, l2.Covenants)

	require.Len(t, res.Errors, 2)
	assert.Equal(t, 4, res.Errors[0].Row)
	assert.Contains(t, res.Errors[0].Message, "Barter")
	assert.Equal(t, "L003", res.Errors[0].Data["loanId"])
	assert.Equal(t, 5, res.Errors[1].Row)
	assert.Contains(t, res.Errors[1].Message, "outstandingBalance must be >= 0")
}

func TestLoadJSONArrayAndWrapped(t *testing.T) {
	body := `[
	  {"loanId":"L001","borrower":"Acme Energy","industry":"energy","interestType":"PIK",
	   "principalAmount":10000000,"outstandingBalance":12500000,"maturityDate":"2025-12-31T00:00:00Z",
	   "covenants":["debt-to-equity < 2.0"]},
	  {"loanId":"L002","borrower":"Beta","industry":"retail","interestType":"Cash",
	   "principalAmount":1,"outstandingBalance":1,"maturityDate":"not a date"}
	]`
	for name, content := range map[string]string{
		"array.json":   body,
		"wrapped.json": `{"loans": ` + body + `}`,
	} {
		t.Run(name, func(t *testing.T) {
			res, err := Load(context.Background(), writeFile(t, name, content), "")
			require.NoError(t, err)
			require.Len(t, res.Loans, 1)
			assert.Equal(t, []string{"debt-to-equity < 2.0"}, res.Loans[0].Covenants)

			require.Len(t, res.Errors, 1)
			assert.Equal(t, 1, res.Errors[0].Index)
			assert.Equal(t, 0, res.Errors[0].Row)
			assert.Contains(t, res.Errors[0].Message, "maturityDate")
		})
	}
}

func TestLoadJSONCovenantString(t *testing.T) {
	content := `[{"loan_id":"L9","borrower":"B","industry":"energy","interest_type":"pik",
	  "principal_amount":1,"outstanding_balance":2,"maturity_date":"2027-03-01","covenants":"a, b;c"}]`
	res, err := Load(context.Background(), writeFile(t, "l.json", content), "")
	require.NoError(t, err)
	require.Len(t, res.Loans, 1)
	assert.Equal(t, []string{"a", "b", "c"}, res.Loans[0].Covenants)
}

func TestLoadAllInvalidIsNotAnError(t *testing.T) {
	content := `[{"loanId":"X"},{"borrower":"Y"}]`
	res, err := Load(context.Background(), writeFile(t, "bad.json", content), "")
	require.NoError(t, err)
	assert.Empty(t, res.Loans)
	assert.Len(t, res.Errors, 2)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), "")
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrNotFound))

	_, err = Load(context.Background(), writeFile(t, "ledger.xml", "<x/>"), "")
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrUnsupportedFormat))

	_, err = Load(context.Background(), writeFile(t, "ledger.csv", sampleCSV), "parquet")
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrUnsupportedFormat))

	_, err = Load(context.Background(), writeFile(t, "broken.json", `{"loans": [`), "")
	require.Error(t, err)

	_, err = Load(context.Background(), writeFile(t, "obj.json", `{"rows": []}`), "")
	require.Error(t, err)
}

func TestLoadExplicitFormatOverridesExtension(t *testing.T) {
	path := writeFile(t, "ledger.txt", sampleCSV)
	res, err := Load(context.Background(), path, "CSV")
	require.NoError(t, err)
	assert.Len(t, res.Loans, 2)
}

func TestParseDate(t *testing.T) {
	for _, s := range []string{"2025-12-31", "2025-12-31T00:00:00Z", "2025-12-31 00:00:00", "12/31/2025"} {
		d, err := parseDate(s)
		require.NoError(t, err, s)
		assert.Equal(t, 2025, d.Year())
		assert.Equal(t, time.December, d.Month())
	}
	_, err := parseDate("yesterday")
	assert.Error(t, err)
}
