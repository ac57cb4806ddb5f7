// Package report exports ranked flagged loans for review outside the CLI.
package report

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/pik-sentinel/internal/model"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// Report is everything one evaluation exports.
type Report struct {
	GeneratedAt  time.Time                 `json:"generated_at"`
	LedgerPath   string                    `json:"ledger_path"`
	Summary      model.RunSummary          `json:"summary"`
	Decision     *model.EscalationDecision `json:"decision,omitempty"`
	FlaggedLoans []model.FlaggedLoan       `json:"ranked_flagged_loans"`
}

// Columns is the tabular layout, in order.
var Columns = []string{
	"rank", "loan_id", "borrower", "industry", "interest_type",
	"outstanding_balance", "principal_amount", "maturity_date",
	"risk_level", "confidence_score", "pik_toggle_detected", "previous_interest_type",
	"flag_reason", "correlated_event", "flagged_at",
}

// FormatFor infers the export format from a file extension.
func FormatFor(path string) (Format, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch Format(ext) {
	case FormatCSV, FormatXLSX, FormatJSON:
		return Format(ext), nil
	}
	return "", eris.Wrapf(model.ErrUnsupportedFormat, "report: format %q (use csv, xlsx or json)", ext)
}

// WriteFile exports r to path in the format its extension names.
func WriteFile(path string, r Report) error {
	f, err := FormatFor(path)
	if err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	if err := Write(out, f, r); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return eris.Wrapf(err, "report: close %s", path)
	}
	zap.L().Info("report: written",
		zap.String("path", path),
		zap.String("format", string(f)),
		zap.Int("flagged", len(r.FlaggedLoans)),
	)
	return nil
}

// Write encodes r to w.
func Write(w io.Writer, f Format, r Report) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, r.FlaggedLoans)
	case FormatXLSX:
		return WriteXLSX(w, r)
	case FormatJSON:
		return WriteJSON(w, r)
	}
	return eris.Wrapf(model.ErrUnsupportedFormat, "report: format %q", f)
}

// WriteCSV writes one header row and one row per loan, in rank order.
func WriteCSV(w io.Writer, loans []model.FlaggedLoan) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for i, l := range loans {
		if err := cw.Write(fields(i+1, l)); err != nil {
			return eris.Wrapf(err, "report: write csv row %s", l.LoanID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}

// WriteJSON writes r as indented JSON.
func WriteJSON(w io.Writer, r Report) error {
	if r.FlaggedLoans == nil {
		r.FlaggedLoans = []model.FlaggedLoan{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(r), "report: encode json")
}

// WriteXLSX writes a "Flagged Loans" sheet with typed cells and a "Summary"
// sheet with the run totals and the decision.
func WriteXLSX(w io.Writer, r Report) error {
	f := xlsx.NewFile()

	loans, err := f.AddSheet("Flagged Loans")
	if err != nil {
		return eris.Wrap(err, "report: add loans sheet")
	}
	header := loans.AddRow()
	for _, c := range Columns {
		header.AddCell().SetString(c)
	}
	for i, l := range r.FlaggedLoans {
		row := loans.AddRow()
		row.AddCell().SetInt(i + 1)
		row.AddCell().SetString(l.LoanID)
		row.AddCell().SetString(l.Borrower)
		row.AddCell().SetString(l.Industry)
		row.AddCell().SetString(string(l.PaymentType))
		row.AddCell().SetFloat(l.OutstandingBalance)
		row.AddCell().SetFloat(l.PrincipalAmount)
		row.AddCell().SetString(formatDate(l.MaturityDate))
		row.AddCell().SetString(string(l.RiskLevel))
		row.AddCell().SetFloat(l.ConfidenceScore)
		row.AddCell().SetBool(l.ToggleDetected)
		row.AddCell().SetString(previousType(l))
		row.AddCell().SetString(l.FlagReason)
		row.AddCell().SetString(l.CorrelatedEvent)
		row.AddCell().SetString(formatTime(l.FlaggedAt))
	}

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "report: add summary sheet")
	}
	pairs := [][2]string{
		{"generated_at", formatTime(r.GeneratedAt)},
		{"ledger_path", r.LedgerPath},
		{"total_loans", strconv.Itoa(r.Summary.Total)},
		{"flagged", strconv.Itoa(r.Summary.Flagged)},
		{"toggles", strconv.Itoa(r.Summary.ToggleCount)},
		{"validation_errors", strconv.Itoa(r.Summary.ValidationErrors)},
		{"total_exposure", strconv.FormatFloat(r.Summary.TotalExposure, 'f', 2, 64)},
	}
	if d := r.Decision; d != nil {
		pairs = append(pairs,
			[2]string{"status", string(d.Status)},
			[2]string{"recommended_action", d.RecommendedAction},
			[2]string{"hedge_percentage", strconv.FormatFloat(d.HedgePercentage, 'f', -1, 64)},
		)
		for _, line := range d.Reasoning {
			pairs = append(pairs, [2]string{"reasoning", line})
		}
	}
	for _, p := range pairs {
		row := summary.AddRow()
		row.AddCell().SetString(p[0])
		row.AddCell().SetString(p[1])
	}

	return eris.Wrap(f.Write(w), "report: write xlsx")
}

func fields(rank int, l model.FlaggedLoan) []string {
	return []string{
		strconv.Itoa(rank),
		l.LoanID,
		l.Borrower,
		l.Industry,
		string(l.PaymentType),
		strconv.FormatFloat(l.OutstandingBalance, 'f', 2, 64),
		strconv.FormatFloat(l.PrincipalAmount, 'f', 2, 64),
		formatDate(l.MaturityDate),
		string(l.RiskLevel),
		strconv.FormatFloat(l.ConfidenceScore, 'f', -1, 64),
		strconv.FormatBool(l.ToggleDetected),
		previousType(l),
		l.FlagReason,
		l.CorrelatedEvent,
		formatTime(l.FlaggedAt),
	}
}

func previousType(l model.FlaggedLoan) string {
	if l.PreviousPaymentType == nil {
		return ""
	}
	return string(*l.PreviousPaymentType)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.DateOnly)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
