package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pik-sentinel/internal/credit"
)

var ratiosCmd = &cobra.Command{
	Use:   "ratios <statements.yaml|json>",
	Short: "Compute credit ratios and the overall credit score",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("ratios"); err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "ratios: read statements")
		}
		stmts, err := credit.ParseStatements(data)
		if err != nil {
			return err
		}

		r := credit.New(credit.Config{PrincipalEstimateFraction: cfg.Credit.PrincipalEstimateFraction}).Compute(stmts)

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, r)
		}
		formatRatios(os.Stdout, r)
		return nil
	},
}

func init() {
	ratiosCmd.Flags().Bool("json", false, "print ratios as JSON")
	rootCmd.AddCommand(ratiosCmd)
}

func formatRatios(out io.Writer, r credit.Ratios) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "METRIC\tVALUE\tSCORE")
	_, _ = fmt.Fprintln(w, "------\t-----\t-----")
	_, _ = fmt.Fprintf(w, "DSCR\t%.2f\t%d\n", r.DSCR, r.DSCRScore)
	_, _ = fmt.Fprintf(w, "Debt/Equity\t%.2f\t%d\n", r.DebtToEquity, r.DebtToEquityScore)
	_, _ = fmt.Fprintf(w, "Current ratio\t%.2f\t%d\n", r.CurrentRatio, r.CurrentRatioScore)
	_, _ = fmt.Fprintf(w, "Interest coverage\t%.2f\t%d\n", r.InterestCoverage, r.InterestCoverageScore)
	_, _ = fmt.Fprintf(w, "Net profit margin\t%.1f%%\t%d\n", r.NetProfitMargin, r.NetProfitMarginScore)
	_, _ = fmt.Fprintf(w, "Altman Z'\t%.2f (%s)\t%d\n", r.AltmanZ, r.AltmanZone, r.AltmanZScore)
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\nOverall credit score: %.1f\n", r.OverallCreditScore)
}
