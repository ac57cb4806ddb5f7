package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pik-sentinel/internal/escalation"
	"github.com/sells-group/pik-sentinel/internal/flagging"
	"github.com/sells-group/pik-sentinel/internal/report"
	"github.com/sells-group/pik-sentinel/internal/sentinel"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <ledger>",
	Short: "Flag a loan ledger and decide on hedging",
	Long:  "Loads a CSV, JSON or XLSX ledger, flags PIK loans in risky sectors, ranks them by exposure and grades the portfolio against the live policy.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("use-oracle") {
			cfg.Evaluate.UseOracle, _ = cmd.Flags().GetBool("use-oracle")
		}
		if err := cfg.Validate("evaluate"); err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		history, _ := cmd.Flags().GetString("history")
		sectors, _ := cmd.Flags().GetString("sectors")
		event, _ := cmd.Flags().GetString("event")
		riskScore, _ := cmd.Flags().GetFloat64("risk-score")
		save, _ := cmd.Flags().GetBool("save")
		output, _ := cmd.Flags().GetString("output")
		asJSON, _ := cmd.Flags().GetBool("json")
		if err := checkRiskScore(riskScore); err != nil {
			return err
		}

		opts := flagging.Options{
			LedgerPath:      args[0],
			Format:          format,
			HistoryPath:     cfg.Evaluate.HistoryPath,
			RiskySectors:    cfg.Evaluate.RiskySectors,
			CorrelatedEvent: cfg.Evaluate.CorrelatedEvent,
			UseOracle:       cfg.Evaluate.UseOracle,
		}
		if history != "" {
			opts.HistoryPath = history
		}
		if s := splitAndTrim(sectors); len(s) > 0 {
			opts.RiskySectors = s
		}
		if event != "" {
			opts.CorrelatedEvent = event
		}

		svc, runs, err := initService(ctx, save)
		if err != nil {
			return err
		}
		if runs != nil {
			defer runs.Close() //nolint:errcheck
		}

		a, err := svc.Assess(ctx, opts, riskScore, save)
		if err != nil {
			return eris.Wrap(err, "evaluate")
		}

		if output != "" {
			r := report.Report{
				GeneratedAt:  time.Now().UTC(),
				LedgerPath:   opts.LedgerPath,
				Summary:      a.Evaluation.Summary(),
				Decision:     &a.Decision,
				FlaggedLoans: a.Evaluation.RankedFlaggedLoans,
			}
			if err := report.WriteFile(output, r); err != nil {
				return eris.Wrap(err, "write report")
			}
			zap.L().Info("report written", zap.String("path", output))
		}

		if asJSON {
			return writeJSON(os.Stdout, a)
		}
		formatAssessment(os.Stdout, a)
		return nil
	},
}

func init() {
	evaluateCmd.Flags().String("format", "", "ledger format (csv, json, xlsx); inferred from the extension when empty")
	evaluateCmd.Flags().String("history", "", "historical records file for toggle detection")
	evaluateCmd.Flags().String("sectors", "", "comma-separated risky sectors (overrides evaluate.risky_sectors)")
	evaluateCmd.Flags().String("event", "", "correlated event description")
	evaluateCmd.Flags().Bool("use-oracle", false, "augment flags with oracle reasoning")
	evaluateCmd.Flags().Float64("risk-score", 0, "global risk score (0-100)")
	evaluateCmd.Flags().Bool("save", false, "record the run in the run store")
	evaluateCmd.Flags().String("output", "", "write a flagged-loan report (.csv, .xlsx or .json)")
	evaluateCmd.Flags().Bool("json", false, "print the full assessment as JSON")
	rootCmd.AddCommand(evaluateCmd)
}

// formatAssessment writes a human-readable summary of an assessment to out.
func formatAssessment(out io.Writer, a *sentinel.Assessment) {
	ev := a.Evaluation
	s := ev.Summary()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Loans evaluated:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Flagged:\t%d\n", s.Flagged)
	_, _ = fmt.Fprintf(w, "Toggles:\t%d\n", s.ToggleCount)
	_, _ = fmt.Fprintf(w, "Invalid records:\t%d\n", s.ValidationErrors)
	_, _ = fmt.Fprintf(w, "Total exposure:\t%s\n", escalation.FormatMoney(s.TotalExposure))
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", a.Decision.Status)
	_, _ = fmt.Fprintf(w, "Action:\t%s\n", a.Decision.RecommendedAction)
	_ = w.Flush()

	if len(ev.RankedFlaggedLoans) > 0 {
		_, _ = fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "RANK\tLOAN\tBORROWER\tINDUSTRY\tRISK\tEXPOSURE\tTOGGLE")
		_, _ = fmt.Fprintln(w, "----\t----\t--------\t--------\t----\t--------\t------")
		for i, l := range ev.RankedFlaggedLoans {
			toggle := ""
			if l.ToggleDetected {
				toggle = "yes"
			}
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				i+1,
				l.LoanID,
				truncate(l.Borrower, 30),
				l.Industry,
				l.RiskLevel,
				escalation.FormatMoney(l.OutstandingBalance),
				toggle,
			)
		}
		_ = w.Flush()
	}

	_, _ = fmt.Fprintln(out)
	for _, line := range a.Decision.Reasoning {
		_, _ = fmt.Fprintf(out, "  %s\n", line)
	}
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
