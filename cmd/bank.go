package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pik-sentinel/internal/model"
	"github.com/sells-group/pik-sentinel/internal/policy"
)

var bankCmd = &cobra.Command{
	Use:   "bank",
	Short: "Inspect and extend the reasoning bank",
	Long:  "Commands for listing recorded overrides, detecting recurring patterns and rule conflicts, and distilling new overrides into rules.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("policy")
	},
}

// -- bank list --

var bankListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent overrides, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		b, err := initBank()
		if err != nil {
			return err
		}
		typ, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		entries := b.Recent(b.Len())
		if typ != "" {
			t, err := model.ParseOverrideType(typ)
			if err != nil {
				return err
			}
			entries = filterType(entries, t)
		}
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No entries found.")
			return nil
		}
		formatEntries(os.Stdout, entries)
		return nil
	},
}

// -- bank patterns --

var bankPatternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Show recurring numeric override patterns",
	RunE: func(cmd *cobra.Command, _ []string) error {
		b, err := initBank()
		if err != nil {
			return err
		}
		minOcc, _ := cmd.Flags().GetInt("min")
		patterns := b.DetectPatterns(minOcc)
		if len(patterns) == 0 {
			fmt.Fprintln(os.Stderr, "No patterns found.")
			return nil
		}
		formatPatterns(os.Stdout, patterns)
		return nil
	},
}

// -- bank conflicts --

var bankConflictsCmd = &cobra.Command{
	Use:   "conflicts <rule>",
	Short: "List recorded rules that may contradict a candidate rule",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := initBank()
		if err != nil {
			return err
		}
		conflicts := b.DetectRuleConflicts(strings.Join(args, " "))
		if len(conflicts) == 0 {
			fmt.Fprintln(os.Stderr, "No conflicts found.")
			return nil
		}
		formatEntries(os.Stdout, conflicts)
		return nil
	},
}

// -- bank distill --

var bankDistillCmd = &cobra.Command{
	Use:   "distill",
	Short: "Record a human override and distill it into a rule",
	RunE: func(cmd *cobra.Command, _ []string) error {
		typ, _ := cmd.Flags().GetString("type")
		oldV, _ := cmd.Flags().GetString("old")
		newV, _ := cmd.Flags().GetString("new")
		rationale, _ := cmd.Flags().GetString("rationale")
		pairs, _ := cmd.Flags().GetStringSlice("context")

		t, err := model.ParseOverrideType(typ)
		if err != nil {
			return err
		}
		loanCtx, err := parseContext(pairs)
		if err != nil {
			return err
		}

		svc, _, err := initService(cmd.Context(), false)
		if err != nil {
			return err
		}
		d, err := svc.DistillOverride(cmd.Context(), policy.DistillRequest{
			OverrideType:   t,
			OldValue:       model.ParseValue(oldV),
			NewValue:       model.ParseValue(newV),
			LoanContext:    loanCtx,
			HumanRationale: rationale,
		})
		if err != nil {
			return eris.Wrap(err, "bank distill")
		}
		return writeJSON(os.Stdout, d)
	},
}

func init() {
	bankListCmd.Flags().String("type", "", "filter by override type")
	bankListCmd.Flags().Int("limit", 20, "max number of entries to display")

	bankPatternsCmd.Flags().Int("min", 2, "minimum occurrences per pattern")

	bankDistillCmd.Flags().String("type", "", "override type (risk_score, threshold, risk_threshold, sector_weight, hedge_percentage, custom_rule)")
	bankDistillCmd.Flags().String("old", "", "value before the override")
	bankDistillCmd.Flags().String("new", "", "value after the override")
	bankDistillCmd.Flags().String("rationale", "", "why the override was made")
	bankDistillCmd.Flags().StringSlice("context", nil, "loan context as key=value (repeatable)")
	_ = bankDistillCmd.MarkFlagRequired("type")
	_ = bankDistillCmd.MarkFlagRequired("new")

	bankCmd.AddCommand(bankListCmd)
	bankCmd.AddCommand(bankPatternsCmd)
	bankCmd.AddCommand(bankConflictsCmd)
	bankCmd.AddCommand(bankDistillCmd)
	rootCmd.AddCommand(bankCmd)
}

func filterType(entries []model.ReasoningBankEntry, t model.OverrideType) []model.ReasoningBankEntry {
	var out []model.ReasoningBankEntry
	for _, e := range entries {
		if e.OverrideType == t {
			out = append(out, e)
		}
	}
	return out
}

// parseContext turns key=value pairs into a loan context map.
func parseContext(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, eris.Wrapf(model.ErrValidation, "context %q must be key=value", p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// formatEntries writes a tabular list of bank entries to w.
func formatEntries(out io.Writer, entries []model.ReasoningBankEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tOLD\tNEW\tCONF\tRECORDED\tRULE")
	_, _ = fmt.Fprintln(w, "--\t----\t---\t---\t----\t--------\t----")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f\t%s\t%s\n",
			truncateID(strings.TrimPrefix(e.EntryID, "RB-")),
			e.OverrideType,
			e.OldValue,
			e.NewValue,
			e.ConfidenceScore,
			e.Timestamp.Format("2006-01-02 15:04"),
			truncate(e.ExtractedRule, 60),
		)
	}
	_ = w.Flush()
}

func formatPatterns(out io.Writer, patterns []model.Pattern) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TYPE\tOCCURRENCES\tAVG_CHANGE")
	_, _ = fmt.Fprintln(w, "----\t-----------\t----------")
	for _, p := range patterns {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%+.2f\n", p.OverrideType, p.Occurrences, p.MeanDelta)
	}
	_ = w.Flush()
}
