package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pik-sentinel/internal/model"
	"github.com/sells-group/pik-sentinel/internal/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and change the live escalation policy",
	Long:  "Commands for viewing the policy, proposing evidence-backed changes, reviewing proposals and applying privileged overrides.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("policy")
	},
}

// -- policy show --

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current policy and its change history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ps, err := initPolicy()
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, struct {
				Config  model.PolicyConfig     `json:"config"`
				History []model.PolicyOverride `json:"history"`
			}{ps.Current(), ps.History()})
		}
		formatPolicy(os.Stdout, ps.Current())
		if history := ps.History(); len(history) > 0 {
			_, _ = fmt.Fprintln(os.Stdout)
			formatHistory(os.Stdout, history)
		}
		return nil
	},
}

// -- policy propose --

var policyProposeCmd = &cobra.Command{
	Use:   "propose <field> <value>",
	Short: "Draft a policy diff for review; the policy is not changed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		out, _ := cmd.Flags().GetString("out")

		svc, _, err := initService(cmd.Context(), false)
		if err != nil {
			return err
		}
		diff, err := svc.ProposeUpdate(cmd.Context(), args[0], model.ParseValue(args[1]), reason)
		if err != nil {
			return eris.Wrap(err, "policy propose")
		}
		if out == "" {
			return writeJSON(os.Stdout, diff)
		}
		return writeDiff(out, diff)
	},
}

// -- policy apply --

var policyApplyCmd = &cobra.Command{
	Use:   "apply <diff.json>",
	Short: "Approve or reject a proposed diff",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approver, _ := cmd.Flags().GetString("approver")
		reject, _ := cmd.Flags().GetBool("reject")

		diff, err := readDiff(args[0])
		if err != nil {
			return err
		}
		svc, _, err := initService(cmd.Context(), false)
		if err != nil {
			return err
		}
		applied, err := svc.ApplyDiff(&diff, approver, !reject)
		if err != nil {
			return eris.Wrap(err, "policy apply")
		}
		if err := writeDiff(args[0], diff); err != nil {
			return err
		}
		if applied {
			fmt.Fprintf(os.Stderr, "Applied %s: %s = %s\n", diff.DiffID, diff.Field, diff.NewValue)
		} else {
			fmt.Fprintf(os.Stderr, "Rejected %s\n", diff.DiffID)
		}
		return nil
	},
}

// -- policy override --

var policyOverrideCmd = &cobra.Command{
	Use:   "override <field> <value>",
	Short: "Apply a change directly, bypassing review",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		by, _ := cmd.Flags().GetString("by")
		reason, _ := cmd.Flags().GetString("reason")

		ps, err := initPolicy()
		if err != nil {
			return err
		}
		o, err := ps.ApplyOverride(model.PolicyOverride{
			Field:     args[0],
			NewValue:  model.ParseValue(args[1]),
			AppliedBy: by,
			Reason:    reason,
		})
		if err != nil {
			return eris.Wrap(err, "policy override")
		}
		return writeJSON(os.Stdout, o)
	},
}

// -- policy init --

var policyInitCmd = &cobra.Command{
	Use:   "init <seed.yaml>",
	Short: "Write a policy seed file",
	Long:  "Writes the default policy (or the current one with --current) as a YAML seed for data.policy_seed_path.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		current, _ := cmd.Flags().GetBool("current")
		force, _ := cmd.Flags().GetBool("force")

		if _, err := os.Stat(args[0]); err == nil && !force {
			return eris.Errorf("policy init: %s exists (use --force to overwrite)", args[0])
		}

		seed := model.DefaultPolicyConfig()
		if current {
			ps, err := initPolicy()
			if err != nil {
				return err
			}
			seed = ps.Current()
		}
		if err := policy.WriteSeed(args[0], seed); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %s\n", args[0])
		return nil
	},
}

func init() {
	policyShowCmd.Flags().Bool("json", false, "print policy and history as JSON")

	policyProposeCmd.Flags().String("reason", "", "why the change is proposed")
	policyProposeCmd.Flags().String("out", "", "write the diff to this file instead of stdout")

	policyApplyCmd.Flags().String("approver", "", "who reviewed the diff")
	policyApplyCmd.Flags().Bool("reject", false, "reject instead of approve")
	_ = policyApplyCmd.MarkFlagRequired("approver")

	policyOverrideCmd.Flags().String("by", "", "who is applying the override")
	policyOverrideCmd.Flags().String("reason", "", "why the override is applied")
	_ = policyOverrideCmd.MarkFlagRequired("by")

	policyInitCmd.Flags().Bool("current", false, "write the current policy instead of the defaults")
	policyInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyProposeCmd)
	policyCmd.AddCommand(policyApplyCmd)
	policyCmd.AddCommand(policyOverrideCmd)
	policyCmd.AddCommand(policyInitCmd)
	rootCmd.AddCommand(policyCmd)
}

func readDiff(path string) (model.PolicyDiff, error) {
	var d model.PolicyDiff
	data, err := os.ReadFile(path)
	if err != nil {
		return d, eris.Wrap(err, "policy: read diff")
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return d, eris.Wrap(model.ErrValidation, "policy: decode diff: "+err.Error())
	}
	return d, nil
}

func writeDiff(path string, d model.PolicyDiff) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return eris.Wrap(err, "policy: encode diff")
	}
	return eris.Wrap(os.WriteFile(path, append(data, '\n'), 0o644), "policy: write diff")
}

// formatPolicy writes the policy parameters to w, hedge sectors sorted.
func formatPolicy(out io.Writer, p model.PolicyConfig) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "%s:\t%.1f\n", policy.FieldRiskThreshold, p.RiskThreshold)
	_, _ = fmt.Fprintf(w, "%s:\t%.2f\n", policy.FieldPIKExposureLimit, p.PIKExposureLimit)
	_, _ = fmt.Fprintf(w, "%s:\t%t\n", policy.FieldAutoExecute, p.AutoExecuteEnabled)
	sectors := make([]string, 0, len(p.HedgePercentages))
	for s := range p.HedgePercentages {
		sectors = append(sectors, s)
	}
	slices.Sort(sectors)
	for _, s := range sectors {
		_, _ = fmt.Fprintf(w, "hedge_percentages.%s:\t%.1f%%\n", s, p.HedgePercentages[s])
	}
	_, _ = fmt.Fprintf(w, "%s:\t%s\n", policy.FieldCustomRules, strings.Join(p.CustomRules, "; "))
	_ = w.Flush()
}

func formatHistory(out io.Writer, history []model.PolicyOverride) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFIELD\tOLD\tNEW\tBY\tAPPLIED")
	_, _ = fmt.Fprintln(w, "--\t-----\t---\t---\t--\t-------")
	for _, o := range history {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			o.OverrideID,
			o.Field,
			o.OldValue,
			o.NewValue,
			o.AppliedBy,
			o.Timestamp.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
