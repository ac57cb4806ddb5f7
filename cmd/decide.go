package main

import (
	"bytes"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pik-sentinel/internal/escalation"
	"github.com/sells-group/pik-sentinel/internal/model"
)

var decideCmd = &cobra.Command{
	Use:   "decide <flagged.json>",
	Short: "Grade a risk score and flagged loans into an escalation decision",
	Long:  "Reads flagged loans (a JSON array, a JSON report or an evaluate --json assessment) and prints the escalation decision and alert under the live policy.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("policy"); err != nil {
			return err
		}
		riskScore, _ := cmd.Flags().GetFloat64("risk-score")
		if err := checkRiskScore(riskScore); err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "decide: read flagged loans")
		}
		flagged, err := parseFlagged(data)
		if err != nil {
			return err
		}

		ps, err := initPolicy()
		if err != nil {
			return err
		}
		d := escalation.NewEngine(ps).EvaluateRisk(riskScore, flagged)

		return writeJSON(os.Stdout, struct {
			Decision model.EscalationDecision `json:"decision"`
			Alert    model.Alert              `json:"alert"`
		}{d, escalation.GenerateAlert(d, time.Now())})
	},
}

func init() {
	decideCmd.Flags().Float64("risk-score", 0, "global risk score (0-100)")
	rootCmd.AddCommand(decideCmd)
}

// parseFlagged accepts a bare array of flagged loans or an object carrying
// them under ranked_flagged_loans, either at the top level or under
// evaluation.
func parseFlagged(data []byte) ([]model.FlaggedLoan, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var loans []model.FlaggedLoan
		if err := json.Unmarshal(data, &loans); err != nil {
			return nil, eris.Wrap(model.ErrValidation, "decide: decode flagged loans: "+err.Error())
		}
		return loans, nil
	}

	var doc struct {
		Loans      []model.FlaggedLoan `json:"ranked_flagged_loans"`
		Evaluation *struct {
			Loans []model.FlaggedLoan `json:"ranked_flagged_loans"`
		} `json:"evaluation"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(model.ErrValidation, "decide: decode flagged loans: "+err.Error())
	}
	if doc.Evaluation != nil && len(doc.Loans) == 0 {
		return doc.Evaluation.Loans, nil
	}
	return doc.Loans, nil
}
