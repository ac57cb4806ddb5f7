// Package escalation turns a global risk score and a set of flagged loans
// into a graded hedging decision.
package escalation

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/pik-sentinel/internal/model"
)

// Fixed hedge sizes outside the critical branch, and the fallback for a
// sector missing from the policy map.
const (
	ElevatedHedgePct      = 5.0
	DefaultSectorHedgePct = 10.0
)

// Recommended actions per status.
const (
	ActionMonitor  = "Monitor closely, prepare for potential hedge"
	ActionContinue = "Continue normal operations"
)

var money = message.NewPrinter(language.English)

// FormatMoney renders an amount as "$12,500,000.00".
func FormatMoney(v float64) string {
	return money.Sprintf("$%.2f", v)
}

// PolicySource supplies the live policy. *policy.Store satisfies it.
type PolicySource interface {
	Current() model.PolicyConfig
}

// Engine evaluates risk against the live policy. It keeps no decision state.
type Engine struct {
	policy PolicySource
}

// NewEngine returns an Engine reading thresholds from p.
func NewEngine(p PolicySource) *Engine {
	return &Engine{policy: p}
}

// EvaluateRisk decides against the current policy.
func (e *Engine) EvaluateRisk(riskScore float64, flagged []model.FlaggedLoan) model.EscalationDecision {
	return Decide(riskScore, flagged, e.policy.Current())
}

// Decide is the three-state escalation rule:
// critical when the score exceeds the threshold and loans are flagged,
// normal when neither holds, elevated otherwise.
func Decide(riskScore float64, flagged []model.FlaggedLoan, policy model.PolicyConfig) model.EscalationDecision {
	exceeded := riskScore > policy.RiskThreshold
	hasFlagged := len(flagged) > 0

	cmp := "<="
	if exceeded {
		cmp = ">"
	}
	var exposure float64
	for _, f := range flagged {
		exposure += f.OutstandingBalance
	}

	reasoning := []string{
		fmt.Sprintf("Global risk score: %.1f %s threshold %.1f", riskScore, cmp, policy.RiskThreshold),
		fmt.Sprintf("Flagged loans: %d", len(flagged)),
		fmt.Sprintf("Total exposure: %s", FormatMoney(exposure)),
	}
	if policy.PIKExposureLimit > 0 && exposure > policy.PIKExposureLimit {
		reasoning = append(reasoning, fmt.Sprintf("PIK exposure %s exceeds limit %s",
			FormatMoney(exposure), FormatMoney(policy.PIKExposureLimit)))
	}

	d := model.EscalationDecision{
		AffectedLoans: flagged,
	}
	if d.AffectedLoans == nil {
		d.AffectedLoans = []model.FlaggedLoan{}
	}

	switch {
	case exceeded && hasFlagged:
		d.Status = model.StatusCritical
		d.HedgePercentage = sectorHedge(flagged, policy.HedgePercentages)
		d.RecommendedAction = fmt.Sprintf("Execute %.0f%% hedge immediately", d.HedgePercentage)
		d.AutoExecute = policy.AutoExecuteEnabled
		reasoning = append(reasoning, "CRITICAL: Risk threshold exceeded AND loans flagged")
	case exceeded || hasFlagged:
		d.Status = model.StatusElevated
		d.HedgePercentage = ElevatedHedgePct
		d.RecommendedAction = ActionMonitor
		reasoning = append(reasoning, "ELEVATED: One condition met, monitoring required")
	default:
		d.Status = model.StatusNormal
		d.RecommendedAction = ActionContinue
		reasoning = append(reasoning, "NORMAL: No immediate action required")
	}
	d.Reasoning = reasoning
	return d
}

// sectorHedge is the largest configured hedge across the flagged sectors.
// Sectors match the way flagging matches them.
func sectorHedge(flagged []model.FlaggedLoan, pcts map[string]float64) float64 {
	byKey, _ := model.NormalizeSectors(pcts)
	best := 0.0
	for _, f := range flagged {
		pct, ok := byKey[model.SectorKey(f.Industry)]
		if !ok {
			pct = DefaultSectorHedgePct
		}
		if pct > best {
			best = pct
		}
	}
	return best
}
