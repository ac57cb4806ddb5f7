// Package flagging detects payment-type toggles, flags distressed loans and
// ranks them by exposure.
package flagging

import (
	"fmt"
	"time"

	"github.com/sells-group/pik-sentinel/internal/model"
)

// Balance cut-offs of the risk bands.
const (
	criticalBalance = 10_000_000
	highBalance     = 5_000_000
	mediumBalance   = 1_000_000
)

// RiskLevelForBalance bands an outstanding balance.
func RiskLevelForBalance(balance float64) model.RiskLevel {
	switch {
	case balance >= criticalBalance:
		return model.RiskCritical
	case balance >= highBalance:
		return model.RiskHigh
	case balance >= mediumBalance:
		return model.RiskMedium
	}
	return model.RiskLow
}

// ConfidenceForLevel is the deterministic confidence attached to a banded
// risk level.
func ConfidenceForLevel(level model.RiskLevel) float64 {
	switch level {
	case model.RiskCritical:
		return 90
	case model.RiskHigh:
		return 75
	case model.RiskMedium:
		return 60
	}
	return 50
}

// MatchesRule reports the rule-based condition: PIK in a risky sector.
func MatchesRule(loan model.LoanRecord, sectors SectorSet) bool {
	return loan.PaymentType == model.PaymentInKind && sectors.Contains(loan.Industry)
}

// FlagRuleBased flags every loan matching the PIK-in-risky-sector rule.
// toggles, when non-nil, annotates the flags with detected toggles.
func FlagRuleBased(loans []model.LoanRecord, sectors SectorSet, event string, toggles map[string]ToggleResult, now time.Time) []model.FlaggedLoan {
	var out []model.FlaggedLoan
	for _, loan := range loans {
		if !MatchesRule(loan, sectors) {
			continue
		}
		level := RiskLevelForBalance(loan.OutstandingBalance)
		fl := model.FlaggedLoan{
			LoanRecord:      loan,
			FlagReason:      fmt.Sprintf("PIK loan in high-risk sector (%s)", loan.Industry),
			RiskLevel:       level,
			CorrelatedEvent: event,
			FlaggedAt:       now,
			ConfidenceScore: ConfidenceForLevel(level),
		}
		if tr, ok := toggles[loan.LoanID]; ok && tr.Detected {
			fl.ToggleDetected = true
			fl.PreviousPaymentType = tr.Previous
		}
		out = append(out, fl)
	}
	return out
}
