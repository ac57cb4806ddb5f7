package model

import "time"

// RiskLevel grades a flagged loan.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ParseRiskLevel returns the risk level named by s, or false.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return RiskLevel(s), true
	}
	return "", false
}

// ReasoningStep is one entry of a flagged loan's audit trace.
type ReasoningStep struct {
	Step        int       `json:"step"`
	Action      string    `json:"action"`
	Observation string    `json:"observation"`
	Reasoning   string    `json:"reasoning"`
	Timestamp   time.Time `json:"timestamp"`
}

// FlaggedLoan is a loan surfaced by the flagging engine together with the
// evidence behind it. It is built once per evaluation and only reordered.
type FlaggedLoan struct {
	LoanRecord

	FlagReason          string          `json:"flag_reason"`
	RiskLevel           RiskLevel       `json:"risk_level"`
	CorrelatedEvent     string          `json:"correlated_event"`
	FlaggedAt           time.Time       `json:"flagged_at"`
	ConfidenceScore     float64         `json:"confidence_score"`
	ToggleDetected      bool            `json:"pik_toggle_detected"`
	PreviousPaymentType *PaymentType    `json:"previous_interest_type,omitempty"`
	ReasoningTrace      []ReasoningStep `json:"agent_reasoning,omitempty"`
}
