package model

import "time"

// EscalationStatus is the graded outcome of a risk evaluation.
type EscalationStatus string

const (
	StatusNormal   EscalationStatus = "normal"
	StatusElevated EscalationStatus = "elevated"
	StatusCritical EscalationStatus = "critical"
)

// EscalationDecision is recomputed on every evaluation and never persisted by
// the decision engine itself.
type EscalationDecision struct {
	Status            EscalationStatus `json:"status"`
	RecommendedAction string           `json:"recommended_action"`
	HedgePercentage   float64          `json:"hedge_percentage"`
	AutoExecute       bool             `json:"auto_execute"`
	AffectedLoans     []FlaggedLoan    `json:"affected_loans"`
	Reasoning         []string         `json:"reasoning"`
}

// AlertSeverity mirrors the escalation status for notification consumers.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is the notification-ready summary of a decision.
type Alert struct {
	AlertID          string        `json:"alert_id"`
	Timestamp        time.Time     `json:"timestamp"`
	Severity         AlertSeverity `json:"severity"`
	Title            string        `json:"title"`
	Message          string        `json:"message"`
	ActionRequired   bool          `json:"action_required"`
	RecommendedHedge float64       `json:"recommended_hedge"`
}
