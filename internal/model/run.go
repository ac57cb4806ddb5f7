package model

import "time"

// RunStatus is the outcome of a saved evaluation run.
type RunStatus string

const (
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunSummary holds the headline numbers of one portfolio evaluation.
type RunSummary struct {
	Total            int     `json:"total"`
	Flagged          int     `json:"flagged"`
	ToggleCount      int     `json:"toggle_count"`
	ValidationErrors int     `json:"validation_errors"`
	TotalExposure    float64 `json:"total_exposure"`
}

// EvaluationRun is a persisted record of evaluate + decide over one ledger.
type EvaluationRun struct {
	ID         string              `json:"id"`
	LedgerPath string              `json:"ledger_path"`
	RiskScore  float64             `json:"risk_score"`
	Status     RunStatus           `json:"status"`
	Summary    RunSummary          `json:"summary"`
	Decision   *EscalationDecision `json:"decision,omitempty"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}
