package model

import "time"

// PolicyConfig is the single set of live decision thresholds.
type PolicyConfig struct {
	RiskThreshold      float64            `json:"risk_threshold" yaml:"risk_threshold"`
	PIKExposureLimit   float64            `json:"pik_exposure_limit" yaml:"pik_exposure_limit"`
	AutoExecuteEnabled bool               `json:"auto_execute_enabled" yaml:"auto_execute_enabled"`
	HedgePercentages   map[string]float64 `json:"hedge_percentages" yaml:"hedge_percentages"`
	CustomRules        []string           `json:"custom_rules" yaml:"custom_rules"`
}

// DefaultPolicyConfig returns the policy used when nothing is persisted yet.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		RiskThreshold:    70,
		PIKExposureLimit: 5_000_000,
		HedgePercentages: map[string]float64{
			"energy":    15,
			"currency":  20,
			"sovereign": 25,
		},
		CustomRules: []string{},
	}
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (p PolicyConfig) Clone() PolicyConfig {
	out := p
	out.HedgePercentages = make(map[string]float64, len(p.HedgePercentages))
	for k, v := range p.HedgePercentages {
		out.HedgePercentages[k] = v
	}
	out.CustomRules = append([]string{}, p.CustomRules...)
	return out
}

// PolicyOverride is one applied change in the policy history.
type PolicyOverride struct {
	OverrideID string    `json:"override_id"`
	Timestamp  time.Time `json:"timestamp"`
	Field      string    `json:"field"`
	OldValue   Value     `json:"old_value"`
	NewValue   Value     `json:"new_value"`
	AppliedBy  string    `json:"applied_by"`
	Reason     string    `json:"reason,omitempty"`
}

// DiffStatus tracks a PolicyDiff through review.
type DiffStatus string

const (
	DiffProposed DiffStatus = "proposed"
	DiffApproved DiffStatus = "approved"
	DiffRejected DiffStatus = "rejected"
)

// PolicyDiff is a proposed change awaiting human approval.
type PolicyDiff struct {
	DiffID             string     `json:"diff_id"`
	Timestamp          time.Time  `json:"timestamp"`
	Field              string     `json:"field"`
	OldValue           Value      `json:"old_value"`
	NewValue           Value      `json:"new_value"`
	Explanation        string     `json:"explanation"`
	ConfidenceScore    float64    `json:"confidence_score"`
	SupportingEvidence []string   `json:"supporting_evidence"`
	Conflicts          []string   `json:"conflicts,omitempty"`
	Status             DiffStatus `json:"status"`
}
