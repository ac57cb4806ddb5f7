package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// OverrideType classifies what a human override changed.
type OverrideType string

const (
	OverrideRiskScore       OverrideType = "risk_score"
	OverrideThreshold       OverrideType = "threshold"
	OverrideRiskThreshold   OverrideType = "risk_threshold"
	OverrideSectorWeight    OverrideType = "sector_weight"
	OverrideHedgePercentage OverrideType = "hedge_percentage"
	OverrideCustomRule      OverrideType = "custom_rule"
)

// OverrideTypes lists every accepted override type.
var OverrideTypes = []OverrideType{
	OverrideRiskScore, OverrideThreshold, OverrideRiskThreshold,
	OverrideSectorWeight, OverrideHedgePercentage, OverrideCustomRule,
}

// ParseOverrideType validates s against OverrideTypes.
func ParseOverrideType(s string) (OverrideType, error) {
	for _, t := range OverrideTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", eris.Wrapf(ErrValidation, "unknown override type %q", s)
}

// ReasoningBankEntry records one human override. Entries are never edited or
// removed once appended.
type ReasoningBankEntry struct {
	EntryID         string            `json:"entry_id"`
	Timestamp       time.Time         `json:"timestamp"`
	OverrideType    OverrideType      `json:"override_type"`
	OldValue        Value             `json:"old_value"`
	NewValue        Value             `json:"new_value"`
	HumanRationale  string            `json:"human_rationale,omitempty"`
	ExtractedRule   string            `json:"extracted_rule,omitempty"`
	ConfidenceScore float64           `json:"confidence_score"`
	LoanContext     map[string]string `json:"loan_context,omitempty"`
}

// Validate checks the entry before it is appended.
func (e ReasoningBankEntry) Validate() error {
	var problems []string
	if strings.TrimSpace(e.EntryID) == "" {
		problems = append(problems, "entry_id is required")
	}
	if e.Timestamp.IsZero() {
		problems = append(problems, "timestamp is required")
	}
	if _, err := ParseOverrideType(string(e.OverrideType)); err != nil {
		problems = append(problems, err.Error())
	}
	if e.ConfidenceScore < 0 || e.ConfidenceScore > 100 {
		problems = append(problems, "confidence_score must be within [0,100]")
	}
	if len(problems) > 0 {
		return eris.Wrap(ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// Pattern is a group of same-type numeric overrides with their mean change.
type Pattern struct {
	OverrideType OverrideType         `json:"override_type"`
	Occurrences  int                  `json:"occurrences"`
	MeanDelta    float64              `json:"average_change"`
	Entries      []ReasoningBankEntry `json:"entries"`
}
