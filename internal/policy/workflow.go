package policy

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pik-sentinel/internal/model"
	"github.com/sells-group/pik-sentinel/internal/oracle"
	"github.com/sells-group/pik-sentinel/internal/reasoning"
)

const (
	proposeSystemPrompt = `You are a financial policy advisor. Explain why a policy change is being proposed based on observed patterns.

Be concise and focus on:
1. What pattern was detected
2. Why this change makes sense
3. Potential risks or considerations`

	distillSystemPrompt = `You are a financial policy analyst. Your job is to analyze human overrides and extract the underlying logic rule that explains WHY the human made this decision.

Focus on:
1. What pattern or condition triggered the override?
2. What general rule can be extracted?
3. How confident are you in this rule (0-100)?

Respond in this format:
RULE: <extracted rule in IF-THEN format>
CONFIDENCE: <0-100>
EXPLANATION: <brief explanation>`

	proposeTemperature = 0.4
	proposeMaxTokens   = 400
	distillTemperature = 0.3
	distillMaxTokens   = 500

	patternMinOccurrences = 2
	fallbackConfidence    = 30.0
	defaultConfidence     = 50.0
)

// Workflow proposes policy diffs from reasoning-bank evidence and applies
// them only on explicit approval.
type Workflow struct {
	store  *Store
	bank   *reasoning.Bank
	oracle oracle.Reasoner
	now    func() time.Time
}

// WorkflowOption configures a Workflow.
type WorkflowOption func(*Workflow)

// WithWorkflowClock overrides the clock used for diff and entry timestamps.
func WithWorkflowClock(now func() time.Time) WorkflowOption {
	return func(w *Workflow) { w.now = now }
}

// NewWorkflow wires the store, the bank and an oracle. A nil oracle means
// every explanation uses its template.
func NewWorkflow(store *Store, bank *reasoning.Bank, o oracle.Reasoner, opts ...WorkflowOption) *Workflow {
	if o == nil {
		o = oracle.Disabled
	}
	w := &Workflow{store: store, bank: bank, oracle: o, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ProposeUpdate builds a PolicyDiff for field without touching the policy.
// Confidence is min(50 + 15 per evidence line, 95). Rule conflicts found in
// the bank are attached to the diff but do not block it.
func (w *Workflow) ProposeUpdate(ctx context.Context, field string, newValue model.Value, reason string) (model.PolicyDiff, error) {
	acc, err := resolve(field)
	if err != nil {
		return model.PolicyDiff{}, err
	}
	cur := w.store.Current()
	if err := acc.set(&cur, newValue); err != nil {
		return model.PolicyDiff{}, err
	}
	oldValue := acc.get(w.store.Current())

	evidence := []string{}
	for _, p := range w.bank.DetectPatterns(patternMinOccurrences) {
		if p.OverrideType == acc.overrideType {
			evidence = append(evidence, fmt.Sprintf("%d overrides detected (avg change: %.2f)", p.Occurrences, p.MeanDelta))
		}
	}
	if latest, ok := w.bank.Latest(acc.overrideType); ok {
		evidence = append(evidence, "Most recent override: "+latest.Timestamp.UTC().Format("2006-01-02 15:04"))
	}
	confidence := min(50+15*float64(len(evidence)), 95)

	log := zap.L().With(zap.String("field", acc.name))
	explanation, err := w.oracle.Reason(ctx, oracle.Prompt{
		System:      proposeSystemPrompt,
		User:        proposalPrompt(acc.name, oldValue, newValue, reason, evidence),
		Temperature: proposeTemperature,
		MaxTokens:   proposeMaxTokens,
	})
	explanation = strings.TrimSpace(explanation)
	if err != nil || explanation == "" {
		if err == nil {
			err = eris.Wrap(model.ErrOracleFailure, "policy: empty explanation")
		}
		log.Warn("policy: explanation fallback", zap.Error(err))
		explanation = strings.TrimSpace(fmt.Sprintf("Proposing to change %s from %s to %s. %s", acc.name, oldValue, newValue, reason))
	}

	diff := model.PolicyDiff{
		DiffID:             "PD-" + uuid.NewString(),
		Timestamp:          w.now().UTC(),
		Field:              acc.name,
		OldValue:           oldValue,
		NewValue:           newValue,
		Explanation:        explanation,
		ConfidenceScore:    confidence,
		SupportingEvidence: evidence,
		Status:             model.DiffProposed,
	}
	if conflicts := w.bank.DetectRuleConflicts(explanation); len(conflicts) > 0 {
		for _, c := range conflicts {
			diff.Conflicts = append(diff.Conflicts, c.EntryID)
		}
		diff.SupportingEvidence = append(diff.SupportingEvidence,
			fmt.Sprintf("Potential conflict with %d existing rule(s)", len(conflicts)))
	}

	log.Info("policy: proposed update",
		zap.String("diff_id", diff.DiffID),
		zap.Stringer("new_value", newValue),
		zap.Float64("confidence", confidence),
	)
	return diff, nil
}

func proposalPrompt(field string, oldValue, newValue model.Value, reason string, evidence []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Policy Change Proposal:\nField: %s\nCurrent Value: %s\nProposed Value: %s\nReason: %s\n\nSupporting Evidence:\n",
		field, oldValue, newValue, reason)
	if len(evidence) == 0 {
		b.WriteString("- No historical evidence\n")
	}
	for _, e := range evidence {
		b.WriteString("- " + e + "\n")
	}
	b.WriteString("\nTask: Generate a clear explanation for why this policy change is being proposed.")
	return b.String()
}

// ApplyDiff records the reviewer's decision in the reasoning bank and, only
// when approved, sets the field and appends to the policy history. It
// reports whether the policy changed. A diff that is no longer proposed is
// refused with model.ErrDiffNotPending.
//
// An approval is applied before it is recorded, so a value the store refuses
// leaves no bank entry and the diff stays proposed. The recorded old value is
// the live one, which differs from the diff's when the field changed after
// the proposal. When recording fails after the change is applied, it reports
// true along with the error.
func (w *Workflow) ApplyDiff(diff *model.PolicyDiff, approver string, approved bool) (bool, error) {
	if diff == nil {
		return false, eris.Wrap(model.ErrValidation, "policy: nil diff")
	}
	if diff.Status != model.DiffProposed {
		return false, eris.Wrapf(model.ErrDiffNotPending, "policy: diff %s is %s", diff.DiffID, diff.Status)
	}
	if strings.TrimSpace(approver) == "" {
		return false, eris.Wrap(model.ErrValidation, "policy: approver is required")
	}
	acc, err := resolve(diff.Field)
	if err != nil {
		return false, err
	}

	log := zap.L().With(zap.String("diff_id", diff.DiffID), zap.String("field", acc.name), zap.String("approver", approver))
	if !approved {
		if err := w.recordDecision(diff, acc, diff.OldValue, model.DiffRejected, approver); err != nil {
			return false, err
		}
		diff.Status = model.DiffRejected
		log.Info("policy: diff rejected")
		return false, nil
	}

	applied, err := w.store.apply(model.PolicyOverride{
		OverrideID: diff.DiffID,
		Timestamp:  w.now().UTC(),
		Field:      acc.name,
		NewValue:   diff.NewValue,
		AppliedBy:  approver,
		Reason:     diff.Explanation,
	})
	if err != nil {
		return false, eris.Wrapf(err, "policy: apply diff %s", diff.DiffID)
	}
	diff.Status = model.DiffApproved
	if !applied.OldValue.Equal(diff.OldValue) {
		log.Warn("policy: field changed since proposal",
			zap.Stringer("proposed_old_value", diff.OldValue),
			zap.Stringer("live_old_value", applied.OldValue),
		)
	}
	if err := w.recordDecision(diff, acc, applied.OldValue, model.DiffApproved, approver); err != nil {
		return true, err
	}
	log.Info("policy: diff applied")
	return true, nil
}

func (w *Workflow) recordDecision(diff *model.PolicyDiff, acc accessor, oldValue model.Value, status model.DiffStatus, approver string) error {
	err := w.bank.Append(model.ReasoningBankEntry{
		EntryID:         reasoning.NewEntryID(),
		Timestamp:       w.now().UTC(),
		OverrideType:    acc.overrideType,
		OldValue:        oldValue,
		NewValue:        diff.NewValue,
		HumanRationale:  fmt.Sprintf("Policy diff %s by %s", status, approver),
		ExtractedRule:   diff.Explanation,
		ConfidenceScore: diff.ConfidenceScore,
	})
	return eris.Wrapf(err, "policy: record decision on diff %s", diff.DiffID)
}

// DistillRequest describes a human override to learn from.
type DistillRequest struct {
	OverrideType   model.OverrideType
	OldValue       model.Value
	NewValue       model.Value
	LoanContext    map[string]string
	HumanRationale string
}

// Distillation is the appended entry plus any existing entries whose rules
// look contradictory.
type Distillation struct {
	Entry     model.ReasoningBankEntry   `json:"entry"`
	Conflicts []model.ReasoningBankEntry `json:"conflicts,omitempty"`
}

// DistillOverride asks the oracle for the rule behind an override and
// appends it to the bank. When the oracle fails or names no rule, a
// templated rule at confidence 30 is recorded instead.
func (w *Workflow) DistillOverride(ctx context.Context, req DistillRequest) (Distillation, error) {
	if _, err := model.ParseOverrideType(string(req.OverrideType)); err != nil {
		return Distillation{}, err
	}
	log := zap.L().With(zap.String("override_type", string(req.OverrideType)))

	rule := fmt.Sprintf("Manual override: %s changed from %s to %s", req.OverrideType, req.OldValue, req.NewValue)
	confidence := fallbackConfidence

	out, err := w.oracle.Reason(ctx, oracle.Prompt{
		System:      distillSystemPrompt,
		User:        distillPrompt(req),
		Temperature: distillTemperature,
		MaxTokens:   distillMaxTokens,
	})
	if err == nil {
		if r, ok := oracle.Field(out, "RULE:"); ok {
			rule = r
			confidence = defaultConfidence
			if c, ok := oracle.Number(out, "CONFIDENCE:"); ok {
				confidence = max(0, min(100, c))
			}
		} else {
			err = eris.Wrap(model.ErrOracleFailure, "policy: no RULE marker")
		}
	}
	if err != nil {
		log.Warn("policy: distillation fallback", zap.Error(err))
	}

	conflicts := w.bank.DetectRuleConflicts(rule)
	entry := model.ReasoningBankEntry{
		EntryID:         reasoning.NewEntryID(),
		Timestamp:       w.now().UTC(),
		OverrideType:    req.OverrideType,
		OldValue:        req.OldValue,
		NewValue:        req.NewValue,
		HumanRationale:  req.HumanRationale,
		ExtractedRule:   rule,
		ConfidenceScore: confidence,
		LoanContext:     req.LoanContext,
	}
	if err := w.bank.Append(entry); err != nil {
		return Distillation{}, eris.Wrap(err, "policy: record distilled rule")
	}
	log.Info("policy: distilled rule",
		zap.String("entry_id", entry.EntryID),
		zap.Float64("confidence", confidence),
		zap.Int("conflicts", len(conflicts)),
	)
	return Distillation{Entry: entry, Conflicts: conflicts}, nil
}

func distillPrompt(req DistillRequest) string {
	change := "N/A"
	if d, ok := model.NumericDelta(req.OldValue, req.NewValue); ok {
		change = model.Number(d).String()
	}
	rationale := req.HumanRationale
	if rationale == "" {
		rationale = "No explicit rationale provided"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "A user manually changed a %s value:\n- Old Value: %s\n- New Value: %s\n- Change: %s\n\nContext:\n",
		req.OverrideType, req.OldValue, req.NewValue, change)
	for _, k := range slices.Sorted(maps.Keys(req.LoanContext)) {
		fmt.Fprintf(&b, "- %s: %s\n", k, req.LoanContext[k])
	}
	fmt.Fprintf(&b, "\nHuman Rationale: %s\n\nTask: Extract the underlying logic rule that explains this override.", rationale)
	return b.String()
}
