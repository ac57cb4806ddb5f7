package flagging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pik-sentinel/internal/model"
	"github.com/sells-group/pik-sentinel/internal/oracle"
)

// Actions recorded in the reasoning trace, in protocol order.
const (
	ActionAnalyzePaymentType = "analyze_payment_type"
	ActionCrossReference     = "cross_reference_history"
	ActionFlagDecision       = "flag_decision"
	ActionAssessRisk         = "assess_risk"
)

const analystSystemPrompt = `You are a forensic credit analyst hunting for shadow defaults in a private credit portfolio.
A shift from cash interest to payment-in-kind (PIK) is a distress signal. Answer tersely using the exact
markers requested; do not add markers that were not requested.`

const (
	stepTemperature = 0.3
	stepMaxTokens   = 300
)

// subject is everything the protocol knows about one loan.
type subject struct {
	loan   model.LoanRecord
	toggle ToggleResult
	risky  bool
	event  string
}

// decision is the parsed output of step 3.
type decision struct {
	flag      bool
	rationale string
}

// assessment is the parsed output of step 4.
type assessment struct {
	level      model.RiskLevel
	confidence float64
}

// Fallbacks used when the oracle fails or its answer lacks the markers. They
// are pure functions of the subject so the degraded behavior is testable on
// its own.
func fallbackPaymentAnalysis(s subject) string {
	switch s.loan.PaymentType {
	case model.PaymentInKind:
		return fmt.Sprintf("Interest on %s is paid in kind; principal grows while the borrower conserves cash.", s.loan.LoanID)
	case model.PaymentHybrid:
		return fmt.Sprintf("Interest on %s is partly paid in kind.", s.loan.LoanID)
	}
	return fmt.Sprintf("Interest on %s is paid in cash.", s.loan.LoanID)
}

func fallbackPattern(s subject) string {
	if s.toggle.Detected && s.toggle.Previous != nil {
		return fmt.Sprintf("Toggled from %s to PIK across %d historical records.", *s.toggle.Previous, len(s.toggle.History))
	}
	if len(s.toggle.History) == 0 {
		return "No payment history on file."
	}
	return fmt.Sprintf("No toggle across %d historical records.", len(s.toggle.History))
}

func fallbackDecision(s subject) decision {
	return decision{
		flag:      s.toggle.Detected && s.risky,
		rationale: ruleReason(s),
	}
}

func fallbackAssessment(s subject) assessment {
	level := RiskLevelForBalance(s.loan.OutstandingBalance)
	return assessment{level: level, confidence: ConfidenceForLevel(level)}
}

func ruleReason(s subject) string {
	switch {
	case s.toggle.Detected && s.toggle.Previous != nil && s.risky:
		return fmt.Sprintf("PIK toggle detected (%s to PIK) in high-risk sector (%s)", *s.toggle.Previous, s.loan.Industry)
	case s.toggle.Detected && s.toggle.Previous != nil:
		return fmt.Sprintf("PIK toggle detected (%s to PIK)", *s.toggle.Previous)
	case s.risky:
		return fmt.Sprintf("PIK loan in high-risk sector (%s)", s.loan.Industry)
	}
	return "No distress signal"
}

func parseText(marker string) func(string) (string, error) {
	return func(out string) (string, error) {
		v, ok := oracle.Field(out, marker)
		if !ok {
			return "", eris.Errorf("missing %s", marker)
		}
		return v, nil
	}
}

func parseDecision(out string) (decision, error) {
	v, ok := oracle.Field(out, "DECISION:")
	if !ok {
		return decision{}, eris.New("missing DECISION:")
	}
	var d decision
	switch strings.ToUpper(strings.ReplaceAll(firstWord(v), "-", "_")) {
	case "FLAG":
		d.flag = true
	case "NO_FLAG", "NOFLAG", "NO":
	default:
		return decision{}, eris.Errorf("unrecognized decision %q", v)
	}
	d.rationale, _ = oracle.Field(out, "RATIONALE:")
	return d, nil
}

func parseAssessment(out string) (assessment, error) {
	v, ok := oracle.Field(out, "RISK_LEVEL:")
	if !ok {
		return assessment{}, eris.New("missing RISK_LEVEL:")
	}
	level, ok := model.ParseRiskLevel(strings.ToLower(firstWord(v)))
	if !ok {
		return assessment{}, eris.Errorf("unrecognized risk level %q", v)
	}
	conf, ok := oracle.Number(out, "CONFIDENCE:")
	if !ok || conf < 0 || conf > 100 {
		return assessment{}, eris.New("missing or out-of-range CONFIDENCE:")
	}
	return assessment{level: level, confidence: conf}, nil
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], ".,;:!*")
}

// step runs one oracle call and parses it, returning the fallback when either
// fails. The trace entry records which path was taken.
func step[T any](
	ctx context.Context,
	a *Analyst,
	trace *[]model.ReasoningStep,
	n int,
	action, observation, prompt string,
	parse func(string) (T, error),
	fallback func() T,
	describe func(T) string,
) T {
	log := zap.L().With(zap.Int("step", n), zap.String("action", action))
	out, err := a.oracle.Reason(ctx, oracle.Prompt{
		System:      analystSystemPrompt,
		User:        prompt,
		Temperature: stepTemperature,
		MaxTokens:   stepMaxTokens,
	})
	var (
		val       T
		reasoning string
	)
	if err == nil {
		val, err = parse(out)
		reasoning = out
	}
	if err != nil {
		val = fallback()
		reasoning = fmt.Sprintf("Deterministic fallback (%s): %s", err.Error(), describe(val))
		log.Warn("flagging: oracle step fell back", zap.Error(err))
	}
	*trace = append(*trace, model.ReasoningStep{
		Step:        n,
		Action:      action,
		Observation: observation,
		Reasoning:   reasoning,
		Timestamp:   a.now(),
	})
	return val
}

func identity(s string) string { return s }

// Analyst runs the four-step evidence protocol for loans that meet the rule
// or show a toggle.
type Analyst struct {
	oracle oracle.Reasoner
	now    func() time.Time
}

// NewAnalyst returns an Analyst. A nil oracle behaves as oracle.Disabled.
func NewAnalyst(o oracle.Reasoner) *Analyst {
	if o == nil {
		o = oracle.Disabled
	}
	return &Analyst{oracle: o, now: func() time.Time { return time.Now().UTC() }}
}

// Analysis is the protocol outcome. Flagged is nil when step 3 declined.
type Analysis struct {
	Flagged *model.FlaggedLoan
	Trace   []model.ReasoningStep
}

// Analyze runs the protocol for one loan. It never fails: every oracle
// problem degrades to the step's fallback.
func (a *Analyst) Analyze(ctx context.Context, loan model.LoanRecord, toggle ToggleResult, sectors SectorSet, event string) Analysis {
	s := subject{loan: loan, toggle: toggle, risky: sectors.Contains(loan.Industry), event: event}
	var trace []model.ReasoningStep

	desc := fmt.Sprintf("Loan %s to %s (%s), %s interest, outstanding $%.0f, matures %s.",
		loan.LoanID, loan.Borrower, loan.Industry, loan.PaymentType,
		loan.OutstandingBalance, loan.MaturityDate.Format("2006-01-02"))

	// 1. Payment type implications.
	paymentView := step(ctx, a, &trace, 1, ActionAnalyzePaymentType,
		fmt.Sprintf("Current payment type: %s", loan.PaymentType),
		fmt.Sprintf("%s\nCorrelated event: %s\nExplain what the current payment type implies for credit quality.\nReply with a line starting ASSESSMENT:.", desc, event),
		parseText("ASSESSMENT:"),
		func() string { return fallbackPaymentAnalysis(s) },
		identity,
	)

	// 2. Historical pattern.
	pattern := step(ctx, a, &trace, 2, ActionCrossReference,
		historyObservation(toggle),
		fmt.Sprintf("%s\nPayment history (oldest first):\n%s\nPrior assessment: %s\nDescribe the payment-type pattern. Reply with a line starting PATTERN:.",
			desc, formatHistory(toggle.History), paymentView),
		parseText("PATTERN:"),
		func() string { return fallbackPattern(s) },
		identity,
	)

	// 3. Flag decision.
	d := step(ctx, a, &trace, 3, ActionFlagDecision,
		fmt.Sprintf("Toggle detected: %t; high-risk sector: %t", toggle.Detected, s.risky),
		fmt.Sprintf("%s\nPattern: %s\nHigh-risk sector: %t\nCorrelated event: %s\nShould this loan be flagged as a shadow default risk?\nReply with DECISION: FLAG or DECISION: NO_FLAG, then RATIONALE: <one sentence>.",
			desc, pattern, s.risky, event),
		parseDecision,
		func() decision { return fallbackDecision(s) },
		func(d decision) string { return fmt.Sprintf("flag=%t, %s", d.flag, d.rationale) },
	)
	if !d.flag {
		return Analysis{Trace: trace}
	}

	// 4. Risk level and confidence.
	as := step(ctx, a, &trace, 4, ActionAssessRisk,
		fmt.Sprintf("Outstanding balance: $%.0f", loan.OutstandingBalance),
		fmt.Sprintf("%s\nFlag rationale: %s\nGrade the risk. Reply with RISK_LEVEL: low|medium|high|critical and CONFIDENCE: <0-100>.",
			desc, d.rationale),
		parseAssessment,
		func() assessment { return fallbackAssessment(s) },
		func(as assessment) string { return fmt.Sprintf("risk=%s, confidence=%.0f", as.level, as.confidence) },
	)

	reason := d.rationale
	if reason == "" {
		reason = ruleReason(s)
	}
	return Analysis{
		Flagged: &model.FlaggedLoan{
			LoanRecord:          loan,
			FlagReason:          reason,
			RiskLevel:           as.level,
			CorrelatedEvent:     event,
			FlaggedAt:           a.now(),
			ConfidenceScore:     as.confidence,
			ToggleDetected:      toggle.Detected,
			PreviousPaymentType: toggle.Previous,
			ReasoningTrace:      trace,
		},
		Trace: trace,
	}
}

func historyObservation(t ToggleResult) string {
	if t.Detected && t.Previous != nil {
		return fmt.Sprintf("%d records; earlier type %s", len(t.History), *t.Previous)
	}
	return fmt.Sprintf("%d records; no earlier non-PIK type", len(t.History))
}

func formatHistory(history []model.HistoricalRecord) string {
	if len(history) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, h := range history {
		fmt.Fprintf(&b, "- %s: %s, balance $%.0f\n", h.Timestamp.Format("2006-01-02"), h.PaymentType, h.OutstandingBalance)
	}
	return strings.TrimRight(b.String(), "\n")
}
