package flagging

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pik-sentinel/internal/model"
	"github.com/sells-group/pik-sentinel/internal/oracle"
)

// mockReasoner implements oracle.Reasoner for testing.
type mockReasoner struct {
	mock.Mock
}

func (m *mockReasoner) Reason(ctx context.Context, p oracle.Prompt) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

// promptAsks matches prompts that request the given marker.
func promptAsks(marker string) any {
	return mock.MatchedBy(func(p oracle.Prompt) bool { return strings.Contains(p.User, marker) })
}

func newTestAnalyst(o oracle.Reasoner) *Analyst {
	a := NewAnalyst(o)
	a.now = func() time.Time { return fixedNow }
	return a
}

func toggledCash() ToggleResult {
	cash := model.PaymentCash
	return ToggleResult{
		Detected: true,
		Previous: &cash,
		History: []model.HistoricalRecord{
			hist("L1", 1, model.PaymentCash),
			hist("L1", 6, model.PaymentInKind),
		},
	}
}

func TestAnalyzeWithOracle(t *testing.T) {
	m := new(mockReasoner)
	m.On("Reason", mock.Anything, promptAsks("ASSESSMENT:")).Return("ASSESSMENT: cash preservation mode", nil).Once()
	m.On("Reason", mock.Anything, promptAsks("PATTERN:")).Return("PATTERN: cash to PIK in June", nil).Once()
	m.On("Reason", mock.Anything, promptAsks("DECISION:")).Return("DECISION: FLAG\nRATIONALE: Recent toggle amid energy shock", nil).Once()
	m.On("Reason", mock.Anything, promptAsks("RISK_LEVEL:")).Return("RISK_LEVEL: high\nCONFIDENCE: 82", nil).Once()

	l := loan("L1", "energy", model.PaymentInKind, 12_000_000)
	got := newTestAnalyst(m).Analyze(context.Background(), l, toggledCash(), NewSectorSet([]string{"energy"}), "Gulf crisis")

	require.NotNil(t, got.Flagged)
	f := got.Flagged
	assert.Equal(t, "Recent toggle amid energy shock", f.FlagReason)
	assert.Equal(t, model.RiskHigh, f.RiskLevel)
	assert.InDelta(t, 82.0, f.ConfidenceScore, 0.001)
	assert.True(t, f.ToggleDetected)
	require.NotNil(t, f.PreviousPaymentType)
	assert.Equal(t, model.PaymentCash, *f.PreviousPaymentType)

	require.Len(t, f.ReasoningTrace, 4)
	for i, want := range []string{ActionAnalyzePaymentType, ActionCrossReference, ActionFlagDecision, ActionAssessRisk} {
		assert.Equal(t, i+1, f.ReasoningTrace[i].Step)
		assert.Equal(t, want, f.ReasoningTrace[i].Action)
		assert.NotContains(t, f.ReasoningTrace[i].Reasoning, "Deterministic fallback")
	}
	m.AssertExpectations(t)
}

func TestAnalyzeOracleDownFallsBack(t *testing.T) {
	m := new(mockReasoner)
	m.On("Reason", mock.Anything, mock.Anything).Return("", errors.New("timeout"))

	l := loan("L1", "energy", model.PaymentInKind, 6_000_000)
	got := newTestAnalyst(m).Analyze(context.Background(), l, toggledCash(), NewSectorSet([]string{"energy"}), "Gulf crisis")

	require.NotNil(t, got.Flagged)
	f := got.Flagged
	assert.Equal(t, model.RiskHigh, f.RiskLevel)
	assert.InDelta(t, 75.0, f.ConfidenceScore, 0.001)
	assert.Equal(t, "PIK toggle detected (Cash to PIK) in high-risk sector (energy)", f.FlagReason)
	require.Len(t, f.ReasoningTrace, 4)
	for _, s := range f.ReasoningTrace {
		assert.Contains(t, s.Reasoning, "Deterministic fallback")
		assert.Equal(t, fixedNow, s.Timestamp)
	}
	m.AssertNumberOfCalls(t, "Reason", 4)
}

func TestAnalyzeFallbackRequiresToggleAndRiskySector(t *testing.T) {
	sectors := NewSectorSet([]string{"energy"})

	// PIK in a risky sector but no toggle: the step-3 fallback declines.
	got := newTestAnalyst(oracle.Disabled).Analyze(context.Background(),
		loan("L1", "energy", model.PaymentInKind, 6_000_000), ToggleResult{}, sectors, "")
	assert.Nil(t, got.Flagged)
	assert.Len(t, got.Trace, 3)

	// Toggle outside a risky sector: also declined.
	got = newTestAnalyst(oracle.Disabled).Analyze(context.Background(),
		loan("L1", "retail", model.PaymentInKind, 6_000_000), toggledCash(), sectors, "")
	assert.Nil(t, got.Flagged)
}

func TestAnalyzeMalformedOutputFallsBackPerStep(t *testing.T) {
	m := new(mockReasoner)
	m.On("Reason", mock.Anything, promptAsks("ASSESSMENT:")).Return("ASSESSMENT: fine", nil).Once()
	m.On("Reason", mock.Anything, promptAsks("PATTERN:")).Return("I think it toggled", nil).Once()
	m.On("Reason", mock.Anything, promptAsks("DECISION:")).Return("DECISION: FLAG\nRATIONALE: toggled", nil).Once()
	m.On("Reason", mock.Anything, promptAsks("RISK_LEVEL:")).Return("RISK_LEVEL: apocalyptic\nCONFIDENCE: 99", nil).Once()

	l := loan("L1", "energy", model.PaymentInKind, 500_000)
	got := newTestAnalyst(m).Analyze(context.Background(), l, toggledCash(), NewSectorSet([]string{"energy"}), "")

	require.NotNil(t, got.Flagged)
	trace := got.Flagged.ReasoningTrace
	require.Len(t, trace, 4)
	assert.NotContains(t, trace[0].Reasoning, "Deterministic fallback")
	assert.Contains(t, trace[1].Reasoning, "Deterministic fallback")
	assert.NotContains(t, trace[2].Reasoning, "Deterministic fallback")
	assert.Contains(t, trace[3].Reasoning, "Deterministic fallback")
	assert.Equal(t, model.RiskLow, got.Flagged.RiskLevel)
	assert.InDelta(t, 50.0, got.Flagged.ConfidenceScore, 0.001)
}

func TestAnalyzeOracleDeclines(t *testing.T) {
	m := new(mockReasoner)
	m.On("Reason", mock.Anything, promptAsks("ASSESSMENT:")).Return("ASSESSMENT: x", nil)
	m.On("Reason", mock.Anything, promptAsks("PATTERN:")).Return("PATTERN: y", nil)
	m.On("Reason", mock.Anything, promptAsks("DECISION:")).Return("DECISION: NO_FLAG\nRATIONALE: temporary", nil)

	got := newTestAnalyst(m).Analyze(context.Background(),
		loan("L1", "energy", model.PaymentInKind, 1), toggledCash(), NewSectorSet([]string{"energy"}), "")
	assert.Nil(t, got.Flagged)
	assert.Len(t, got.Trace, 3)
	m.AssertNotCalled(t, "Reason", mock.Anything, promptAsks("RISK_LEVEL:"))
}

func TestParseDecision(t *testing.T) {
	d, err := parseDecision("DECISION: flag.\nRATIONALE: r")
	require.NoError(t, err)
	assert.True(t, d.flag)
	assert.Equal(t, "r", d.rationale)

	d, err = parseDecision("DECISION: NO-FLAG")
	require.NoError(t, err)
	assert.False(t, d.flag)

	_, err = parseDecision("DECISION: maybe")
	assert.Error(t, err)
	_, err = parseDecision("no markers")
	assert.Error(t, err)
}

func TestParseAssessment(t *testing.T) {
	a, err := parseAssessment("RISK_LEVEL: Critical\nCONFIDENCE: 91%")
	require.NoError(t, err)
	assert.Equal(t, model.RiskCritical, a.level)
	assert.InDelta(t, 91.0, a.confidence, 0.001)

	_, err = parseAssessment("RISK_LEVEL: high\nCONFIDENCE: 140")
	assert.Error(t, err)
	_, err = parseAssessment("RISK_LEVEL: high")
	assert.Error(t, err)
}

func TestFallbacksArePure(t *testing.T) {
	s := subject{loan: loan("L9", "energy", model.PaymentInKind, 11_000_000), toggle: toggledCash(), risky: true}
	assert.Equal(t, fallbackDecision(s), fallbackDecision(s))
	assert.True(t, fallbackDecision(s).flag)
	assert.Equal(t, assessment{level: model.RiskCritical, confidence: 90}, fallbackAssessment(s))
	assert.Contains(t, fallbackPattern(s), "Toggled from Cash to PIK")
	assert.Contains(t, fallbackPaymentAnalysis(s), "paid in kind")
	assert.Equal(t, "No payment history on file.", fallbackPattern(subject{}))
}
