package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pik-sentinel/internal/model"
	"github.com/sells-group/pik-sentinel/internal/oracle"
	"github.com/sells-group/pik-sentinel/internal/reasoning"
)

type mockReasoner struct {
	mock.Mock
}

func (m *mockReasoner) Reason(ctx context.Context, p oracle.Prompt) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

type fixture struct {
	store      *Store
	bank       *reasoning.Bank
	policyPath string
	bankPath   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		policyPath: filepath.Join(dir, "policy_state.json"),
		bankPath:   filepath.Join(dir, "reasoning_bank.json"),
	}
	var err error
	f.store, err = Open(f.policyPath, WithClock(clock))
	require.NoError(t, err)
	f.bank, err = reasoning.Open(f.bankPath, reasoning.WithClock(clock))
	require.NoError(t, err)
	return f
}

func (f fixture) workflow(o oracle.Reasoner) *Workflow {
	return NewWorkflow(f.store, f.bank, o, WithWorkflowClock(clock))
}

func seedThresholdOverrides(t *testing.T, b *reasoning.Bank) {
	t.Helper()
	base := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	for i, pair := range [][2]float64{{70, 75}, {71, 76}, {72, 77}} {
		require.NoError(t, b.Append(model.ReasoningBankEntry{
			Timestamp:       base.Add(time.Duration(i) * time.Hour),
			OverrideType:    model.OverrideRiskThreshold,
			OldValue:        model.Number(pair[0]),
			NewValue:        model.Number(pair[1]),
			ConfidenceScore: 60,
		}))
	}
}

func TestProposeUpdateWithEvidence(t *testing.T) {
	f := newFixture(t)
	seedThresholdOverrides(t, f.bank)

	m := new(mockReasoner)
	m.On("Reason", mock.Anything, mock.MatchedBy(func(p oracle.Prompt) bool {
		return p.Temperature == 0.4 && p.MaxTokens == 400 &&
			strings.Contains(p.User, "Field: risk_threshold") &&
			strings.Contains(p.User, "- 3 overrides detected (avg change: 5.00)")
	})).Return("Analysts keep raising the threshold by five points.", nil).Once()

	before, err := os.ReadFile(f.policyPath)
	require.NoError(t, err)

	diff, err := f.workflow(m).ProposeUpdate(context.Background(), "risk_threshold", model.Number(75), "recurring overrides")
	require.NoError(t, err)
	m.AssertExpectations(t)

	assert.Equal(t, model.DiffProposed, diff.Status)
	assert.Equal(t, "risk_threshold", diff.Field)
	assert.True(t, diff.OldValue.Equal(model.Number(70)))
	assert.True(t, diff.NewValue.Equal(model.Number(75)))
	assert.Equal(t, []string{
		"3 overrides detected (avg change: 5.00)",
		"Most recent override: 2025-01-15 12:30",
	}, diff.SupportingEvidence)
	assert.InDelta(t, 80.0, diff.ConfidenceScore, 0.001)
	assert.Equal(t, "Analysts keep raising the threshold by five points.", diff.Explanation)
	assert.Empty(t, diff.Conflicts)

	after, err := os.ReadFile(f.policyPath)
	require.NoError(t, err)
	assert.Equal(t, before, after, "proposing must not touch the persisted policy")
	assert.InDelta(t, 70.0, f.store.Current().RiskThreshold, 0.001)
	assert.Equal(t, 3, f.bank.Len())
}

func TestProposeUpdateOracleFallback(t *testing.T) {
	f := newFixture(t)
	m := new(mockReasoner)
	m.On("Reason", mock.Anything, mock.Anything).Return("", errors.New("quota")).Once()

	diff, err := f.workflow(m).ProposeUpdate(context.Background(), "hedge_percentages.energy", model.Number(20), "energy shock")
	require.NoError(t, err)
	assert.Equal(t, "Proposing to change hedge_percentages.energy from 15 to 20. energy shock", diff.Explanation)
	assert.Empty(t, diff.SupportingEvidence)
	assert.InDelta(t, 50.0, diff.ConfidenceScore, 0.001)
}

func TestProposeUpdateIgnoresNonNumericEvidence(t *testing.T) {
	f := newFixture(t)
	seedThresholdOverrides(t, f.bank)
	for range 3 {
		require.NoError(t, f.bank.Append(model.ReasoningBankEntry{
			OverrideType: model.OverrideRiskThreshold,
			OldValue:     model.Text("low"),
			NewValue:     model.Text("high"),
		}))
	}
	diff, err := f.workflow(nil).ProposeUpdate(context.Background(), "risk_threshold", model.Number(75), "")
	require.NoError(t, err)
	assert.Equal(t, "3 overrides detected (avg change: 5.00)", diff.SupportingEvidence[0])
	assert.InDelta(t, 80.0, diff.ConfidenceScore, 0.001)
}

func TestProposeUpdateRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	w := f.workflow(nil)

	_, err := w.ProposeUpdate(context.Background(), "volatility", model.Number(1), "")
	assert.True(t, eris.Is(err, model.ErrUnknownPolicyField))

	_, err = w.ProposeUpdate(context.Background(), "risk_threshold", model.Text("high"), "")
	assert.True(t, eris.Is(err, model.ErrInvalidPolicyValue))
}

func TestProposeUpdateAttachesConflicts(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.bank.Append(model.ReasoningBankEntry{
		EntryID:       "RB-existing",
		OverrideType:  model.OverrideRiskScore,
		OldValue:      model.Number(70),
		NewValue:      model.Number(80),
		ExtractedRule: "IF energy sector loan has PIK toggle THEN increase risk score",
	}))

	m := new(mockReasoner)
	m.On("Reason", mock.Anything, mock.Anything).
		Return("IF energy sector loan has PIK toggle THEN decrease risk score", nil).Once()

	diff, err := f.workflow(m).ProposeUpdate(context.Background(), "risk_threshold", model.Number(65), "calmer markets")
	require.NoError(t, err)
	assert.Equal(t, []string{"RB-existing"}, diff.Conflicts)
	assert.Contains(t, diff.SupportingEvidence, "Potential conflict with 1 existing rule(s)")
	assert.InDelta(t, 50.0, diff.ConfidenceScore, 0.001)
}

func TestApplyDiffRejected(t *testing.T) {
	f := newFixture(t)
	w := f.workflow(nil)
	diff, err := w.ProposeUpdate(context.Background(), "risk_threshold", model.Number(75), "test")
	require.NoError(t, err)

	before, err := os.ReadFile(f.policyPath)
	require.NoError(t, err)

	changed, err := w.ApplyDiff(&diff, "alice", false)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, model.DiffRejected, diff.Status)

	after, err := os.ReadFile(f.policyPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	entries := f.bank.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Policy diff rejected by alice", entries[0].HumanRationale)
	assert.Equal(t, diff.Explanation, entries[0].ExtractedRule)
	assert.Equal(t, model.OverrideRiskThreshold, entries[0].OverrideType)

	_, err = w.ApplyDiff(&diff, "alice", true)
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrDiffNotPending))
	assert.Equal(t, 1, f.bank.Len())
}

func TestApplyDiffApproved(t *testing.T) {
	f := newFixture(t)
	w := f.workflow(nil)
	diff, err := w.ProposeUpdate(context.Background(), "hedge_percentages.energy", model.Number(20), "energy shock")
	require.NoError(t, err)

	changed, err := w.ApplyDiff(&diff, "bob", true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.DiffApproved, diff.Status)
	assert.InDelta(t, 20.0, f.store.Current().HedgePercentages["energy"], 0.001)

	history := f.store.History()
	require.Len(t, history, 1)
	assert.Equal(t, diff.DiffID, history[0].OverrideID)
	assert.Equal(t, "bob", history[0].AppliedBy)
	assert.Equal(t, diff.Explanation, history[0].Reason)

	entries := f.bank.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Policy diff approved by bob", entries[0].HumanRationale)
	assert.Equal(t, model.OverrideHedgePercentage, entries[0].OverrideType)

	reopened, err := Open(f.policyPath)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, reopened.Current().HedgePercentages["energy"], 0.001)
}

func TestApplyDiffRefusedValueLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	w := f.workflow(nil)
	diff := model.PolicyDiff{
		DiffID:      "PD-1",
		Field:       "risk_threshold",
		OldValue:    model.Number(70),
		NewValue:    model.Number(150),
		Explanation: "raise threshold",
		Status:      model.DiffProposed,
	}

	for range 2 {
		changed, err := w.ApplyDiff(&diff, "bob", true)
		require.Error(t, err)
		assert.True(t, eris.Is(err, model.ErrInvalidPolicyValue))
		assert.False(t, changed)
	}

	assert.Equal(t, model.DiffProposed, diff.Status)
	assert.Equal(t, 0, f.bank.Len())
	assert.Empty(t, f.store.History())
	assert.InDelta(t, 70.0, f.store.Current().RiskThreshold, 0.001)

	changed, err := w.ApplyDiff(&diff, "bob", false)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, f.bank.Len())
}

func TestApplyDiffRecordsLiveOldValue(t *testing.T) {
	f := newFixture(t)
	w := f.workflow(nil)
	diff, err := w.ProposeUpdate(context.Background(), "risk_threshold", model.Number(80), "tighten")
	require.NoError(t, err)
	require.True(t, diff.OldValue.Equal(model.Number(70)))

	_, err = f.store.ApplyOverride(model.PolicyOverride{Field: "risk_threshold", NewValue: model.Number(72), AppliedBy: "ops"})
	require.NoError(t, err)

	changed, err := w.ApplyDiff(&diff, "bob", true)
	require.NoError(t, err)
	assert.True(t, changed)

	history := f.store.History()
	require.Len(t, history, 2)
	assert.True(t, history[1].OldValue.Equal(model.Number(72)))
	assert.True(t, history[1].NewValue.Equal(model.Number(80)))

	entries := f.bank.All()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].OldValue.Equal(model.Number(72)))
}

func TestApplyDiffValidation(t *testing.T) {
	f := newFixture(t)
	w := f.workflow(nil)

	_, err := w.ApplyDiff(nil, "bob", true)
	assert.True(t, eris.Is(err, model.ErrValidation))

	diff := model.PolicyDiff{DiffID: "PD-1", Field: "risk_threshold", NewValue: model.Number(60), Status: model.DiffProposed}
	_, err = w.ApplyDiff(&diff, " ", true)
	assert.True(t, eris.Is(err, model.ErrValidation))
	assert.Equal(t, model.DiffProposed, diff.Status)
}

func TestDistillOverride(t *testing.T) {
	f := newFixture(t)
	m := new(mockReasoner)
	m.On("Reason", mock.Anything, mock.MatchedBy(func(p oracle.Prompt) bool {
		return p.Temperature == 0.3 && p.MaxTokens == 500 &&
			strings.Contains(p.User, "- Change: 10") &&
			strings.Contains(p.User, "- industry: energy") &&
			strings.Contains(p.User, "Human Rationale: covenant breach")
	})).Return("RULE: IF covenant_breach THEN increase risk by 10\nCONFIDENCE: 85\nEXPLANATION: breach", nil).Once()

	got, err := f.workflow(m).DistillOverride(context.Background(), DistillRequest{
		OverrideType:   model.OverrideRiskScore,
		OldValue:       model.Number(75),
		NewValue:       model.Number(85),
		LoanContext:    map[string]string{"loan_id": "L001", "industry": "energy"},
		HumanRationale: "covenant breach",
	})
	require.NoError(t, err)
	m.AssertExpectations(t)

	assert.Equal(t, "IF covenant_breach THEN increase risk by 10", got.Entry.ExtractedRule)
	assert.InDelta(t, 85.0, got.Entry.ConfidenceScore, 0.001)
	assert.Empty(t, got.Conflicts)
	assert.Equal(t, 1, f.bank.Len())
	assert.Equal(t, "L001", f.bank.All()[0].LoanContext["loan_id"])
}

func TestDistillOverrideFallback(t *testing.T) {
	f := newFixture(t)
	got, err := f.workflow(nil).DistillOverride(context.Background(), DistillRequest{
		OverrideType: model.OverrideRiskScore,
		OldValue:     model.Number(75),
		NewValue:     model.Number(85),
	})
	require.NoError(t, err)
	assert.Equal(t, "Manual override: risk_score changed from 75 to 85", got.Entry.ExtractedRule)
	assert.InDelta(t, 30.0, got.Entry.ConfidenceScore, 0.001)
}

func TestDistillOverrideUnparseableAndClamped(t *testing.T) {
	f := newFixture(t)
	m := new(mockReasoner)
	m.On("Reason", mock.Anything, mock.Anything).Return("I cannot say.", nil).Once()
	m.On("Reason", mock.Anything, mock.Anything).Return("RULE: always hedge energy\nCONFIDENCE: 140", nil).Once()
	w := f.workflow(m)

	got, err := w.DistillOverride(context.Background(), DistillRequest{OverrideType: model.OverrideThreshold, OldValue: model.Number(1), NewValue: model.Number(2)})
	require.NoError(t, err)
	assert.Equal(t, "Manual override: threshold changed from 1 to 2", got.Entry.ExtractedRule)
	assert.InDelta(t, 30.0, got.Entry.ConfidenceScore, 0.001)

	got, err = w.DistillOverride(context.Background(), DistillRequest{OverrideType: model.OverrideThreshold, OldValue: model.Number(1), NewValue: model.Number(2)})
	require.NoError(t, err)
	assert.Equal(t, "always hedge energy", got.Entry.ExtractedRule)
	assert.InDelta(t, 100.0, got.Entry.ConfidenceScore, 0.001)
}

func TestDistillOverrideReturnsConflicts(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.bank.Append(model.ReasoningBankEntry{
		EntryID:       "RB-old",
		OverrideType:  model.OverrideRiskScore,
		OldValue:      model.Number(1),
		NewValue:      model.Number(2),
		ExtractedRule: "IF energy sector loan has PIK toggle THEN increase risk score",
	}))
	m := new(mockReasoner)
	m.On("Reason", mock.Anything, mock.Anything).
		Return("RULE: IF energy sector loan has PIK toggle THEN decrease risk score\nCONFIDENCE: 70", nil).Once()

	got, err := f.workflow(m).DistillOverride(context.Background(), DistillRequest{
		OverrideType: model.OverrideRiskScore,
		OldValue:     model.Number(80),
		NewValue:     model.Number(70),
	})
	require.NoError(t, err)
	require.Len(t, got.Conflicts, 1)
	assert.Equal(t, "RB-old", got.Conflicts[0].EntryID)
	assert.Equal(t, 2, f.bank.Len())
}

func TestDistillOverrideRejectsUnknownType(t *testing.T) {
	f := newFixture(t)
	_, err := f.workflow(nil).DistillOverride(context.Background(), DistillRequest{OverrideType: "mood"})
	assert.True(t, eris.Is(err, model.ErrValidation))
}
