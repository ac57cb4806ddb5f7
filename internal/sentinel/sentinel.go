// Package sentinel is the entry point used by the CLI. It wires the
// flagging, escalation, credit, policy and reasoning packages together.
package sentinel

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pik-sentinel/internal/credit"
	"github.com/sells-group/pik-sentinel/internal/escalation"
	"github.com/sells-group/pik-sentinel/internal/flagging"
	"github.com/sells-group/pik-sentinel/internal/model"
	"github.com/sells-group/pik-sentinel/internal/oracle"
	"github.com/sells-group/pik-sentinel/internal/policy"
	"github.com/sells-group/pik-sentinel/internal/reasoning"
	"github.com/sells-group/pik-sentinel/internal/store"
)

// Deps are the collaborators a Service is built from. Oracle and Runs may be
// nil: without an oracle every step uses its deterministic fallback, and
// without a run store nothing is saved.
type Deps struct {
	Oracle      oracle.Reasoner
	Policy      *policy.Store
	Bank        *reasoning.Bank
	Runs        store.Store
	Credit      credit.Config
	Concurrency int
	Now         func() time.Time
}

// Service exposes the evaluation and learning operations.
type Service struct {
	evaluator  *flagging.Evaluator
	escalation *escalation.Engine
	policy     *policy.Store
	workflow   *policy.Workflow
	bank       *reasoning.Bank
	credit     *credit.Engine
	runs       store.Store
	oracle     oracle.Reasoner
	now        func() time.Time
}

// New builds a Service. Policy and Bank are required.
func New(d Deps) (*Service, error) {
	if d.Policy == nil || d.Bank == nil {
		return nil, eris.New("sentinel: policy store and reasoning bank are required")
	}
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	o := d.Oracle
	if o == nil {
		o = oracle.Disabled
	}
	return &Service{
		evaluator:  flagging.NewEvaluator(o, flagging.WithConcurrency(d.Concurrency), flagging.WithClock(now)),
		escalation: escalation.NewEngine(d.Policy),
		policy:     d.Policy,
		workflow:   policy.NewWorkflow(d.Policy, d.Bank, o, policy.WithWorkflowClock(now)),
		bank:       d.Bank,
		credit:     credit.New(d.Credit),
		runs:       d.Runs,
		oracle:     d.Oracle,
		now:        now,
	}, nil
}

// Policy returns the live policy store.
func (s *Service) Policy() *policy.Store { return s.policy }

// Bank returns the reasoning bank.
func (s *Service) Bank() *reasoning.Bank { return s.bank }

// OracleStatus reports "disabled" without an oracle, the circuit breaker
// state when the oracle has one, and "enabled" otherwise.
func (s *Service) OracleStatus() string {
	if s.oracle == nil {
		return "disabled"
	}
	if b, ok := s.oracle.(interface{ BreakerState() oracle.BreakerState }); ok {
		return b.BreakerState().String()
	}
	return "enabled"
}

// EvaluatePortfolio loads, flags and ranks one ledger.
func (s *Service) EvaluatePortfolio(ctx context.Context, opts flagging.Options) (*flagging.Evaluation, error) {
	return s.evaluator.EvaluatePortfolio(ctx, opts)
}

// EvaluateRisk grades flagged loans against the live policy.
func (s *Service) EvaluateRisk(riskScore float64, flagged []model.FlaggedLoan) model.EscalationDecision {
	return s.escalation.EvaluateRisk(riskScore, flagged)
}

// DistillOverride learns a rule from one human override.
func (s *Service) DistillOverride(ctx context.Context, req policy.DistillRequest) (policy.Distillation, error) {
	return s.workflow.DistillOverride(ctx, req)
}

// ProposeUpdate drafts a policy diff; the policy is unchanged.
func (s *Service) ProposeUpdate(ctx context.Context, field string, value model.Value, reason string) (model.PolicyDiff, error) {
	return s.workflow.ProposeUpdate(ctx, field, value, reason)
}

// ApplyDiff records a review decision and applies the diff if approved.
func (s *Service) ApplyDiff(diff *model.PolicyDiff, approver string, approved bool) (bool, error) {
	return s.workflow.ApplyDiff(diff, approver, approved)
}

// ComputeRatios scores raw financial statements.
func (s *Service) ComputeRatios(raw map[string]any) (credit.Ratios, error) {
	return s.credit.ComputeRaw(raw)
}

// Assessment is an evaluation together with the decision and alert it led to.
type Assessment struct {
	Evaluation *flagging.Evaluation     `json:"evaluation"`
	Decision   model.EscalationDecision `json:"decision"`
	Alert      model.Alert              `json:"alert"`
	Run        *model.EvaluationRun     `json:"run,omitempty"`
}

// Assess evaluates a ledger and decides on it. With save set, the run is
// recorded in the run store, including a failed evaluation.
func (s *Service) Assess(ctx context.Context, opts flagging.Options, riskScore float64, save bool) (*Assessment, error) {
	log := zap.L().With(zap.String("ledger", opts.LedgerPath))

	ev, err := s.EvaluatePortfolio(ctx, opts)
	if err != nil {
		if save {
			failed := &model.EvaluationRun{
				LedgerPath: opts.LedgerPath,
				RiskScore:  riskScore,
				Status:     model.RunStatusFailed,
				Error:      err.Error(),
				CreatedAt:  s.now(),
			}
			if ev != nil {
				failed.Summary = ev.Summary()
			}
			if serr := s.saveRun(ctx, failed); serr != nil {
				log.Error("sentinel: failed to record failed run", zap.Error(serr))
			}
		}
		return &Assessment{Evaluation: ev}, err
	}

	decision := s.EvaluateRisk(riskScore, ev.RankedFlaggedLoans)
	a := &Assessment{
		Evaluation: ev,
		Decision:   decision,
		Alert:      escalation.GenerateAlert(decision, s.now()),
	}
	log.Info("sentinel: assessed portfolio",
		zap.String("status", string(decision.Status)),
		zap.Float64("hedge_percentage", decision.HedgePercentage),
		zap.String("oracle", s.OracleStatus()),
	)

	if save {
		run := &model.EvaluationRun{
			LedgerPath: opts.LedgerPath,
			RiskScore:  riskScore,
			Status:     model.RunStatusComplete,
			Summary:    ev.Summary(),
			Decision:   &decision,
			CreatedAt:  s.now(),
		}
		if err := s.saveRun(ctx, run); err != nil {
			return a, err
		}
		a.Run = run
	}
	return a, nil
}

func (s *Service) saveRun(ctx context.Context, run *model.EvaluationRun) error {
	if s.runs == nil {
		return eris.New("sentinel: no run store configured")
	}
	return eris.Wrap(s.runs.SaveRun(ctx, run), "sentinel: save run")
}
