package flagging

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pik-sentinel/internal/ledger"
	"github.com/sells-group/pik-sentinel/internal/model"
	"github.com/sells-group/pik-sentinel/internal/oracle"
)

// Options parameterizes one portfolio evaluation.
type Options struct {
	LedgerPath      string
	Format          string
	HistoryPath     string
	RiskySectors    []string
	CorrelatedEvent string
	UseOracle       bool
}

// Evaluation is the result of EvaluatePortfolio.
type Evaluation struct {
	Total              int                     `json:"total"`
	Flagged            int                     `json:"flagged"`
	ToggleCount        int                     `json:"toggle_count"`
	OracleUsed         bool                    `json:"oracle_used"`
	RankedFlaggedLoans []model.FlaggedLoan     `json:"ranked_flagged_loans"`
	ValidationErrors   []model.ValidationError `json:"validation_errors"`
}

// Summary condenses the evaluation for run history.
func (e *Evaluation) Summary() model.RunSummary {
	return model.RunSummary{
		Total:            e.Total,
		Flagged:          e.Flagged,
		ToggleCount:      e.ToggleCount,
		ValidationErrors: len(e.ValidationErrors),
		TotalExposure:    TotalExposure(e.RankedFlaggedLoans),
	}
}

// Evaluator flags portfolios. It holds no per-portfolio state, so one
// Evaluator can serve concurrent evaluations.
type Evaluator struct {
	analyst     *Analyst
	concurrency int
	now         func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithConcurrency bounds the number of loans analyzed at once.
func WithConcurrency(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithClock overrides the flag timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		e.now = now
		e.analyst.now = now
	}
}

// NewEvaluator returns an Evaluator that consults o in oracle mode.
func NewEvaluator(o oracle.Reasoner, opts ...Option) *Evaluator {
	e := &Evaluator{
		analyst:     NewAnalyst(o),
		concurrency: 4,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluatePortfolio loads the ledger (and history, if given), flags and
// ranks. On a hard failure after the ledger parsed, the returned Evaluation
// still carries the validation errors collected so far.
func (e *Evaluator) EvaluatePortfolio(ctx context.Context, opts Options) (*Evaluation, error) {
	res, err := ledger.Load(ctx, opts.LedgerPath, opts.Format)
	if err != nil {
		return nil, eris.Wrap(err, "flagging: evaluate portfolio")
	}
	partial := &Evaluation{Total: len(res.Loans), ValidationErrors: res.Errors}

	history := ledger.NewHistoryStore()
	if opts.HistoryPath != "" {
		h, invalid, err := ledger.LoadHistory(ctx, opts.HistoryPath, "")
		if err != nil {
			return partial, eris.Wrap(err, "flagging: evaluate portfolio")
		}
		history = h
		for _, ve := range invalid {
			zap.L().Warn("flagging: skipped history record", zap.String("error", ve.Error()))
		}
	}

	ev, err := e.Evaluate(ctx, res.Loans, history, opts)
	if err != nil {
		return partial, err
	}
	ev.ValidationErrors = res.Errors
	return ev, nil
}

// Evaluate flags already-loaded loans against history.
func (e *Evaluator) Evaluate(ctx context.Context, loans []model.LoanRecord, history *ledger.HistoryStore, opts Options) (*Evaluation, error) {
	sectors := NewSectorSet(opts.RiskySectors)
	log := zap.L().With(zap.Int("loans", len(loans)), zap.Bool("use_oracle", opts.UseOracle))

	toggles := make(map[string]ToggleResult, len(loans))
	toggleCount := 0
	for _, loan := range loans {
		tr := DetectToggle(loan, history.ForLoan(loan.LoanID))
		toggles[loan.LoanID] = tr
		if tr.Detected {
			toggleCount++
		}
	}

	var flagged []model.FlaggedLoan
	if opts.UseOracle {
		var err error
		flagged, err = e.flagWithEvidence(ctx, loans, toggles, sectors, opts.CorrelatedEvent)
		if err != nil {
			return nil, err
		}
	} else {
		flagged = FlagRuleBased(loans, sectors, opts.CorrelatedEvent, toggles, e.now())
	}

	ranked := RankByExposure(flagged)
	log.Info("flagging: portfolio evaluated",
		zap.Int("flagged", len(ranked)),
		zap.Int("toggles", toggleCount),
	)
	return &Evaluation{
		Total:              len(loans),
		Flagged:            len(ranked),
		ToggleCount:        toggleCount,
		OracleUsed:         opts.UseOracle,
		RankedFlaggedLoans: ranked,
	}, nil
}

// flagWithEvidence analyzes qualifying loans concurrently. Results land in
// an index-addressed slice and are compacted only after every worker has
// finished.
func (e *Evaluator) flagWithEvidence(ctx context.Context, loans []model.LoanRecord, toggles map[string]ToggleResult, sectors SectorSet, event string) ([]model.FlaggedLoan, error) {
	results := make([]*model.FlaggedLoan, len(loans))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, loan := range loans {
		tr := toggles[loan.LoanID]
		if !MatchesRule(loan, sectors) && !tr.Detected {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a := e.analyst.Analyze(gctx, loan, tr, sectors, event)
			if a.Flagged == nil {
				zap.L().Debug("flagging: analyst declined", zap.String("loan_id", loan.LoanID))
			}
			results[i] = a.Flagged
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "flagging: evidence analysis")
	}

	var flagged []model.FlaggedLoan
	for _, r := range results {
		if r != nil {
			flagged = append(flagged, *r)
		}
	}
	return flagged, nil
}
