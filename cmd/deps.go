package main

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pik-sentinel/internal/credit"
	"github.com/sells-group/pik-sentinel/internal/model"
	"github.com/sells-group/pik-sentinel/internal/oracle"
	"github.com/sells-group/pik-sentinel/internal/policy"
	"github.com/sells-group/pik-sentinel/internal/reasoning"
	"github.com/sells-group/pik-sentinel/internal/sentinel"
	"github.com/sells-group/pik-sentinel/internal/store"
	"github.com/sells-group/pik-sentinel/pkg/anthropic"
)

// initOracle returns the Anthropic reasoner when a key is configured and the
// disabled reasoner otherwise.
func initOracle() oracle.Reasoner {
	if cfg.Oracle.Key == "" {
		return oracle.Disabled
	}
	return oracle.NewAnthropic(anthropic.NewClient(cfg.Oracle.Key), cfg.Oracle)
}

func initPolicy() (*policy.Store, error) {
	var opts []policy.Option
	if cfg.Data.PolicySeedPath != "" {
		opts = append(opts, policy.WithSeed(cfg.Data.PolicySeedPath))
	}
	ps, err := policy.Open(cfg.Data.PolicyPath, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "open policy store")
	}
	return ps, nil
}

func initBank() (*reasoning.Bank, error) {
	b, err := reasoning.Open(cfg.Data.BankPath)
	if err != nil {
		return nil, eris.Wrap(err, "open reasoning bank")
	}
	return b, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store)
}

// initService builds the facade. The run store is attached only when
// withRuns is set; the caller closes it.
func initService(ctx context.Context, withRuns bool) (*sentinel.Service, store.Store, error) {
	ps, err := initPolicy()
	if err != nil {
		return nil, nil, err
	}
	bank, err := initBank()
	if err != nil {
		return nil, nil, err
	}

	var runs store.Store
	if withRuns {
		if runs, err = initStore(ctx); err != nil {
			return nil, nil, err
		}
	}

	svc, err := sentinel.New(sentinel.Deps{
		Oracle:      initOracle(),
		Policy:      ps,
		Bank:        bank,
		Runs:        runs,
		Credit:      credit.Config{PrincipalEstimateFraction: cfg.Credit.PrincipalEstimateFraction},
		Concurrency: cfg.Evaluate.Concurrency,
	})
	if err != nil {
		if runs != nil {
			_ = runs.Close()
		}
		return nil, nil, err
	}
	return svc, runs, nil
}

// checkRiskScore rejects a --risk-score outside [0,100].
func checkRiskScore(score float64) error {
	if math.IsNaN(score) || score < 0 || score > 100 {
		return eris.Wrapf(model.ErrValidation, "--risk-score must be within [0,100], got %v", score)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// splitAndTrim splits a comma-separated flag value, dropping empty parts.
func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
