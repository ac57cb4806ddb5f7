package oracle

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/pik-sentinel/internal/config"
	"github.com/sells-group/pik-sentinel/internal/model"
	"github.com/sells-group/pik-sentinel/pkg/anthropic"
)

// Anthropic is a Reasoner backed by the Anthropic Messages API. Each call is
// paced by a rate limiter, bounded by a timeout, retried on transient errors
// and short-circuited while the breaker is open.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int
	timeout   time.Duration
	limiter   *rate.Limiter
	retry     RetryPolicy
	breaker   *breaker
}

// NewAnthropic builds the oracle from config.
func NewAnthropic(client anthropic.Client, cfg config.OracleConfig) *Anthropic {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	rp := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		rp.MaxAttempts = cfg.MaxAttempts
	}
	return &Anthropic{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   timeout,
		limiter:   rate.NewLimiter(limit, 1),
		retry:     rp,
		breaker:   newBreaker(cfg.FailureThreshold, time.Duration(cfg.ResetTimeoutSecs)*time.Second),
	}
}

// BreakerState exposes the breaker for status output.
func (a *Anthropic) BreakerState() BreakerState { return a.breaker.State() }

// Reason implements Reasoner. Every failure wraps model.ErrOracleFailure.
func (a *Anthropic) Reason(ctx context.Context, p Prompt) (string, error) {
	if err := a.breaker.allow(); err != nil {
		return "", eris.Wrap(model.ErrOracleFailure, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(model.ErrOracleFailure, "oracle: rate limit wait: "+err.Error())
	}

	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	temp := p.Temperature
	req := anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   int64(maxTokens),
		System:      p.System,
		Messages:    []anthropic.Message{{Role: "user", Content: p.User}},
		Temperature: &temp,
	}

	resp, err := retry(ctx, a.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return a.client.CreateMessage(ctx, req)
	}, func(attempt int, err error) {
		zap.L().Warn("oracle: retrying", zap.Int("attempt", attempt), zap.Error(err))
	})
	a.breaker.record(err)
	if err != nil {
		return "", eris.Wrap(model.ErrOracleFailure, "oracle: "+err.Error())
	}

	resp.Usage.LogCost(a.model, "reason")
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", eris.Wrap(model.ErrOracleFailure, "oracle: empty response")
	}
	return text, nil
}
