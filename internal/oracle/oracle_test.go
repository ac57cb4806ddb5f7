package oracle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pik-sentinel/internal/config"
	"github.com/sells-group/pik-sentinel/internal/model"
	"github.com/sells-group/pik-sentinel/pkg/anthropic"
)

// mockClient implements anthropic.Client for testing.
type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(s string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: s}}}
}

func testOracle(c anthropic.Client) *Anthropic {
	a := NewAnthropic(c, config.OracleConfig{
		Model:            "claude-sonnet-4-5-20250929",
		TimeoutSecs:      5,
		MaxTokens:        500,
		MaxAttempts:      3,
		FailureThreshold: 2,
		ResetTimeoutSecs: 60,
	})
	a.retry.InitialBackoff = time.Millisecond
	a.retry.MaxBackoff = 2 * time.Millisecond
	return a
}

func TestAnthropicReason(t *testing.T) {
	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.System == "sys" &&
			req.MaxTokens == 400 &&
			*req.Temperature == 0.4 &&
			len(req.Messages) == 1 && req.Messages[0].Content == "user prompt"
	})).Return(textResponse("  RULE: hedge energy  "), nil).Once()

	out, err := testOracle(mc).Reason(context.Background(), Prompt{
		System: "sys", User: "user prompt", Temperature: 0.4, MaxTokens: 400,
	})
	require.NoError(t, err)
	assert.Equal(t, "RULE: hedge energy", out)
	mc.AssertExpectations(t)
}

func TestAnthropicReasonDefaultsMaxTokens(t *testing.T) {
	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.MaxTokens == 500
	})).Return(textResponse("ok"), nil).Once()

	_, err := testOracle(mc).Reason(context.Background(), Prompt{User: "x"})
	require.NoError(t, err)
	mc.AssertExpectations(t)
}

func TestAnthropicReasonRetriesTransient(t *testing.T) {
	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errTransient).Twice()
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("fine"), nil).Once()

	out, err := testOracle(mc).Reason(context.Background(), Prompt{User: "x"})
	require.NoError(t, err)
	assert.Equal(t, "fine", out)
	mc.AssertNumberOfCalls(t, "CreateMessage", 3)
}

func TestAnthropicReasonPermanentErrorNotRetried(t *testing.T) {
	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("bad request")).Once()

	_, err := testOracle(mc).Reason(context.Background(), Prompt{User: "x"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrOracleFailure))
	mc.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestAnthropicReasonEmptyResponse(t *testing.T) {
	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("   "), nil)

	_, err := testOracle(mc).Reason(context.Background(), Prompt{User: "x"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrOracleFailure))
}

func TestAnthropicBreakerOpens(t *testing.T) {
	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("down"))

	a := testOracle(mc)
	for i := 0; i < 2; i++ {
		_, err := a.Reason(context.Background(), Prompt{User: "x"})
		require.Error(t, err)
	}
	assert.Equal(t, BreakerOpen, a.BreakerState())

	_, err := a.Reason(context.Background(), Prompt{User: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	mc.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	now := time.Now()
	b := newBreaker(1, time.Minute)
	b.now = func() time.Time { return now }

	b.record(errors.New("fail"))
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.allow(), ErrBreakerOpen)

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.allow())
	assert.Equal(t, BreakerHalfOpen, b.State())

	b.record(nil)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	_, err := retry(ctx, RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Hour}, func(context.Context) (int, error) {
		calls.Add(1)
		cancel()
		return 0, errTransient
	}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBackoffBounded(t *testing.T) {
	p := RetryPolicy{InitialBackoff: time.Second, MaxBackoff: 4 * time.Second, JitterFraction: 0}
	assert.Equal(t, time.Second, p.backoff(0))
	assert.Equal(t, 2*time.Second, p.backoff(1))
	assert.Equal(t, 4*time.Second, p.backoff(5))
}

func TestDisabled(t *testing.T) {
	_, err := Disabled.Reason(context.Background(), Prompt{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrOracleFailure))
}

func TestField(t *testing.T) {
	text := "Some preamble\n**DECISION:** FLAG\nRATIONALE: toggled to PIK last quarter\nconfidence: 85%"

	v, ok := Field(text, "DECISION:")
	require.True(t, ok)
	assert.Equal(t, "FLAG", v)

	v, ok = Field(text, "RATIONALE:")
	require.True(t, ok)
	assert.Equal(t, "toggled to PIK last quarter", v)

	n, ok := Number(text, "CONFIDENCE:")
	require.True(t, ok)
	assert.InDelta(t, 85.0, n, 0.001)

	_, ok = Field(text, "RISK_LEVEL:")
	assert.False(t, ok)

	_, ok = Number("CONFIDENCE: high", "CONFIDENCE:")
	assert.False(t, ok)

	_, ok = Field("RULE:   ", "RULE:")
	assert.False(t, ok)
}
