// Package oracle defines the text-reasoning oracle consumed by flagging and
// policy, and an Anthropic-backed implementation of it.
package oracle

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pik-sentinel/internal/model"
)

// Prompt is one oracle request.
type Prompt struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Reasoner turns a prompt into free text. Any error, including a timeout,
// means "no oracle available" to callers.
type Reasoner interface {
	Reason(ctx context.Context, p Prompt) (string, error)
}

// ReasonerFunc adapts a function to Reasoner.
type ReasonerFunc func(ctx context.Context, p Prompt) (string, error)

// Reason calls f.
func (f ReasonerFunc) Reason(ctx context.Context, p Prompt) (string, error) { return f(ctx, p) }

// Disabled is a Reasoner that always fails, forcing deterministic fallbacks.
var Disabled Reasoner = ReasonerFunc(func(context.Context, Prompt) (string, error) {
	return "", eris.Wrap(model.ErrOracleFailure, "oracle: disabled")
})

// Field returns the text following the first line that starts with marker
// (case-insensitive), trimmed. Markers look like "DECISION:".
func Field(text, marker string) (string, bool) {
	upper := strings.ToUpper(marker)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "*-# "))
		if len(line) < len(marker) || strings.ToUpper(line[:len(marker)]) != upper {
			continue
		}
		v := strings.TrimSpace(strings.Trim(strings.TrimSpace(line[len(marker):]), "*"))
		if v == "" {
			return "", false
		}
		return v, true
	}
	return "", false
}

// Number extracts the leading number after marker, e.g. "CONFIDENCE: 85%".
func Number(text, marker string) (float64, bool) {
	v, ok := Field(text, marker)
	if !ok {
		return 0, false
	}
	end := 0
	for end < len(v) && (v[end] == '.' || v[end] == '-' || (v[end] >= '0' && v[end] <= '9')) {
		end++
	}
	f, err := strconv.ParseFloat(v[:end], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
