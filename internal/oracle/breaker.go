package oracle

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// BreakerState is the state of the oracle circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrBreakerOpen is returned without calling the API while the breaker is open.
var ErrBreakerOpen = eris.New("oracle: circuit breaker is open")

// breaker opens after threshold consecutive failures and lets one probe
// through once resetAfter has elapsed.
type breaker struct {
	mu         sync.Mutex
	state      BreakerState
	failures   int
	openedAt   time.Time
	threshold  int
	resetAfter time.Duration
	now        func() time.Time
}

func newBreaker(threshold int, resetAfter time.Duration) *breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetAfter <= 0 {
		resetAfter = 30 * time.Second
	}
	return &breaker{threshold: threshold, resetAfter: resetAfter, now: time.Now}
}

func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen {
		if b.now().Sub(b.openedAt) < b.resetAfter {
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
	}
	return nil
}

func (b *breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.state = BreakerClosed
		b.failures = 0
		return
	}
	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

func (b *breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
