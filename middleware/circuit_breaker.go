package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shrek82/jconn/core"
	"github.com/shrek82/jconn/dberr"
	"github.com/shrek82/jconn/dialect"
)

// ErrCircuitOpen is returned without touching the database while the breaker
// is open. It is an operational error, so the wrapper flags the connection
// and the pool can recycle it.
var ErrCircuitOpen = &dberr.DatabaseError{Kind: dberr.KindOperational, Err: errors.New("circuit breaker is open")}

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "closed"
}

// CircuitBreakerMiddleware stops sending statements after Threshold
// consecutive connection-level failures, and lets a single probe through
// once ResetTimeout has elapsed. Integrity, data and programming errors are
// caused by the statement, not the connection, and don't count.
type CircuitBreakerMiddleware struct {
	Threshold    int           // Number of failures before opening
	ResetTimeout time.Duration // Time to wait before half-open

	mu             sync.Mutex
	state          State
	failures       int
	lastFailure    time.Time
	halfOpenPassed bool
	backends       map[string]dialect.Backend
	now            func() time.Time
}

func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreakerMiddleware {
	return &CircuitBreakerMiddleware{
		Threshold:    threshold,
		ResetTimeout: resetTimeout,
		state:        StateClosed,
		backends:     make(map[string]dialect.Backend),
		now:          time.Now,
	}
}

func (m *CircuitBreakerMiddleware) Name() string {
	return "CircuitBreaker"
}

func (m *CircuitBreakerMiddleware) Init(w *core.Wrapper) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backends[w.Vendor()] = w.Backend()
	return nil
}

func (m *CircuitBreakerMiddleware) Shutdown() error {
	return nil
}

// State returns the current breaker state.
func (m *CircuitBreakerMiddleware) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *CircuitBreakerMiddleware) Process(ctx context.Context, e *core.Execution, next core.ExecFunc) (*core.Outcome, error) {
	m.mu.Lock()
	switch m.state {
	case StateOpen:
		if m.now().Sub(m.lastFailure) > m.ResetTimeout {
			m.state = StateHalfOpen
			m.halfOpenPassed = false
		} else {
			m.mu.Unlock()
			return nil, ErrCircuitOpen
		}
	case StateHalfOpen:
		// Only one probe at a time.
		if m.halfOpenPassed {
			m.mu.Unlock()
			return nil, ErrCircuitOpen
		}
	}
	if m.state == StateHalfOpen {
		m.halfOpenPassed = true
	}
	m.mu.Unlock()

	out, err := next(ctx, e)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil && m.connectionFailure(e.Vendor, err) {
		m.recordFailure()
	} else {
		m.recordSuccess()
	}

	return out, err
}

func (m *CircuitBreakerMiddleware) connectionFailure(vendor string, err error) bool {
	b, ok := m.backends[vendor]
	if !ok {
		return true
	}
	kind, _, ok := b.ClassifyError(err)
	if !ok {
		return true
	}
	return kind == dberr.KindOperational || kind == dberr.KindInterface
}

func (m *CircuitBreakerMiddleware) recordFailure() {
	m.failures++
	m.lastFailure = m.now()

	switch m.state {
	case StateClosed:
		if m.failures >= m.Threshold {
			m.state = StateOpen
		}
	case StateHalfOpen:
		m.state = StateOpen
		m.halfOpenPassed = false
	}
}

// recordSuccess resets the count, so only consecutive failures open the
// breaker.
func (m *CircuitBreakerMiddleware) recordSuccess() {
	if m.state == StateHalfOpen {
		m.state = StateClosed
		m.halfOpenPassed = false
	}
	m.failures = 0
}
