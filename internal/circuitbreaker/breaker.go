package circuitbreaker

import (
	"log/slog"
	"sync/atomic"

	"github.com/dskow/resilience-core/internal/clock"
	"github.com/dskow/resilience-core/internal/config"
	"github.com/dskow/resilience-core/internal/metrics"
	"github.com/dskow/resilience-core/internal/promexport"
)

// Breaker decides per call whether traffic to a command is allowed.
type Breaker interface {
	// AllowRequest reports whether a request may proceed. Never returns
	// an error: a breaker that failed would defeat its purpose.
	AllowRequest() bool

	// MarkSuccess reports a successful call. A success that resolves a
	// half-open trial closes the circuit and resets the rolling window.
	MarkSuccess()

	// MarkFailure reports a failed call (including timeouts). A failure
	// that resolves a half-open trial reopens the circuit with a fresh
	// sleep window.
	MarkFailure()

	// State returns the current breaker state.
	State() State
}

// CircuitBreaker is the health-driven breaker for one command key.
//
// Trip decision: when the rolling window holds at least the request volume
// threshold and the error percentage meets the error threshold, the circuit
// opens. After the sleep window elapses, exactly one caller wins the
// open→half-open transition and gets the single trial permit; everyone else
// is rejected until the trial resolves.
type CircuitBreaker struct {
	key     string
	props   *config.PropertyHolder
	metrics *metrics.CommandMetrics
	clk     clock.Clock
	logger  *slog.Logger

	state    atomic.Int32
	openedAt atomic.Int64 // epoch millis; meaningful in open/half-open
}

// New creates a breaker for the given command key. Threshold configuration
// is validated here, never at call time.
func New(key string, props *config.PropertyHolder, m *metrics.CommandMetrics, clk clock.Clock, logger *slog.Logger) (*CircuitBreaker, error) {
	if err := props.Get().Validate(); err != nil {
		return nil, err
	}
	return &CircuitBreaker{
		key:     key,
		props:   props,
		metrics: m,
		clk:     clk,
		logger:  logger,
	}, nil
}

// AllowRequest implements Breaker. ForceOpen rejects everything and takes
// precedence over ForceClosed; ForceClosed allows everything but keeps the
// health calculation running so stats stay warm.
func (b *CircuitBreaker) AllowRequest() bool {
	p := b.props.Get()
	if !p.CircuitBreakerEnabled {
		return true
	}
	if p.ForceOpen {
		return false
	}
	if p.ForceClosed {
		b.isOpen()
		return true
	}
	return !b.isOpen() || b.allowSingleTest()
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() State {
	return State(b.state.Load())
}

// OpenedAtMillis returns when the circuit last opened, 0 if it never has.
func (b *CircuitBreaker) OpenedAtMillis() int64 {
	return b.openedAt.Load()
}

// MarkSuccess implements Breaker.
func (b *CircuitBreaker) MarkSuccess() {
	if b.state.CompareAndSwap(int32(StateHalfOpen), int32(StateClosed)) {
		// Trial passed. Drop the window that tripped us so stale errors
		// cannot immediately re-open the circuit.
		b.metrics.ResetCounter()
		b.openedAt.Store(0)
		b.reportTransition(StateHalfOpen, StateClosed)
	}
}

// MarkFailure implements Breaker.
func (b *CircuitBreaker) MarkFailure() {
	if b.state.CompareAndSwap(int32(StateHalfOpen), int32(StateOpen)) {
		b.openedAt.Store(b.clk.NowMillis())
		b.reportTransition(StateHalfOpen, StateOpen)
	}
}

// isOpen reports whether the circuit is open or half-open, tripping it
// from closed when health crosses the configured thresholds.
func (b *CircuitBreaker) isOpen() bool {
	if State(b.state.Load()) != StateClosed {
		return true
	}

	p := b.props.Get()
	hc := b.metrics.HealthCounts()
	if hc.TotalRequests < p.RequestVolumeThreshold {
		return false
	}
	if hc.ErrorPercentage < p.ErrorThresholdPercentage {
		return false
	}

	if b.state.CompareAndSwap(int32(StateClosed), int32(StateOpen)) {
		b.openedAt.Store(b.clk.NowMillis())
		b.reportTransition(StateClosed, StateOpen)
		b.logger.Warn("circuit tripped open",
			"command", b.key,
			"total_requests", hc.TotalRequests,
			"error_percentage", hc.ErrorPercentage,
		)
	}
	return true
}

// allowSingleTest grants the single half-open trial permit once the sleep
// window has elapsed. The compare-and-swap makes exactly one concurrent
// caller the winner; losers stay rejected.
func (b *CircuitBreaker) allowSingleTest() bool {
	opened := b.openedAt.Load()
	if State(b.state.Load()) != StateOpen {
		return false
	}
	if b.clk.NowMillis()-opened < b.props.Get().SleepWindowMs {
		return false
	}
	if b.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
		b.reportTransition(StateOpen, StateHalfOpen)
		return true
	}
	return false
}

// reportTransition emits metrics and logs for a state change.
func (b *CircuitBreaker) reportTransition(from, to State) {
	promexport.CircuitStateChanges.WithLabelValues(b.key, from.String(), to.String()).Inc()
	promexport.CircuitState.WithLabelValues(b.key).Set(float64(to))

	b.logger.Info("circuit breaker state change",
		"command", b.key,
		"from", from.String(),
		"to", to.String(),
	)
}
