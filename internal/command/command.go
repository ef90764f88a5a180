// Package command wires one named unit of potentially-failing work to its
// metrics, circuit breaker, and concurrency limits, and provides the
// process-wide registry that hands out one instance per command key.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dskow/resilience-core/internal/circuitbreaker"
	"github.com/dskow/resilience-core/internal/clock"
	"github.com/dskow/resilience-core/internal/config"
	"github.com/dskow/resilience-core/internal/metrics"
)

// Run is the protected operation. It should honor ctx cancellation; the
// runner enforces the execution timeout through the context deadline.
type Run func(ctx context.Context) error

// Fallback produces a degraded result when the primary path is rejected or
// fails. cause is the error that triggered it.
type Fallback func(ctx context.Context, cause error) error

// Command is one named unit of work with its protection stack. Instances
// come from a Registry and live for the process lifetime of their key.
type Command struct {
	key     string
	props   *config.PropertyHolder
	metrics *metrics.CommandMetrics
	breaker *circuitbreaker.CircuitBreaker
	execSem *circuitbreaker.Semaphore
	fbSem   *circuitbreaker.Semaphore
	clk     clock.Clock
	logger  *slog.Logger

	active atomic.Int64
}

func newCommand(key string, holder *config.PropertyHolder, notifier metrics.Notifier, clk clock.Clock, logger *slog.Logger) (*Command, error) {
	m, err := metrics.New(key, holder, notifier, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("command %q: %w", key, err)
	}
	b, err := circuitbreaker.New(key, holder, m, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("command %q: %w", key, err)
	}
	p := holder.Get()
	return &Command{
		key:     key,
		props:   holder,
		metrics: m,
		breaker: b,
		execSem: circuitbreaker.NewSemaphore(key, "execution", p.ExecutionMaxConcurrency),
		fbSem:   circuitbreaker.NewSemaphore(key, "fallback", p.FallbackMaxConcurrency),
		clk:     clk,
		logger:  logger,
	}, nil
}

// Key returns the command key.
func (c *Command) Key() string {
	return c.key
}

// Metrics returns the command's metrics instance.
func (c *Command) Metrics() *metrics.CommandMetrics {
	return c.metrics
}

// Breaker returns the command's circuit breaker.
func (c *Command) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// Do executes run under the command's protections: circuit breaker first,
// then the concurrency semaphore, then the execution timeout. Rejections
// and failures route through fallback when one is provided and enabled;
// bad requests propagate to the caller untouched.
func (c *Command) Do(ctx context.Context, run Run, fallback Fallback) error {
	if !c.breaker.AllowRequest() {
		c.metrics.MarkShortCircuited()
		return c.runFallback(ctx, ErrCircuitOpen, fallback)
	}

	if !c.execSem.TryAcquire() {
		c.metrics.MarkSemaphoreRejected()
		return c.runFallback(ctx, ErrMaxConcurrency, fallback)
	}
	defer c.execSem.Release()

	c.metrics.UpdateMaxActive(c.active.Add(1))
	defer c.active.Add(-1)

	p := c.props.Get()
	execCtx := ctx
	cancel := func() {}
	if p.ExecutionTimeoutMs > 0 {
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(p.ExecutionTimeoutMs)*time.Millisecond)
	}
	defer cancel()

	start := c.clk.NowMillis()
	err := c.execute(execCtx, run)
	elapsed := c.clk.NowMillis() - start

	switch {
	case err == nil:
		c.metrics.MarkSuccess(elapsed)
		c.breaker.MarkSuccess()
		return nil

	case IsBadRequest(err):
		// Caller error: no health impact, no fallback.
		c.metrics.MarkBadRequest(elapsed)
		return err

	case execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		c.metrics.MarkTimeout(elapsed)
		c.breaker.MarkFailure()
		return c.runFallback(ctx, fmt.Errorf("%w after %dms", ErrTimeout, elapsed), fallback)

	default:
		c.metrics.MarkFailure(elapsed)
		c.breaker.MarkFailure()
		return c.runFallback(ctx, err, fallback)
	}
}

// execute invokes run, converting panics into errors so a misbehaving
// operation cannot take down the caller.
func (c *Command) execute(ctx context.Context, run Run) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.metrics.MarkExceptionThrown()
				c.logger.Error("command panicked", "command", c.key, "panic", r)
				done <- fmt.Errorf("command %q panicked: %v", c.key, r)
			}
		}()
		done <- run(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runFallback routes a rejection or failure through the fallback, guarded
// by the fallback semaphore. Without a usable fallback the cause
// propagates unchanged.
func (c *Command) runFallback(ctx context.Context, cause error, fallback Fallback) error {
	if fallback == nil || !c.props.Get().FallbackEnabled {
		return cause
	}

	if !c.fbSem.TryAcquire() {
		c.metrics.MarkFallbackRejection()
		return cause
	}
	defer c.fbSem.Release()

	if err := fallback(ctx, cause); err != nil {
		c.metrics.MarkFallbackFailure()
		return fmt.Errorf("fallback failed: %w (cause: %v)", err, cause)
	}
	c.metrics.MarkFallbackSuccess()
	return nil
}
