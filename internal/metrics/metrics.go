// Package metrics records per-command outcome statistics: a rolling counter
// window, a rolling latency percentile window, and a throttled health
// snapshot derived from them. One CommandMetrics instance exists per command
// key for the life of the process; the circuit breaker reads its health
// snapshot to make allow/deny decisions.
package metrics

import (
	"log/slog"
	"sync/atomic"

	"github.com/dskow/resilience-core/internal/clock"
	"github.com/dskow/resilience-core/internal/config"
	"github.com/dskow/resilience-core/internal/rolling"
)

// Notifier receives fire-and-forget event notifications. Implementations
// must not block; panics are contained by the caller and never reach the
// metrics path.
type Notifier interface {
	MarkEvent(e rolling.Event, commandKey string)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) MarkEvent(rolling.Event, string) {}

// HealthCounts is an immutable snapshot of request volume and error rate
// over the rolling window. ErrorPercentage uses integer truncation toward
// zero; threshold comparisons at boundary values depend on it.
type HealthCounts struct {
	TotalRequests   int64
	ErrorCount      int64
	ErrorPercentage int64
}

// CommandMetrics aggregates outcomes for one command key.
type CommandMetrics struct {
	key        string
	props      *config.PropertyHolder
	counter    *rolling.Number
	percentile *rolling.Percentile
	notifier   Notifier
	clk        clock.Clock
	logger     *slog.Logger

	// Health snapshot throttle: the caller that swaps lastSnapshotMs
	// forward recomputes; everyone else reads the published snapshot.
	lastSnapshotMs atomic.Int64
	snapshot       atomic.Pointer[HealthCounts]
}

// New creates the metrics instance for a command key. Window geometry is
// taken from the holder's current properties and fixed for the life of the
// instance. Fails if the rolling window configuration is invalid.
func New(key string, props *config.PropertyHolder, notifier Notifier, clk clock.Clock, logger *slog.Logger) (*CommandMetrics, error) {
	p := props.Get()
	counter, err := rolling.NewNumber(p.RollingStatsWindowMs, p.RollingStatsBuckets, clk)
	if err != nil {
		return nil, err
	}
	pct, err := rolling.NewPercentile(
		p.RollingPercentileWindowMs,
		p.RollingPercentileBuckets,
		p.RollingPercentileBucketSize,
		p.RollingPercentileEnabled,
		clk,
	)
	if err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	m := &CommandMetrics{
		key:        key,
		props:      props,
		counter:    counter,
		percentile: pct,
		notifier:   notifier,
		clk:        clk,
		logger:     logger,
	}
	m.lastSnapshotMs.Store(clk.NowMillis())
	return m, nil
}

// Key returns the command key this instance belongs to.
func (m *CommandMetrics) Key() string {
	return m.key
}

// MarkSuccess records a successful execution and its latency.
func (m *CommandMetrics) MarkSuccess(durationMs int64) {
	m.notify(rolling.Success)
	m.counter.Increment(rolling.Success)
	m.percentile.AddValue(durationMs)
}

// MarkFailure records a failed execution and its latency.
func (m *CommandMetrics) MarkFailure(durationMs int64) {
	m.notify(rolling.Failure)
	m.counter.Increment(rolling.Failure)
	m.percentile.AddValue(durationMs)
}

// MarkTimeout records an execution that exceeded its deadline.
func (m *CommandMetrics) MarkTimeout(durationMs int64) {
	m.notify(rolling.Timeout)
	m.counter.Increment(rolling.Timeout)
	m.percentile.AddValue(durationMs)
}

// MarkBadRequest records an execution rejected as a caller error. Bad
// requests do not count toward the health error rate.
func (m *CommandMetrics) MarkBadRequest(durationMs int64) {
	m.notify(rolling.BadRequest)
	m.counter.Increment(rolling.BadRequest)
	m.percentile.AddValue(durationMs)
}

// MarkShortCircuited records a call rejected by an open circuit.
func (m *CommandMetrics) MarkShortCircuited() {
	m.notify(rolling.ShortCircuited)
	m.counter.Increment(rolling.ShortCircuited)
}

// MarkSemaphoreRejected records a call rejected for exceeding the
// command's concurrency limit.
func (m *CommandMetrics) MarkSemaphoreRejected() {
	m.notify(rolling.SemaphoreRejected)
	m.counter.Increment(rolling.SemaphoreRejected)
}

// MarkThreadPoolRejected records a rejection reported by an external
// worker-pool executor.
func (m *CommandMetrics) MarkThreadPoolRejected() {
	m.notify(rolling.ThreadPoolRejected)
	m.counter.Increment(rolling.ThreadPoolRejected)
}

// MarkFallbackSuccess records a fallback that produced a result.
func (m *CommandMetrics) MarkFallbackSuccess() {
	m.notify(rolling.FallbackSuccess)
	m.counter.Increment(rolling.FallbackSuccess)
}

// MarkFallbackFailure records a fallback that itself failed.
func (m *CommandMetrics) MarkFallbackFailure() {
	m.notify(rolling.FallbackFailure)
	m.counter.Increment(rolling.FallbackFailure)
}

// MarkFallbackRejection records a fallback rejected by its concurrency limit.
func (m *CommandMetrics) MarkFallbackRejection() {
	m.notify(rolling.FallbackRejection)
	m.counter.Increment(rolling.FallbackRejection)
}

// MarkExceptionThrown records an execution that panicked or surfaced an
// unexpected error to the caller.
func (m *CommandMetrics) MarkExceptionThrown() {
	m.notify(rolling.ExceptionThrown)
	m.counter.Increment(rolling.ExceptionThrown)
}

// MarkResponseFromCache records a result served from a request cache.
func (m *CommandMetrics) MarkResponseFromCache() {
	m.notify(rolling.ResponseFromCache)
	m.counter.Increment(rolling.ResponseFromCache)
}

// UpdateMaxActive records the number of concurrently executing calls,
// keeping the per-bucket maximum.
func (m *CommandMetrics) UpdateMaxActive(active int64) {
	m.counter.UpdateRollingMax(rolling.CommandMaxActive, active)
}

// RollingSum returns the windowed sum for e.
func (m *CommandMetrics) RollingSum(e rolling.Event) int64 {
	return m.counter.RollingSum(e)
}

// RollingMax returns the windowed maximum for a max-updater event.
func (m *CommandMetrics) RollingMax(e rolling.Event) int64 {
	return m.counter.RollingMax(e)
}

// Cumulative returns the all-time total for e.
func (m *CommandMetrics) Cumulative(e rolling.Event) int64 {
	return m.counter.Cumulative(e)
}

// GetPercentile returns the pct latency percentile over the live window.
func (m *CommandMetrics) GetPercentile(pct float64) int64 {
	return m.percentile.GetPercentile(pct)
}

// Mean returns the mean latency over the live window.
func (m *CommandMetrics) Mean() float64 {
	return m.percentile.Mean()
}

// ResetCounter discards the rolling counter window. Called when a circuit
// closes after a successful trial so stale errors cannot re-trip it.
func (m *CommandMetrics) ResetCounter() {
	m.counter.Reset()
}

// HealthCounts returns the current health snapshot, recomputing at most
// once per the configured snapshot interval regardless of read volume.
// Exactly one concurrent caller wins the refresh; losers return the
// previous snapshot without blocking.
func (m *CommandMetrics) HealthCounts() HealthCounts {
	last := m.lastSnapshotMs.Load()
	now := m.clk.NowMillis()

	if m.snapshot.Load() == nil || now-last >= m.props.Get().HealthSnapshotIntervalMs {
		if m.lastSnapshotMs.CompareAndSwap(last, now) {
			success := m.counter.RollingSum(rolling.Success)
			failure := m.counter.RollingSum(rolling.Failure)
			timeout := m.counter.RollingSum(rolling.Timeout)
			poolRejected := m.counter.RollingSum(rolling.ThreadPoolRejected)
			semRejected := m.counter.RollingSum(rolling.SemaphoreRejected)
			shortCircuited := m.counter.RollingSum(rolling.ShortCircuited)

			total := success + failure + timeout + poolRejected + semRejected + shortCircuited
			errs := total - success

			var pct int64
			if total > 0 {
				pct = errs * 100 / total
			}
			m.snapshot.Store(&HealthCounts{
				TotalRequests:   total,
				ErrorCount:      errs,
				ErrorPercentage: pct,
			})
		}
	}

	if s := m.snapshot.Load(); s != nil {
		return *s
	}
	// Lost the very first refresh race; no history means no errors.
	return HealthCounts{}
}

// notify invokes the notification hook, containing any panic so a broken
// listener cannot corrupt the metrics path.
func (m *CommandMetrics) notify(e rolling.Event) {
	defer func() {
		if r := recover(); r != nil && m.logger != nil {
			m.logger.Warn("event notifier panicked", "command", m.key, "event", e.String(), "panic", r)
		}
	}()
	m.notifier.MarkEvent(e, m.key)
}
