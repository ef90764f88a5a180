package command

import (
	"log/slog"
	"sync"

	"github.com/dskow/resilience-core/internal/clock"
	"github.com/dskow/resilience-core/internal/config"
	"github.com/dskow/resilience-core/internal/metrics"
	"github.com/dskow/resilience-core/internal/promexport"
)

// PropsFunc resolves the effective properties for a command key. Typically
// (*config.Config).PropertiesFor.
type PropsFunc func(key string) config.Properties

// Registry hands out the single Command instance per key, creating it on
// first use. It owns no hidden global state: callers construct one Registry
// per process and tear it down explicitly.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command

	propsFor PropsFunc
	notifier metrics.Notifier
	clk      clock.Clock
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. propsFor resolves per-key
// properties at creation time; notifier may be nil for no notifications.
func NewRegistry(propsFor PropsFunc, notifier metrics.Notifier, clk clock.Clock, logger *slog.Logger) *Registry {
	return &Registry{
		commands: make(map[string]*Command),
		propsFor: propsFor,
		notifier: notifier,
		clk:      clk,
		logger:   logger,
	}
}

// Get returns the command registered under key, creating it with its
// resolved properties if it does not exist. Concurrent callers for the
// same key always receive the same instance.
func (r *Registry) Get(key string) (*Command, error) {
	r.mu.RLock()
	c, ok := r.commands[key]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock.
	if c, ok = r.commands[key]; ok {
		return c, nil
	}

	holder := config.NewHolder(r.propsFor(key))
	c, err := newCommand(key, holder, r.notifier, r.clk, r.logger)
	if err != nil {
		return nil, err
	}
	r.commands[key] = c
	return c, nil
}

// All returns a snapshot of all registered commands keyed by name.
func (r *Registry) All() map[string]*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*Command, len(r.commands))
	for k, v := range r.commands {
		out[k] = v
	}
	return out
}

// UpdateProperties re-resolves properties for every registered command,
// swapping thresholds and flags in place. Window geometry changes only
// apply to commands created afterward; a change on a live command is
// logged and otherwise ignored.
func (r *Registry) UpdateProperties(propsFor PropsFunc) {
	r.mu.Lock()
	r.propsFor = propsFor
	commands := make(map[string]*Command, len(r.commands))
	for k, v := range r.commands {
		commands[k] = v
	}
	r.mu.Unlock()

	for key, c := range commands {
		old := c.props.Get()
		next := propsFor(key)
		if next.RollingStatsWindowMs != old.RollingStatsWindowMs ||
			next.RollingStatsBuckets != old.RollingStatsBuckets ||
			next.RollingPercentileWindowMs != old.RollingPercentileWindowMs ||
			next.RollingPercentileBuckets != old.RollingPercentileBuckets ||
			next.RollingPercentileBucketSize != old.RollingPercentileBucketSize {
			r.logger.Warn("rolling window geometry change ignored for live command",
				"command", key,
			)
			// Preserve live geometry, apply everything else.
			next.RollingStatsWindowMs = old.RollingStatsWindowMs
			next.RollingStatsBuckets = old.RollingStatsBuckets
			next.RollingPercentileWindowMs = old.RollingPercentileWindowMs
			next.RollingPercentileBuckets = old.RollingPercentileBuckets
			next.RollingPercentileBucketSize = old.RollingPercentileBucketSize
		}
		if err := next.Validate(); err != nil {
			r.logger.Error("rejecting invalid properties on reload",
				"command", key, "error", err,
			)
			continue
		}
		c.props.Update(next)
	}
}

// LatencyStats summarizes every command's live latency distribution, in
// the shape the Prometheus latency collector consumes.
func (r *Registry) LatencyStats() map[string]promexport.LatencyStats {
	all := r.All()
	out := make(map[string]promexport.LatencyStats, len(all))
	for key, c := range all {
		out[key] = promexport.LatencyStats{
			Mean: c.metrics.Mean(),
			P50:  c.metrics.GetPercentile(50),
			P90:  c.metrics.GetPercentile(90),
			P99:  c.metrics.GetPercentile(99),
		}
	}
	return out
}
