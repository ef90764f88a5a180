package config

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Default property values. A 10 second statistical window of 10 buckets
// means one bucket per second; the percentile window is a minute of
// 10-second buckets capped at 100 samples each.
const (
	DefaultRollingStatsWindowMs        = 10000
	DefaultRollingStatsBuckets         = 10
	DefaultRequestVolumeThreshold      = 20
	DefaultSleepWindowMs               = 5000
	DefaultErrorThresholdPercentage    = 50
	DefaultExecutionTimeoutMs          = 1000
	DefaultRollingPercentileWindowMs   = 60000
	DefaultRollingPercentileBuckets    = 6
	DefaultRollingPercentileBucketSize = 100
	DefaultHealthSnapshotIntervalMs    = 500
	DefaultExecutionMaxConcurrency     = 10
	DefaultFallbackMaxConcurrency      = 10
)

// Properties is the fully resolved per-command configuration consumed by
// the metrics, breaker, and runner layers. Instances are immutable once
// resolved; a config reload produces a new Properties value.
type Properties struct {
	CircuitBreakerEnabled    bool
	RequestVolumeThreshold   int64
	SleepWindowMs            int64
	ErrorThresholdPercentage int64
	ForceOpen                bool
	ForceClosed              bool

	RollingStatsWindowMs int64
	RollingStatsBuckets  int

	RollingPercentileEnabled    bool
	RollingPercentileWindowMs   int64
	RollingPercentileBuckets    int
	RollingPercentileBucketSize int

	HealthSnapshotIntervalMs int64

	ExecutionTimeoutMs      int64
	ExecutionMaxConcurrency int
	FallbackEnabled         bool
	FallbackMaxConcurrency  int
}

// DefaultProperties returns the baseline property set.
func DefaultProperties() Properties {
	return Properties{
		CircuitBreakerEnabled:       true,
		RequestVolumeThreshold:      DefaultRequestVolumeThreshold,
		SleepWindowMs:               DefaultSleepWindowMs,
		ErrorThresholdPercentage:    DefaultErrorThresholdPercentage,
		RollingStatsWindowMs:        DefaultRollingStatsWindowMs,
		RollingStatsBuckets:         DefaultRollingStatsBuckets,
		RollingPercentileEnabled:    true,
		RollingPercentileWindowMs:   DefaultRollingPercentileWindowMs,
		RollingPercentileBuckets:    DefaultRollingPercentileBuckets,
		RollingPercentileBucketSize: DefaultRollingPercentileBucketSize,
		HealthSnapshotIntervalMs:    DefaultHealthSnapshotIntervalMs,
		ExecutionTimeoutMs:          DefaultExecutionTimeoutMs,
		ExecutionMaxConcurrency:     DefaultExecutionMaxConcurrency,
		FallbackEnabled:             true,
		FallbackMaxConcurrency:      DefaultFallbackMaxConcurrency,
	}
}

// Overrides carries optional per-command property overrides. A nil field
// means "no override" and the base value wins. Pointer fields rather than
// a fluent setter keep precedence resolution a pure function.
type Overrides struct {
	CircuitBreakerEnabled    *bool  `yaml:"circuit_breaker_enabled"`
	RequestVolumeThreshold   *int64 `yaml:"request_volume_threshold"`
	SleepWindowMs            *int64 `yaml:"sleep_window_ms"`
	ErrorThresholdPercentage *int64 `yaml:"error_threshold_percentage"`
	ForceOpen                *bool  `yaml:"force_open"`
	ForceClosed              *bool  `yaml:"force_closed"`

	RollingStatsWindowMs *int64 `yaml:"rolling_stats_window_ms"`
	RollingStatsBuckets  *int   `yaml:"rolling_stats_buckets"`

	RollingPercentileEnabled    *bool  `yaml:"rolling_percentile_enabled"`
	RollingPercentileWindowMs   *int64 `yaml:"rolling_percentile_window_ms"`
	RollingPercentileBuckets    *int   `yaml:"rolling_percentile_buckets"`
	RollingPercentileBucketSize *int   `yaml:"rolling_percentile_bucket_size"`

	HealthSnapshotIntervalMs *int64 `yaml:"health_snapshot_interval_ms"`

	ExecutionTimeoutMs      *int64 `yaml:"execution_timeout_ms"`
	ExecutionMaxConcurrency *int   `yaml:"execution_max_concurrency"`
	FallbackEnabled         *bool  `yaml:"fallback_enabled"`
	FallbackMaxConcurrency  *int   `yaml:"fallback_max_concurrency"`
}

// Resolve applies o on top of base: present fields override, absent fields
// keep the base value. Pure; neither input is mutated.
func Resolve(base Properties, o Overrides) Properties {
	out := base
	if o.CircuitBreakerEnabled != nil {
		out.CircuitBreakerEnabled = *o.CircuitBreakerEnabled
	}
	if o.RequestVolumeThreshold != nil {
		out.RequestVolumeThreshold = *o.RequestVolumeThreshold
	}
	if o.SleepWindowMs != nil {
		out.SleepWindowMs = *o.SleepWindowMs
	}
	if o.ErrorThresholdPercentage != nil {
		out.ErrorThresholdPercentage = *o.ErrorThresholdPercentage
	}
	if o.ForceOpen != nil {
		out.ForceOpen = *o.ForceOpen
	}
	if o.ForceClosed != nil {
		out.ForceClosed = *o.ForceClosed
	}
	if o.RollingStatsWindowMs != nil {
		out.RollingStatsWindowMs = *o.RollingStatsWindowMs
	}
	if o.RollingStatsBuckets != nil {
		out.RollingStatsBuckets = *o.RollingStatsBuckets
	}
	if o.RollingPercentileEnabled != nil {
		out.RollingPercentileEnabled = *o.RollingPercentileEnabled
	}
	if o.RollingPercentileWindowMs != nil {
		out.RollingPercentileWindowMs = *o.RollingPercentileWindowMs
	}
	if o.RollingPercentileBuckets != nil {
		out.RollingPercentileBuckets = *o.RollingPercentileBuckets
	}
	if o.RollingPercentileBucketSize != nil {
		out.RollingPercentileBucketSize = *o.RollingPercentileBucketSize
	}
	if o.HealthSnapshotIntervalMs != nil {
		out.HealthSnapshotIntervalMs = *o.HealthSnapshotIntervalMs
	}
	if o.ExecutionTimeoutMs != nil {
		out.ExecutionTimeoutMs = *o.ExecutionTimeoutMs
	}
	if o.ExecutionMaxConcurrency != nil {
		out.ExecutionMaxConcurrency = *o.ExecutionMaxConcurrency
	}
	if o.FallbackEnabled != nil {
		out.FallbackEnabled = *o.FallbackEnabled
	}
	if o.FallbackMaxConcurrency != nil {
		out.FallbackMaxConcurrency = *o.FallbackMaxConcurrency
	}
	return out
}

// Validate checks a resolved property set. All problems are reported at
// once so a config file can be fixed in one pass.
func (p Properties) Validate() error {
	var problems []string

	if p.RollingStatsWindowMs <= 0 || p.RollingStatsBuckets <= 0 {
		problems = append(problems, fmt.Sprintf("rolling stats window %dms and bucket count %d must be positive", p.RollingStatsWindowMs, p.RollingStatsBuckets))
	} else if p.RollingStatsWindowMs%int64(p.RollingStatsBuckets) != 0 {
		problems = append(problems, fmt.Sprintf("rolling stats window %dms is not divisible by %d buckets", p.RollingStatsWindowMs, p.RollingStatsBuckets))
	}

	if p.RollingPercentileEnabled {
		if p.RollingPercentileWindowMs <= 0 || p.RollingPercentileBuckets <= 0 {
			problems = append(problems, fmt.Sprintf("rolling percentile window %dms and bucket count %d must be positive", p.RollingPercentileWindowMs, p.RollingPercentileBuckets))
		} else if p.RollingPercentileWindowMs%int64(p.RollingPercentileBuckets) != 0 {
			problems = append(problems, fmt.Sprintf("rolling percentile window %dms is not divisible by %d buckets", p.RollingPercentileWindowMs, p.RollingPercentileBuckets))
		}
		if p.RollingPercentileBucketSize <= 0 {
			problems = append(problems, "rolling percentile bucket size must be positive")
		}
	}

	if p.ErrorThresholdPercentage < 0 || p.ErrorThresholdPercentage > 100 {
		problems = append(problems, fmt.Sprintf("error threshold percentage %d must be between 0 and 100", p.ErrorThresholdPercentage))
	}
	if p.RequestVolumeThreshold < 0 {
		problems = append(problems, fmt.Sprintf("request volume threshold %d must be non-negative", p.RequestVolumeThreshold))
	}
	if p.SleepWindowMs <= 0 {
		problems = append(problems, fmt.Sprintf("sleep window %dms must be positive", p.SleepWindowMs))
	}
	if p.HealthSnapshotIntervalMs < 0 {
		problems = append(problems, fmt.Sprintf("health snapshot interval %dms must be non-negative", p.HealthSnapshotIntervalMs))
	}
	if p.ExecutionTimeoutMs < 0 {
		problems = append(problems, fmt.Sprintf("execution timeout %dms must be non-negative", p.ExecutionTimeoutMs))
	}
	if p.ExecutionMaxConcurrency < 0 {
		problems = append(problems, "execution max concurrency must be non-negative")
	}
	if p.FallbackMaxConcurrency < 0 {
		problems = append(problems, "fallback max concurrency must be non-negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid command properties: %s", strings.Join(problems, "; "))
	}
	return nil
}

// PropertyHolder publishes the live Properties for one command. Readers get
// a consistent immutable snapshot; a config reload swaps the whole value.
// Window geometry (durations, bucket counts, capacities) is only read at
// construction of the rolling structures and does not change on reload.
type PropertyHolder struct {
	p atomic.Pointer[Properties]
}

// NewHolder creates a holder with the given initial properties.
func NewHolder(p Properties) *PropertyHolder {
	h := &PropertyHolder{}
	h.p.Store(&p)
	return h
}

// Get returns the current properties snapshot. Never nil.
func (h *PropertyHolder) Get() *Properties {
	return h.p.Load()
}

// Update atomically replaces the held properties.
func (h *PropertyHolder) Update(p Properties) {
	h.p.Store(&p)
}
