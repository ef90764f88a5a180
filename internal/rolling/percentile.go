package rolling

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dskow/resilience-core/internal/clock"
)

// sampleBucket holds the latency samples observed during one time slice,
// in arrival order, capped at the configured data length. Once full,
// further samples in the slice are dropped; memory stays bounded.
type sampleBucket struct {
	windowStart int64

	mu     sync.Mutex
	values []int64
}

func (b *sampleBucket) add(v int64, limit int) {
	b.mu.Lock()
	if len(b.values) < limit {
		b.values = append(b.values, v)
	}
	b.mu.Unlock()
}

func (b *sampleBucket) snapshot(dst []int64) []int64 {
	b.mu.Lock()
	dst = append(dst, b.values...)
	b.mu.Unlock()
	return dst
}

// Percentile is a rolling window of sampled latency values, with the same
// bucket/rollover timing discipline as Number but independent duration,
// bucket count, and per-bucket capacity. When disabled, every method is a
// no-op returning zero.
type Percentile struct {
	enabled      bool
	clk          clock.Clock
	windowMs     int64
	bucketSizeMs int64
	bucketCount  int
	dataLength   int

	mu      sync.Mutex
	ring    []atomic.Pointer[sampleBucket]
	head    int
	current atomic.Pointer[sampleBucket]
}

// NewPercentile creates a rolling percentile window. When enabled,
// windowMs must be a positive multiple of bucketCount and dataLength
// must be positive.
func NewPercentile(windowMs int64, bucketCount, dataLength int, enabled bool, clk clock.Clock) (*Percentile, error) {
	if !enabled {
		return &Percentile{}, nil
	}
	if windowMs <= 0 || bucketCount <= 0 {
		return nil, fmt.Errorf("rolling percentile: duration %dms and bucket count %d must be positive", windowMs, bucketCount)
	}
	if windowMs%int64(bucketCount) != 0 {
		return nil, fmt.Errorf("rolling percentile: duration %dms is not divisible by %d buckets", windowMs, bucketCount)
	}
	if dataLength <= 0 {
		return nil, fmt.Errorf("rolling percentile: bucket data length %d must be positive", dataLength)
	}
	return &Percentile{
		enabled:      true,
		clk:          clk,
		windowMs:     windowMs,
		bucketSizeMs: windowMs / int64(bucketCount),
		bucketCount:  bucketCount,
		dataLength:   dataLength,
		ring:         make([]atomic.Pointer[sampleBucket], bucketCount),
	}, nil
}

// Enabled reports whether percentile tracking is active.
func (p *Percentile) Enabled() bool {
	return p.enabled
}

// AddValue records a latency sample in the current bucket. Samples beyond
// the bucket's capacity are dropped silently.
func (p *Percentile) AddValue(latencyMs int64) {
	if !p.enabled {
		return
	}
	b := p.currentBucket(p.clk.NowMillis())
	b.add(latencyMs, p.dataLength)
}

// GetPercentile returns the nearest-rank percentile of all samples in live
// buckets: 0 picks the minimum, 100 the maximum. Returns 0 when disabled
// or when no samples exist.
func (p *Percentile) GetPercentile(pct float64) int64 {
	samples := p.liveSamples()
	if len(samples) == 0 {
		return 0
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	idx := int(math.Ceil(pct/100*float64(len(samples)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(samples) {
		idx = len(samples) - 1
	}
	return samples[idx]
}

// Mean returns the arithmetic mean of all live samples, 0 when empty.
func (p *Percentile) Mean() float64 {
	samples := p.liveSamples()
	if len(samples) == 0 {
		return 0
	}
	var sum int64
	for _, v := range samples {
		sum += v
	}
	return float64(sum) / float64(len(samples))
}

// liveSamples rolls the window forward and gathers every sample from
// buckets still inside it.
func (p *Percentile) liveSamples() []int64 {
	if !p.enabled {
		return nil
	}
	now := p.clk.NowMillis()
	p.currentBucket(now)

	var out []int64
	for i := range p.ring {
		b := p.ring[i].Load()
		if b == nil || b.windowStart > now || now-b.windowStart >= p.windowMs {
			continue
		}
		out = b.snapshot(out)
	}
	return out
}

// currentBucket follows the same single-winner rollover discipline as
// Number.currentBucket.
func (p *Percentile) currentBucket(now int64) *sampleBucket {
	if b := p.current.Load(); b != nil && now-b.windowStart < p.bucketSizeMs {
		return b
	}

	if p.mu.TryLock() {
		b := p.roll(now)
		p.mu.Unlock()
		return b
	}

	if b := p.current.Load(); b != nil {
		return b
	}

	p.mu.Lock()
	b := p.roll(now)
	p.mu.Unlock()
	return b
}

// roll advances the ring to cover now. Caller must hold mu.
func (p *Percentile) roll(now int64) *sampleBucket {
	newBucket := func(start int64) *sampleBucket {
		return &sampleBucket{
			windowStart: start,
			values:      make([]int64, 0, p.dataLength),
		}
	}

	b := p.current.Load()
	if b == nil {
		nb := newBucket(now - now%p.bucketSizeMs)
		p.head = 0
		p.ring[0].Store(nb)
		p.current.Store(nb)
		return nb
	}

	elapsed := (now - b.windowStart) / p.bucketSizeMs
	switch {
	case elapsed <= 0:
		return b

	case elapsed > int64(p.bucketCount):
		for i := range p.ring {
			p.ring[i].Store(nil)
		}
		nb := newBucket(now - now%p.bucketSizeMs)
		p.head = 0
		p.ring[0].Store(nb)
		p.current.Store(nb)
		return nb

	default:
		var nb *sampleBucket
		for i := int64(1); i <= elapsed; i++ {
			nb = newBucket(b.windowStart + i*p.bucketSizeMs)
			p.head = (p.head + 1) % p.bucketCount
			p.ring[p.head].Store(nb)
		}
		p.current.Store(nb)
		return nb
	}
}
