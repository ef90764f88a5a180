package rolling

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dskow/resilience-core/internal/clock"
)

// bucket is one time slice of the window. Counter events accumulate with
// atomic adds; max-updater events keep the largest value seen in the slice.
// A bucket is owned by its parent Number and never shared externally.
type bucket struct {
	windowStart int64 // epoch millis, aligned to bucket size
	values      [numEvents]atomic.Int64
}

func (b *bucket) add(e Event, v int64) {
	b.values[e].Add(v)
}

func (b *bucket) updateMax(e Event, v int64) {
	storeMax(&b.values[e], v)
}

func (b *bucket) get(e Event) int64 {
	return b.values[e].Load()
}

// storeMax raises the slot to v unless a larger value is already present.
func storeMax(slot *atomic.Int64, v int64) {
	for {
		cur := slot.Load()
		if v <= cur {
			return
		}
		if slot.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Number is a rolling counter window: bucketCount buckets over windowMs,
// advancing in wall-clock time. Increments hit the current bucket with a
// single atomic add; only structural rollover (creating buckets for newly
// entered time slices) takes the mutex, and contenders that lose the
// rollover race use the winner's result instead of blocking.
type Number struct {
	clk          clock.Clock
	windowMs     int64
	bucketSizeMs int64
	bucketCount  int

	mu      sync.Mutex // guards ring/head during rollover only
	ring    []atomic.Pointer[bucket]
	head    int
	current atomic.Pointer[bucket]

	// All-time totals, never evicted by rollover.
	cumulative [numEvents]atomic.Int64
}

// NewNumber creates a rolling window of bucketCount buckets spanning
// windowMs milliseconds. windowMs must be a positive multiple of
// bucketCount.
func NewNumber(windowMs int64, bucketCount int, clk clock.Clock) (*Number, error) {
	if windowMs <= 0 || bucketCount <= 0 {
		return nil, fmt.Errorf("rolling window: duration %dms and bucket count %d must be positive", windowMs, bucketCount)
	}
	if windowMs%int64(bucketCount) != 0 {
		return nil, fmt.Errorf("rolling window: duration %dms is not divisible by %d buckets", windowMs, bucketCount)
	}
	return &Number{
		clk:          clk,
		windowMs:     windowMs,
		bucketSizeMs: windowMs / int64(bucketCount),
		bucketCount:  bucketCount,
		ring:         make([]atomic.Pointer[bucket], bucketCount),
	}, nil
}

// Increment adds 1 to the current bucket's slot for e.
func (n *Number) Increment(e Event) {
	n.Add(e, 1)
}

// Add applies v to the current bucket's slot for e and to the cumulative
// total. Counter semantics; use UpdateRollingMax for max-updater events.
func (n *Number) Add(e Event, v int64) {
	b := n.currentBucket(n.clk.NowMillis())
	b.add(e, v)
	n.cumulative[e].Add(v)
}

// UpdateRollingMax records v for a max-updater event, keeping the largest
// value seen in the current bucket and over the lifetime of the window.
func (n *Number) UpdateRollingMax(e Event, v int64) {
	b := n.currentBucket(n.clk.NowMillis())
	b.updateMax(e, v)
	storeMax(&n.cumulative[e], v)
}

// RollingSum returns the sum of e across buckets still inside the window.
// Stale or future-dated buckets contribute zero. An idle window returns 0.
func (n *Number) RollingSum(e Event) int64 {
	now := n.clk.NowMillis()
	n.currentBucket(now)

	var sum int64
	for i := range n.ring {
		b := n.ring[i].Load()
		if b == nil || !n.liveAt(b, now) {
			continue
		}
		sum += b.get(e)
	}
	return sum
}

// RollingMax returns the largest value of e across live buckets, 0 if none.
func (n *Number) RollingMax(e Event) int64 {
	now := n.clk.NowMillis()
	n.currentBucket(now)

	var max int64
	for i := range n.ring {
		b := n.ring[i].Load()
		if b == nil || !n.liveAt(b, now) {
			continue
		}
		if v := b.get(e); v > max {
			max = v
		}
	}
	return max
}

// Cumulative returns the all-time total for e, unaffected by eviction.
func (n *Number) Cumulative(e Event) int64 {
	return n.cumulative[e].Load()
}

// Reset discards all buckets. The next access starts a fresh window.
// Cumulative totals survive.
func (n *Number) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range n.ring {
		n.ring[i].Store(nil)
	}
	n.head = 0
	n.current.Store(nil)
}

// liveAt reports whether b covers a slice inside [now-windowMs, now].
// Buckets dated in the future (clock skew) are never counted.
func (n *Number) liveAt(b *bucket, now int64) bool {
	return b.windowStart <= now && now-b.windowStart < n.windowMs
}

// currentBucket rolls the window forward to now and returns the bucket
// covering it. Exactly one concurrent caller performs the structural
// advance for a given stale bucket; losers of that race observe the
// winner's bucket rather than double-advancing, and the window never
// moves backward even if a caller's now lags another's.
func (n *Number) currentBucket(now int64) *bucket {
	if b := n.current.Load(); b != nil && now-b.windowStart < n.bucketSizeMs {
		return b
	}

	if n.mu.TryLock() {
		b := n.roll(now)
		n.mu.Unlock()
		return b
	}

	// Lost the rollover race; the winner's bucket is good enough.
	if b := n.current.Load(); b != nil {
		return b
	}

	// Cold-start race: wait for initialization.
	n.mu.Lock()
	b := n.roll(now)
	n.mu.Unlock()
	return b
}

// roll advances the ring to cover now. Caller must hold mu.
func (n *Number) roll(now int64) *bucket {
	b := n.current.Load()
	if b == nil {
		nb := &bucket{windowStart: now - now%n.bucketSizeMs}
		n.head = 0
		n.ring[0].Store(nb)
		n.current.Store(nb)
		return nb
	}

	elapsed := (now - b.windowStart) / n.bucketSizeMs
	switch {
	case elapsed <= 0:
		// Already rolled by a concurrent caller, or now is behind the
		// current bucket. Either way the existing bucket stands.
		return b

	case elapsed > int64(n.bucketCount):
		// The whole window is stale; start over aligned to now.
		for i := range n.ring {
			n.ring[i].Store(nil)
		}
		nb := &bucket{windowStart: now - now%n.bucketSizeMs}
		n.head = 0
		n.ring[0].Store(nb)
		n.current.Store(nb)
		return nb

	default:
		// Enter each newly elapsed slice in order, reusing the oldest
		// ring slots.
		var nb *bucket
		for i := int64(1); i <= elapsed; i++ {
			nb = &bucket{windowStart: b.windowStart + i*n.bucketSizeMs}
			n.head = (n.head + 1) % n.bucketCount
			n.ring[n.head].Store(nb)
		}
		n.current.Store(nb)
		return nb
	}
}
