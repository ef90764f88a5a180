// Package clock abstracts the wall clock so time-sensitive components
// (rolling windows, circuit breakers) can be tested deterministically.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock is a millisecond-resolution time source.
type Clock interface {
	// NowMillis returns the current time as epoch milliseconds.
	NowMillis() int64

	// Now returns the current wall-clock time.
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

// New returns the system clock.
func New() Clock {
	return Real{}
}

func (Real) NowMillis() int64 {
	return time.Now().UnixMilli()
}

func (Real) Now() time.Time {
	return time.Now()
}

// Fake is a controllable clock for tests. The zero value starts at epoch
// zero; use SetMillis or Advance to move it. Safe for concurrent use.
type Fake struct {
	millis atomic.Int64
}

// NewFake returns a Fake clock positioned at start.
func NewFake(start int64) *Fake {
	f := &Fake{}
	f.millis.Store(start)
	return f
}

func (f *Fake) NowMillis() int64 {
	return f.millis.Load()
}

func (f *Fake) Now() time.Time {
	return time.UnixMilli(f.millis.Load())
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.millis.Add(d.Milliseconds())
}

// AdvanceMillis moves the clock forward by ms milliseconds.
func (f *Fake) AdvanceMillis(ms int64) {
	f.millis.Add(ms)
}

// SetMillis positions the clock at an absolute epoch-millisecond instant.
func (f *Fake) SetMillis(ms int64) {
	f.millis.Store(ms)
}
