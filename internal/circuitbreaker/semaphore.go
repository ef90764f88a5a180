package circuitbreaker

import (
	"github.com/dskow/resilience-core/internal/promexport"
)

// Semaphore bounds the number of concurrent in-flight calls for one
// command, preventing a slow dependency from pinning every caller. A zero
// or negative limit means unbounded.
type Semaphore struct {
	command string
	kind    string // "execution" or "fallback", used as a metric label
	slots   chan struct{}
}

// NewSemaphore creates a semaphore allowing at most maxConcurrent holders.
func NewSemaphore(command, kind string, maxConcurrent int) *Semaphore {
	s := &Semaphore{command: command, kind: kind}
	if maxConcurrent > 0 {
		s.slots = make(chan struct{}, maxConcurrent)
	}
	return s
}

// TryAcquire claims a slot without blocking. If it returns true, the caller
// must call Release exactly once when the call completes.
func (s *Semaphore) TryAcquire() bool {
	if s.slots == nil {
		return true
	}
	select {
	case s.slots <- struct{}{}:
		promexport.SemaphoreInFlight.WithLabelValues(s.command, s.kind).Set(float64(len(s.slots)))
		return true
	default:
		promexport.SemaphoreRejections.WithLabelValues(s.command, s.kind).Inc()
		return false
	}
}

// Release frees a slot claimed by TryAcquire.
func (s *Semaphore) Release() {
	if s.slots == nil {
		return
	}
	<-s.slots
	promexport.SemaphoreInFlight.WithLabelValues(s.command, s.kind).Set(float64(len(s.slots)))
}

// InFlight returns the number of currently held slots.
func (s *Semaphore) InFlight() int {
	if s.slots == nil {
		return 0
	}
	return len(s.slots)
}
