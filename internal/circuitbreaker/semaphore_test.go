package circuitbreaker

import (
	"sync"
	"testing"
)

func TestSemaphore_Limit(t *testing.T) {
	s := NewSemaphore("checkout", "execution", 2)

	if !s.TryAcquire() {
		t.Fatal("expected first acquire to succeed")
	}
	if !s.TryAcquire() {
		t.Fatal("expected second acquire to succeed")
	}
	if s.TryAcquire() {
		t.Fatal("expected third acquire to be rejected")
	}
	if got := s.InFlight(); got != 2 {
		t.Errorf("expected 2 in flight, got %d", got)
	}

	s.Release()
	if !s.TryAcquire() {
		t.Error("expected acquire to succeed after release")
	}
}

func TestSemaphore_Unbounded(t *testing.T) {
	s := NewSemaphore("checkout", "execution", 0)

	for i := 0; i < 1000; i++ {
		if !s.TryAcquire() {
			t.Fatal("expected unbounded semaphore to always admit")
		}
	}
	if got := s.InFlight(); got != 0 {
		t.Errorf("unbounded semaphore reports 0 in flight, got %d", got)
	}
	s.Release() // must not panic or block
}

func TestSemaphore_ConcurrentNeverExceedsLimit(t *testing.T) {
	const limit = 5
	s := NewSemaphore("checkout", "execution", limit)

	var wg sync.WaitGroup
	var mu sync.Mutex
	maxSeen := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !s.TryAcquire() {
				return
			}
			mu.Lock()
			if n := s.InFlight(); n > maxSeen {
				maxSeen = n
			}
			mu.Unlock()
			s.Release()
		}()
	}
	wg.Wait()

	if maxSeen > limit {
		t.Errorf("in-flight exceeded limit: %d > %d", maxSeen, limit)
	}
	if got := s.InFlight(); got != 0 {
		t.Errorf("expected all slots released, got %d", got)
	}
}
