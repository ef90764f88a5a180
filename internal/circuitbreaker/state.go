// Package circuitbreaker implements the health-driven circuit breaker that
// protects a failing command. The breaker consumes the throttled health
// snapshot from the command's metrics and decides per call whether traffic
// is allowed through, with a single-probe half-open state to test recovery.
package circuitbreaker

// State represents the circuit breaker state.
type State int32

const (
	StateClosed   State = iota // Normal operation; requests pass through.
	StateOpen                  // Failing; requests are rejected immediately.
	StateHalfOpen              // Probing; a single trial request is in flight.
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
