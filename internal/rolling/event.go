// Package rolling implements the time-bucketed statistics structures that
// back command metrics: a rolling counter window and a rolling percentile
// window. Both advance in wall-clock time over a fixed ring of buckets,
// evicting slices older than the configured window.
package rolling

// Event identifies one kind of command outcome tracked in a rolling window.
type Event int

const (
	Success Event = iota
	Failure
	Timeout
	ShortCircuited
	ThreadPoolRejected
	SemaphoreRejected
	BadRequest
	FallbackSuccess
	FallbackFailure
	FallbackRejection
	ExceptionThrown
	ResponseFromCache
	Collapsed
	CommandMaxActive

	numEvents // must be last
)

// IsCounter reports whether the event aggregates by summing within a bucket.
func (e Event) IsCounter() bool {
	return e != CommandMaxActive
}

// IsMaxUpdater reports whether the event aggregates by keeping the maximum
// value observed within a bucket rather than a sum.
func (e Event) IsMaxUpdater() bool {
	return e == CommandMaxActive
}

// String returns the event name used in logs and metric labels.
func (e Event) String() string {
	switch e {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Timeout:
		return "timeout"
	case ShortCircuited:
		return "short_circuited"
	case ThreadPoolRejected:
		return "thread_pool_rejected"
	case SemaphoreRejected:
		return "semaphore_rejected"
	case BadRequest:
		return "bad_request"
	case FallbackSuccess:
		return "fallback_success"
	case FallbackFailure:
		return "fallback_failure"
	case FallbackRejection:
		return "fallback_rejection"
	case ExceptionThrown:
		return "exception_thrown"
	case ResponseFromCache:
		return "response_from_cache"
	case Collapsed:
		return "collapsed"
	case CommandMaxActive:
		return "command_max_active"
	default:
		return "unknown"
	}
}

// Events lists every tracked event, in declaration order.
func Events() []Event {
	out := make([]Event, 0, numEvents)
	for e := Event(0); e < numEvents; e++ {
		out = append(out, e)
	}
	return out
}
