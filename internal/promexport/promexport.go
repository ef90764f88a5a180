// Package promexport provides Prometheus instrumentation for the resilience
// core. All metric collectors are registered via the Init function and
// exposed through the Handler for scraping.
package promexport

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dskow/resilience-core/internal/rolling"
)

var (
	// CommandEvents counts command outcome events by command key and event kind.
	CommandEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_command_events_total",
			Help: "Total command outcome events",
		},
		[]string{"command", "event"},
	)

	// CircuitState reports the current breaker state per command
	// (0=closed, 1=open, 2=half-open).
	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilience_circuit_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"command"},
	)

	// CircuitStateChanges counts breaker transitions by command and edge.
	CircuitStateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_circuit_state_changes_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"command", "from", "to"},
	)

	// SemaphoreInFlight tracks acquired concurrency slots per command.
	SemaphoreInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilience_semaphore_in_flight",
			Help: "Concurrency slots currently held",
		},
		[]string{"command", "kind"},
	)

	// SemaphoreRejections counts calls rejected at the concurrency limit.
	SemaphoreRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_semaphore_rejections_total",
			Help: "Total calls rejected for exceeding the concurrency limit",
		},
		[]string{"command", "kind"},
	)
)

// Init registers all metric collectors with the default Prometheus registry.
// Must be called once at startup before serving scrapes.
func Init() {
	prometheus.MustRegister(
		CommandEvents,
		CircuitState,
		CircuitStateChanges,
		SemaphoreInFlight,
		SemaphoreRejections,
	)
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Notifier is an event-notification hook that forwards command events to
// the CommandEvents counter.
type Notifier struct{}

// MarkEvent implements the metrics notifier contract.
func (Notifier) MarkEvent(e rolling.Event, commandKey string) {
	CommandEvents.WithLabelValues(commandKey, e.String()).Inc()
}
