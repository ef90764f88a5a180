// Package admin provides read-only admin API endpoints for runtime
// inspection of command health, circuit state, and configuration. All
// endpoints are protected by IP allowlist and, when enabled, JWT auth.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/dskow/resilience-core/internal/auth"
	"github.com/dskow/resilience-core/internal/command"
	"github.com/dskow/resilience-core/internal/config"
	"github.com/dskow/resilience-core/internal/rolling"
)

// Handler provides admin API endpoints.
type Handler struct {
	reloader    ConfigProvider
	registry    *command.Registry
	allowedNets []*net.IPNet
	authWrap    func(http.Handler) http.Handler
	logger      *slog.Logger
}

// ConfigProvider abstracts config access for testability.
type ConfigProvider interface {
	Current() *config.Config
}

// New creates a new admin Handler. The allowlist CIDRs must be
// pre-validated (config validation ensures this).
func New(reloader ConfigProvider, registry *command.Registry, adminCfg config.AdminConfig, logger *slog.Logger) *Handler {
	nets := make([]*net.IPNet, 0, len(adminCfg.IPAllowlist))
	for _, cidr := range adminCfg.IPAllowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // already validated by config
		}
		nets = append(nets, ipNet)
	}
	return &Handler{
		reloader:    reloader,
		registry:    registry,
		allowedNets: nets,
		authWrap:    auth.Middleware(adminCfg.Auth, logger),
		logger:      logger,
	}
}

// RegisterRoutes adds admin routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/admin/commands", h.guard(h.commandsHandler))
	mux.Handle("/admin/circuits", h.guard(h.circuitsHandler))
	mux.Handle("/admin/config", h.guard(h.configHandler))
}

// guard wraps a handler with method, IP allowlist, and auth checking.
func (h *Handler) guard(next http.HandlerFunc) http.Handler {
	guarded := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
				"error": "Method Not Allowed",
			})
			return
		}

		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "Forbidden",
			})
			return
		}
		next(w, r)
	})
	return h.authWrap(guarded)
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// commandStatus is the response type for /admin/commands.
type commandStatus struct {
	Key             string  `json:"key"`
	CircuitState    string  `json:"circuit_state"`
	TotalRequests   int64   `json:"total_requests"`
	ErrorCount      int64   `json:"error_count"`
	ErrorPercentage int64   `json:"error_percentage"`
	LatencyMeanMs   float64 `json:"latency_mean_ms"`
	LatencyP50Ms    int64   `json:"latency_p50_ms"`
	LatencyP90Ms    int64   `json:"latency_p90_ms"`
	LatencyP99Ms    int64   `json:"latency_p99_ms"`
}

func (h *Handler) commandsHandler(w http.ResponseWriter, r *http.Request) {
	all := h.registry.All()
	statuses := make([]commandStatus, 0, len(all))
	for key, c := range all {
		hc := c.Metrics().HealthCounts()
		statuses = append(statuses, commandStatus{
			Key:             key,
			CircuitState:    c.Breaker().State().String(),
			TotalRequests:   hc.TotalRequests,
			ErrorCount:      hc.ErrorCount,
			ErrorPercentage: hc.ErrorPercentage,
			LatencyMeanMs:   c.Metrics().Mean(),
			LatencyP50Ms:    c.Metrics().GetPercentile(50),
			LatencyP90Ms:    c.Metrics().GetPercentile(90),
			LatencyP99Ms:    c.Metrics().GetPercentile(99),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"commands": statuses})
}

// circuitStatus is the response type for /admin/circuits.
type circuitStatus struct {
	Key             string `json:"key"`
	State           string `json:"state"`
	OpenedAtMillis  int64  `json:"opened_at_millis,omitempty"`
	ShortCircuited  int64  `json:"short_circuited_total"`
	CumulativeFails int64  `json:"failures_total"`
}

func (h *Handler) circuitsHandler(w http.ResponseWriter, r *http.Request) {
	all := h.registry.All()
	statuses := make([]circuitStatus, 0, len(all))
	for key, c := range all {
		statuses = append(statuses, circuitStatus{
			Key:             key,
			State:           c.Breaker().State().String(),
			OpenedAtMillis:  c.Breaker().OpenedAtMillis(),
			ShortCircuited:  c.Metrics().Cumulative(rolling.ShortCircuited),
			CumulativeFails: c.Metrics().Cumulative(rolling.Failure),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"circuits": statuses})
}

func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	cfg := h.reloader.Current()

	// Shallow copy and redact sensitive fields.
	redacted := *cfg
	if redacted.Admin.Auth.JWTSecret != "" {
		redacted.Admin.Auth.JWTSecret = "***"
	}

	writeJSON(w, http.StatusOK, redacted)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
