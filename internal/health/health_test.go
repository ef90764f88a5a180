package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/dskow/resilience-core/internal/clock"
	"github.com/dskow/resilience-core/internal/command"
	"github.com/dskow/resilience-core/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func tripProps(string) config.Properties {
	p := config.DefaultProperties()
	p.HealthSnapshotIntervalMs = 1
	return p
}

// tripCircuit drives enough failures through a command to open its breaker.
func tripCircuit(t *testing.T, c *command.Command, clk *clock.Fake) {
	t.Helper()
	for i := 0; i < 25; i++ {
		c.Metrics().MarkFailure(1)
	}
	clk.AdvanceMillis(2)
	if c.Breaker().AllowRequest() {
		t.Fatal("expected circuit to open")
	}
}

func TestLiveness(t *testing.T) {
	clk := clock.NewFake(1_000_000)
	registry := command.NewRegistry(tripProps, nil, clk, testLogger())

	mux := http.NewServeMux()
	New(registry, testLogger()).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "{\"status\":\"ok\"}\n" {
		t.Errorf("unexpected body %q", got)
	}
}

func TestReadiness_NoCommands(t *testing.T) {
	clk := clock.NewFake(1_000_000)
	registry := command.NewRegistry(tripProps, nil, clk, testLogger())

	mux := http.NewServeMux()
	New(registry, testLogger()).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with no commands, got %d", rec.Code)
	}
}

func TestReadiness_ClosedCircuits(t *testing.T) {
	clk := clock.NewFake(1_000_000)
	registry := command.NewRegistry(tripProps, nil, clk, testLogger())
	if _, err := registry.Get("checkout"); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	New(registry, testLogger()).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Status   string            `json:"status"`
		Circuits map[string]string `json:"circuits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ready" {
		t.Errorf("expected ready, got %q", body.Status)
	}
	if body.Circuits["checkout"] != "closed" {
		t.Errorf("expected closed circuit, got %q", body.Circuits["checkout"])
	}
}

func TestReadiness_AllCircuitsOpen(t *testing.T) {
	clk := clock.NewFake(1_000_000)
	registry := command.NewRegistry(tripProps, nil, clk, testLogger())
	c, err := registry.Get("checkout")
	if err != nil {
		t.Fatal(err)
	}
	tripCircuit(t, c, clk)

	mux := http.NewServeMux()
	New(registry, testLogger()).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when every circuit is open, got %d", rec.Code)
	}
}

func TestReadiness_PartialOpenStaysReady(t *testing.T) {
	clk := clock.NewFake(1_000_000)
	registry := command.NewRegistry(tripProps, nil, clk, testLogger())
	bad, err := registry.Get("flaky")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := registry.Get("healthy"); err != nil {
		t.Fatal(err)
	}
	tripCircuit(t, bad, clk)

	mux := http.NewServeMux()
	New(registry, testLogger()).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with one healthy circuit, got %d", rec.Code)
	}
}

func TestReadiness_ServesCachedResult(t *testing.T) {
	clk := clock.NewFake(1_000_000)
	registry := command.NewRegistry(tripProps, nil, clk, testLogger())
	c, err := registry.Get("checkout")
	if err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	New(registry, testLogger()).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	// The circuit opens, but the cached result is still served inside
	// the TTL.
	tripCircuit(t, c, clk)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected cached 200 inside TTL, got %d", rec.Code)
	}
}
