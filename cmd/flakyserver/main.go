// Package main provides an intentionally unreliable HTTP server for
// exercising the resilience daemon. It fails a configurable fraction of
// requests and injects latency, so circuit trips and recoveries can be
// observed end to end.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

func main() {
	port := flag.Int("port", 3001, "port to listen on")
	name := flag.String("name", "flaky", "service name")
	failureRate := flag.Float64("failure-rate", 0.1, "fraction of requests answered with 500 (0.0-1.0)")
	latency := flag.Duration("latency", 0, "fixed latency added to every response")
	jitter := flag.Duration("jitter", 0, "random additional latency up to this duration")
	flag.Parse()

	if p := os.Getenv("PORT"); p != "" {
		fmt.Sscanf(p, "%d", port)
	}
	if n := os.Getenv("SERVICE_NAME"); n != "" {
		*name = n
	}

	// Failure rate in permille, adjustable at runtime via /__failure_rate/{pct}.
	var ratePermille atomic.Int64
	ratePermille.Store(int64(*failureRate * 1000))

	var served atomic.Int64

	// /__failure_rate/{pct} sets the failure percentage (0-100).
	// Example: GET /__failure_rate/80 → 80% of requests now fail.
	http.HandleFunc("/__failure_rate/", func(w http.ResponseWriter, r *http.Request) {
		pctStr := strings.TrimPrefix(r.URL.Path, "/__failure_rate/")
		pct, err := strconv.Atoi(pctStr)
		if err != nil || pct < 0 || pct > 100 {
			http.Error(w, "failure rate must be 0-100", http.StatusBadRequest)
			return
		}
		ratePermille.Store(int64(pct) * 10)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"service":      *name,
			"failure_rate": float64(pct) / 100,
		})
	})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if d := *latency; d > 0 {
			time.Sleep(d)
		}
		if j := *jitter; j > 0 {
			time.Sleep(time.Duration(rand.Int63n(int64(j))))
		}

		n := served.Add(1)
		w.Header().Set("Content-Type", "application/json")

		if rand.Int63n(1000) < ratePermille.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"service": *name,
				"error":   "injected failure",
				"served":  n,
			})
			return
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"service":   *name,
			"path":      r.URL.Path,
			"served":    n,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("%s listening on %s (failure rate %.0f%%)", *name, addr, *failureRate*100)
	log.Fatal(http.ListenAndServe(addr, nil))
}
