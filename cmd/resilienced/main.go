// Package main is the entry point for the resilience daemon. It loads
// configuration, builds the command registry, optionally runs synthetic
// load loops against configured targets, serves the metrics and admin
// endpoints, and handles graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/dskow/resilience-core/internal/admin"
	"github.com/dskow/resilience-core/internal/clock"
	"github.com/dskow/resilience-core/internal/command"
	"github.com/dskow/resilience-core/internal/config"
	"github.com/dskow/resilience-core/internal/health"
	"github.com/dskow/resilience-core/internal/logging"
	"github.com/dskow/resilience-core/internal/middleware"
	"github.com/dskow/resilience-core/internal/promexport"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "configs/resilienced.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"command_overrides", len(cfg.Commands),
		"metrics_enabled", cfg.Metrics.IsEnabled(),
		"admin_enabled", cfg.Admin.Enabled,
		"demo_enabled", cfg.Demo.Enabled,
	)

	if cfg.Metrics.IsEnabled() {
		promexport.Init()
	}

	reloader := config.NewReloader(*configPath, cfg, logger)

	registry := command.NewRegistry(
		func(key string) config.Properties { return reloader.Current().PropertiesFor(key) },
		promexport.Notifier{},
		clock.New(),
		logger,
	)

	if cfg.Metrics.IsEnabled() {
		prometheus.MustRegister(promexport.NewLatencyCollector(registry.LatencyStats))
	}

	reloader.OnReload(func(newCfg *config.Config) {
		registry.UpdateProperties(newCfg.PropertiesFor)
	})
	reloader.Start()
	defer reloader.Stop()

	mux := http.NewServeMux()
	health.New(registry, logger).RegisterRoutes(mux)
	if cfg.Metrics.IsEnabled() {
		mux.Handle(cfg.Metrics.Path, promexport.Handler())
	}
	if cfg.Admin.Enabled {
		admin.New(reloader, registry, cfg.Admin, logger).RegisterRoutes(mux)
	}

	handler := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Recovery(logger),
		middleware.AccessLog(logger),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if cfg.Demo.Enabled {
		startDemoLoops(ctx, &wg, cfg.Demo, registry, logger)
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	wg.Wait()
	logger.Info("shutdown complete")
}

// startDemoLoops runs one paced request loop per demo target, each wrapped
// in its own command.
func startDemoLoops(ctx context.Context, wg *sync.WaitGroup, demo config.DemoConfig, registry *command.Registry, logger *slog.Logger) {
	client := &http.Client{Timeout: 10 * time.Second}

	for _, target := range demo.Targets {
		cmd, err := registry.Get(target.Command)
		if err != nil {
			logger.Error("skipping demo target", "command", target.Command, "error", err)
			continue
		}

		limiter := rate.NewLimiter(rate.Limit(demo.RequestsPerSecond), demo.Burst)
		url := target.URL

		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				err := cmd.Do(ctx,
					func(ctx context.Context) error {
						return fetch(ctx, client, url)
					},
					func(ctx context.Context, cause error) error {
						logger.Debug("serving fallback", "command", cmd.Key(), "cause", cause)
						return nil
					},
				)
				if err != nil && ctx.Err() == nil {
					logger.Debug("demo call failed", "command", cmd.Key(), "error", err)
				}
			}
		}()
	}
}

// fetch issues one GET and maps the response onto command outcome
// semantics: 5xx is a failure, 4xx is the caller's fault.
func fetch(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return command.AsBadRequest(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("backend returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return command.AsBadRequest(fmt.Errorf("backend returned %d", resp.StatusCode))
	default:
		return nil
	}
}
