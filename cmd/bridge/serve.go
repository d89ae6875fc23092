package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fnharness/devbridge/internal/bridge"
	"github.com/fnharness/devbridge/internal/config"
	"github.com/fnharness/devbridge/internal/httpserver"
	"github.com/fnharness/devbridge/internal/logging"
	"github.com/fnharness/devbridge/internal/metrics"
	"github.com/fnharness/devbridge/internal/observability"
	"github.com/fnharness/devbridge/manifest"
	"github.com/fnharness/devbridge/session"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the invocation bridge and runtime protocol server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides config/env (default 127.0.0.1:14113)")
	return cmd
}

func runServe(ctx context.Context, addrFlag string) error {
	cfg := loadConfig()
	if addrFlag != "" {
		cfg.Daemon.HTTPAddr = addrFlag
	}

	logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Exporter:    cfg.Observability.Tracing.Exporter,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		ServiceName: cfg.Observability.Tracing.ServiceName,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
	}); err != nil {
		return err
	}
	defer observability.Shutdown(ctx)

	var metricsRegistry *metrics.Registry
	if cfg.Observability.Metrics.Enabled {
		metricsRegistry = metrics.New(cfg.Observability.Metrics.Namespace)
	}

	store := manifest.NewStore(cfg.Manifest.Dir)
	if err := store.Load(); err != nil {
		logging.Op().Warn("initial manifest load failed", "error", err)
	}
	if metricsRegistry != nil {
		metricsRegistry.SetRegistrySize(store.Size())
	}

	br := bridge.New()
	if metricsRegistry != nil {
		br.OnTransition(func(state, requestID string) {
			metricsRegistry.SetRuntimeConnected(state == "NEXT_HELD" || state == "INVOKING")
		})
		br.SetMetrics(metricsRegistry)
	}

	sessions := session.NewFakeProvider()

	srv := httpserver.New(br, store, sessions, metricsRegistry, cfg.Runtime.Deadline)

	httpSrv := &http.Server{
		Addr:    cfg.Daemon.HTTPAddr,
		Handler: srv.Mux(),
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Op().Info("devbridge listening", "addr", cfg.Daemon.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logging.Op().Info("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func loadConfig() *config.Config {
	var cfg *config.Config
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			logging.Op().Warn("failed to load config file, using defaults", "path", configFile, "error", err)
			cfg = config.DefaultConfig()
		} else {
			cfg = loaded
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if _, err := os.Stat("devbridge.yaml"); err == nil {
		if err := config.LoadFromYAMLFile(cfg, "devbridge.yaml"); err != nil {
			logging.Op().Warn("failed to load devbridge.yaml", "error", err)
		}
	}

	config.LoadFromEnv(cfg)
	return cfg
}
