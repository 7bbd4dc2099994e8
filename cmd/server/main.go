package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"watchtower/internal/platform/config"
	"watchtower/internal/platform/httpserver"
	"watchtower/internal/platform/logger"
	"watchtower/internal/platform/metrics"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	if err := run(); err != nil {
		slog.Error("watchtower exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	in, err := openInfra(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect backends: %w", err)
	}
	defer in.Close()

	a, err := newApp(ctx, cfg, log, m, in)
	if err != nil {
		return err
	}
	srv := httpserver.New(cfg.Addr, a.routes(reg))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting watchtower",
			"addr", cfg.Addr,
			"device_store", cfg.Devices.Store,
			"notify_backend", cfg.Notify.Backend,
			"protocol_driver", cfg.Protocol.Driver,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		// Sessions go first so subscribers still connected see DISCONNECTED.
		appErr := a.shutdown(shutdownCtx)
		srvErr := srv.Shutdown(shutdownCtx)
		return errors.Join(appErr, srvErr)
	})
	return g.Wait()
}
