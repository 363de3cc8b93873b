package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shellserver/internal/command"
	"shellserver/internal/config"
	"shellserver/internal/dispatcher"
	"shellserver/internal/logging"
	"shellserver/internal/metrics"
	"shellserver/internal/ring"
)

func main() {
	root := &cobra.Command{
		Use:           "shellserver",
		Short:         "Admits clients over a shared-memory ring and dispatches their commands over named pipes.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServer,
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "shellserver: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServer()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() // nolint:errcheck

	if cfg.Daemon {
		if err := daemonize(); err != nil {
			return fmt.Errorf("daemonize: %w", err)
		}
	}

	metricsRegistry := metrics.NewRegistry()

	r, err := ring.New(cfg.ShmDir, cfg.ShmName, cfg.Slots)
	if err != nil {
		return fmt.Errorf("create admission ring: %w", err)
	}

	commands := command.NewRegistry()
	disp := dispatcher.New(cfg, logger, metricsRegistry, r, commands)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	go disp.Run(ctx)
	logger.Info("shellserver started",
		zap.Int("slots", cfg.Slots), zap.String("shm_name", cfg.ShmName))

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Metrics.ListenAddr, metricsRegistry, logger)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	disp.Shutdown()
	if err := r.Destroy(); err != nil {
		logger.Warn("ring teardown error", zap.Error(err))
	}
	logger.Info("shellserver stopped")
	return nil
}

func serveMetrics(ctx context.Context, addr string, metricsRegistry *metrics.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsRegistry.Handler())

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics http server starting", zap.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics http server shutdown error", zap.Error(err))
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("metrics http server error", zap.Error(err))
		}
	}
}
