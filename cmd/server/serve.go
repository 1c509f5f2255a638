package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/warp/incapacity-engine/api"
	"github.com/warp/incapacity-engine/incapacity"
	"github.com/warp/incapacity-engine/metrics"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API. On SIGINT/SIGTERM the server stops accepting
connections, waits for in-flight requests up to server.shutdown_timeout
and then closes the store.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, store, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer store.Close()

	opts := []incapacity.Option{
		incapacity.WithLogger(logger.Named("engine")),
		incapacity.WithStrictTransitions(cfg.Workflow.StrictTransitions),
	}
	routerOpts := api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Health:         store.Ping,
	}
	if cfg.Metrics.Enabled {
		collector := metrics.New()
		opts = append(opts, incapacity.WithObserver(collector))
		routerOpts.MetricsPath = cfg.Metrics.Path
		routerOpts.MetricsHandler = collector.Handler()
	}

	engine := incapacity.NewEngine(store, opts...)
	handler := api.NewHandler(engine, logger.Named("http"))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler, routerOpts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.Bool("strict_transitions", cfg.Workflow.StrictTransitions),
			zap.Bool("metrics", cfg.Metrics.Enabled))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
