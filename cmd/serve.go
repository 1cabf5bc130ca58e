package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tidbyt.dev/tripstats"
	"tidbyt.dev/tripstats/api"
	"tidbyt.dev/tripstats/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves trip statistics over HTTP",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	m := metrics.NewCollector()

	engine := tripstats.NewStatistics(s, cfg.Location)
	engine.Metrics = m

	router := api.NewRouter(api.RouterConfig{
		Version:    Version,
		Logger:     logger.With().Str("component", "api").Logger(),
		Statistics: engine,
		Storage:    s,
		Metrics:    m,
		RateLimit:  cfg.Server.RateLimit,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("timezone", cfg.Location.String()).
			Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info().Msg("server stopped")

	return nil
}
