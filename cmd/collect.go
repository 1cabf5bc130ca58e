package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/spf13/cobra"

	"tidbyt.dev/tripstats"
	"tidbyt.dev/tripstats/downloader"
	"tidbyt.dev/tripstats/metrics"
	"tidbyt.dev/tripstats/publisher"
)

var collectCmd = &cobra.Command{
	Use:   "collect [route_id...]",
	Short: "Polls the realtime feed and stores trip observations",
	Long:  "Polls the realtime feed and stores trip observations for the given routes, or the configured ones, until interrupted",
	RunE:  collect,
}

func init() {
	rootCmd.AddCommand(collectCmd)
}

func collect(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	routes := cfg.Feed.RouteIDs
	if len(args) > 0 {
		routes = args
	}

	s, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	m := metrics.NewCollector()
	if cfg.Server.MetricsAddr != "" {
		srv := m.Serve(cfg.Server.MetricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	feed := downloader.NewBreaker(downloader.NewMemoryDownloader(), downloader.BreakerConfig{
		OnStateChange: func(url string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("feed circuit breaker state changed")
			m.CircuitStateChanged(url, from, to)
		},
	})

	c := tripstats.NewCollector(s, feed, cfg.Feed.URL, cfg.Feed.APIKey)
	c.Interval = cfg.Feed.PollInterval
	c.Timeout = cfg.Feed.FetchTimeout
	c.CacheTTL = cfg.Feed.CacheTTL
	c.Logger = logger.With().Str("component", "collector").Logger()
	c.Metrics = m

	if cfg.NATS.URL != "" {
		p, err := publisher.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger, m)
		if err != nil {
			// Publishing is best effort; collection carries on without it.
			logger.Warn().Err(err).Msg("nats unavailable, batches won't be published")
		} else {
			defer p.Close()
			c.Publisher = p
		}
	}

	return c.Run(ctx, routes)
}
