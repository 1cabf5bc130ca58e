package tripstats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tidbyt.dev/tripstats/downloader"
	"tidbyt.dev/tripstats/metrics"
	"tidbyt.dev/tripstats/model"
	"tidbyt.dev/tripstats/parse"
	"tidbyt.dev/tripstats/storage"
)

const (
	DefaultInterval = 1 * time.Minute
	DefaultTimeout  = 20 * time.Second
	DefaultMaxSize  = 64 << 20 // 64 MB
	UserAgent       = "tripstats-collector/1.0"
)

// Receives every successfully stored batch.
type Publisher interface {
	Publish(ctx context.Context, routeID string, fetchedAt time.Time, observations []model.Observation) error
}

// Collector polls a GTFS Realtime TripUpdates feed and appends what
// it sees for each route to storage.
type Collector struct {
	Interval time.Duration
	Timeout  time.Duration
	MaxSize  int

	// If positive, routes polling the feed within this long of each
	// other share one download.
	CacheTTL time.Duration

	Logger    zerolog.Logger
	Metrics   *metrics.Collector
	Publisher Publisher

	storage    storage.Storage
	downloader downloader.Downloader
	feedURL    string
	apiKey     string
}

// Creates a new Collector fetching feedURL with the given API key,
// storing observations in s.
func NewCollector(s storage.Storage, d downloader.Downloader, feedURL string, apiKey string) *Collector {
	return &Collector{
		Interval: DefaultInterval,
		Timeout:  DefaultTimeout,
		MaxSize:  DefaultMaxSize,
		Logger:   zerolog.Nop(),

		storage:    s,
		downloader: d,
		feedURL:    feedURL,
		apiKey:     apiKey,
	}
}

// Runs a single fetch, decode and store cycle for a route. Returns
// the number of observations stored.
//
// Errors are *FetchError, *DecodeError or *StorageError. Nothing is
// stored unless all steps succeed.
func (c *Collector) Collect(ctx context.Context, routeID string) (int, error) {
	return c.collect(ctx, routeID, c.Logger.With().Str("route_id", routeID).Logger())
}

func (c *Collector) collect(ctx context.Context, routeID string, logger zerolog.Logger) (int, error) {
	query := map[string]string{}
	if c.apiKey != "" {
		query["key"] = c.apiKey
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	fetchedAt := time.Now().UTC()
	body, err := c.downloader.Get(
		fetchCtx,
		c.feedURL,
		map[string]string{
			"Accept":          "application/x-google-protobuf",
			"Accept-Encoding": "identity",
			"User-Agent":      UserAgent,
		},
		downloader.GetOptions{
			Timeout:  c.Timeout,
			MaxSize:  c.MaxSize,
			Cache:    c.CacheTTL > 0,
			CacheTTL: c.CacheTTL,
			Query:    query,
		},
	)
	if err != nil {
		return 0, &FetchError{RouteID: routeID, Err: err}
	}

	observations, summary, err := parse.DecodeFeed(ctx, body, routeID)
	if err != nil {
		return 0, &DecodeError{RouteID: routeID, Err: err}
	}

	logger.Debug().
		Int("bytes", len(body)).
		Int("entities", summary.NumEntities).
		Int("trip_updates", summary.NumTripUpdates).
		Int("matched", summary.NumMatched).
		Time("feed_timestamp", summary.Timestamp).
		Msg("decoded feed")

	err = c.storage.InsertBatch(ctx, observations)
	if err != nil {
		return 0, &StorageError{RouteID: routeID, Op: "insert", Err: err}
	}

	if c.Publisher != nil && len(observations) > 0 {
		err = c.Publisher.Publish(ctx, routeID, fetchedAt, observations)
		if err != nil {
			logger.Warn().Err(err).Msg("publishing batch")
		}
	}

	return len(observations), nil
}

// Collects each route on its own schedule until ctx is canceled: a
// first cycle immediately, then one per Interval. A tick firing while
// the route's previous cycle is still running is dropped.
//
// Cycle failures are logged and don't affect the schedule. On
// cancellation, Run waits for in-flight cycles to complete; these are
// never aborted midway.
func (c *Collector) Run(ctx context.Context, routes []string) error {
	if len(routes) == 0 {
		return errors.New("no routes to collect")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("invalid interval %s", c.Interval)
	}

	c.Logger.Info().
		Strs("routes", routes).
		Dur("interval", c.Interval).
		Str("feed_url", c.feedURL).
		Msg("collector starting")

	var wg sync.WaitGroup
	for _, routeID := range routes {
		wg.Add(1)
		go func(routeID string) {
			defer wg.Done()
			c.schedule(ctx, routeID)
		}(routeID)
	}
	wg.Wait()

	c.Logger.Info().Msg("collector stopped")

	return nil
}

func (c *Collector) schedule(ctx context.Context, routeID string) {
	logger := c.Logger.With().Str("route_id", routeID).Logger()

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	lastEnd := c.cycle(ctx, routeID, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if !due(ctx, tick, lastEnd) {
				logger.Warn().
					Time("tick", tick).
					Msg("previous cycle still running at tick, skipping")
				if c.Metrics != nil {
					c.Metrics.SkippedTick(routeID)
				}
				continue
			}
			lastEnd = c.cycle(ctx, routeID, logger)
		}
	}
}

// A tick starts a new cycle only if it fired after the previous cycle
// ended and shutdown hasn't begun. Both select cases can be ready at
// once, so cancellation is checked here too.
func due(ctx context.Context, tick time.Time, lastEnd time.Time) bool {
	if ctx.Err() != nil {
		return false
	}
	return !tick.Before(lastEnd)
}

// Runs one cycle, logging the outcome. Returns when it ended.
func (c *Collector) cycle(ctx context.Context, routeID string, logger zerolog.Logger) time.Time {
	logger = logger.With().Str("cycle_id", uuid.NewString()).Logger()
	start := time.Now()

	n, err := func() (n int, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return c.collect(context.WithoutCancel(ctx), routeID, logger)
	}()

	duration := time.Since(start)
	result := cycleResult(err)
	if c.Metrics != nil {
		c.Metrics.ObserveCycle(routeID, result, n, duration)
	}

	if err != nil {
		logger.Error().
			Err(err).
			Str("result", result).
			Dur("duration", duration).
			Msg("collection cycle failed")
	} else {
		logger.Info().
			Int("observations", n).
			Dur("duration", duration).
			Msg("collection cycle done")
	}

	return time.Now()
}

func cycleResult(err error) string {
	var fetchErr *FetchError
	var decodeErr *DecodeError
	var storageErr *StorageError

	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.As(err, &fetchErr):
		return metrics.ResultFetchError
	case errors.As(err, &decodeErr):
		return metrics.ResultDecodeError
	case errors.As(err, &storageErr):
		return metrics.ResultStorageError
	default:
		return "error"
	}
}
