package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Cycle results
const (
	ResultOK           = "ok"
	ResultFetchError   = "fetch_error"
	ResultDecodeError  = "decode_error"
	ResultStorageError = "storage_error"
)

type Collector struct {
	reg *prometheus.Registry

	Cycles        *prometheus.CounterVec // labels: route_id, result
	Observations  *prometheus.CounterVec // labels: route_id
	SkippedTicks  *prometheus.CounterVec // labels: route_id
	CycleDuration *prometheus.HistogramVec

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	CircuitState *prometheus.GaugeVec // labels: url; 0 closed, 1 half-open, 2 open

	StatisticsDuration prometheus.Histogram

	HTTPRequests        *prometheus.CounterVec   // labels: method, route, status
	HTTPRequestDuration *prometheus.HistogramVec // labels: method, route
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripstats_collector_cycles_total",
			Help: "Collection cycles by route and result.",
		}, []string{"route_id", "result"}),
		Observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripstats_collector_observations_total",
			Help: "Observations stored.",
		}, []string{"route_id"}),
		SkippedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripstats_collector_skipped_ticks_total",
			Help: "Scheduled cycles dropped because the previous one was still running.",
		}, []string{"route_id"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tripstats_collector_cycle_duration_seconds",
			Help:    "Duration of a fetch, decode and store cycle.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"route_id"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripstats_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripstats_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripstats_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tripstats_feed_circuit_state",
			Help: "Feed circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"url"}),
		StatisticsDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tripstats_statistics_duration_seconds",
			Help:    "Duration of statistics computations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripstats_http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tripstats_http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.Cycles, c.Observations, c.SkippedTicks, c.CycleDuration,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.CircuitState, c.StatisticsDuration,
		c.HTTPRequests, c.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Records a finished collection cycle.
func (c *Collector) ObserveCycle(routeID string, result string, n int, d time.Duration) {
	c.Cycles.WithLabelValues(routeID, result).Inc()
	c.CycleDuration.WithLabelValues(routeID).Observe(d.Seconds())
	if n > 0 {
		c.Observations.WithLabelValues(routeID).Add(float64(n))
	}
}

func (c *Collector) SkippedTick(routeID string) {
	c.SkippedTicks.WithLabelValues(routeID).Inc()
}

// Matches downloader.BreakerConfig.OnStateChange.
func (c *Collector) CircuitStateChanged(url string, from gobreaker.State, to gobreaker.State) {
	c.CircuitState.WithLabelValues(url).Set(float64(to))
}

func (c *Collector) ObserveStatistics(d time.Duration) {
	c.StatisticsDuration.Observe(d.Seconds())
}

// Route is the matched pattern, not the raw path, to bound cardinality.
func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Implements publisher.Metrics.
func (c *Collector) NATSPublishedInc()  { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }
func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Str("addr", addr).Msg("metrics listening")
	return srv
}
