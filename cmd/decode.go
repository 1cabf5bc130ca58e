package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tidbyt.dev/tripstats"
	"tidbyt.dev/tripstats/downloader"
	"tidbyt.dev/tripstats/model"
	"tidbyt.dev/tripstats/parse"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <route_id>",
	Short: "Fetches the realtime feed once and prints a route's trips",
	Args:  cobra.ExactArgs(1),
	RunE:  decode,
}

var (
	cachePath string
	cacheTTL  time.Duration
	headers   []string
)

func init() {
	decodeCmd.Flags().StringVarP(&cachePath, "cache", "", "./gtfs-rt-cache.json", "Feed cache file")
	decodeCmd.Flags().DurationVarP(&cacheTTL, "cache-ttl", "", time.Minute, "How long a cached feed is reused")
	decodeCmd.Flags().StringSliceVarP(&headers, "header", "", []string{}, "Extra HTTP header, <key>:<value>")

	rootCmd.AddCommand(decodeCmd)
}

func decode(cmd *cobra.Command, args []string) error {
	routeID := args[0]

	extra, err := parseHeaders(headers)
	if err != nil {
		return fmt.Errorf("invalid header: %w", err)
	}
	h := map[string]string{
		"Accept":     "application/x-google-protobuf",
		"User-Agent": tripstats.UserAgent,
	}
	for k, v := range extra {
		h[k] = v
	}

	fs, err := downloader.NewFilesystem(cachePath)
	if err != nil {
		return fmt.Errorf("creating realtime cache: %w", err)
	}
	fs.Logger = logger

	query := map[string]string{}
	if cfg.Feed.APIKey != "" {
		query["key"] = cfg.Feed.APIKey
	}

	body, err := fs.Get(cmd.Context(), cfg.Feed.URL, h, downloader.GetOptions{
		Timeout:  cfg.Feed.FetchTimeout,
		MaxSize:  tripstats.DefaultMaxSize,
		Cache:    cacheTTL > 0,
		CacheTTL: cacheTTL,
		Query:    query,
	})
	if err != nil {
		return err
	}

	observations, summary, err := parse.DecodeFeed(cmd.Context(), body, routeID)
	if err != nil {
		return err
	}

	fmt.Printf(
		"feed %s: %d entities, %d trip updates, %d on route %s\n",
		summary.Timestamp.In(cfg.Location).Format(time.RFC3339),
		summary.NumEntities,
		summary.NumTripUpdates,
		summary.NumMatched,
		routeID,
	)

	for _, o := range observations {
		start, end, duration := "-", "-", "-"
		if o.StartTime != nil {
			start = o.StartTime.In(cfg.Location).Format("15:04:05")
		}
		if o.EndTime != nil {
			end = o.EndTime.In(cfg.Location).Format("15:04:05")
		}
		if d, ok := model.TripRecord(o).Duration(cfg.Location); ok {
			duration = d.String()
		}
		fmt.Printf("%s %s %s %s\n", o.TripID, start, end, duration)
	}

	return nil
}
