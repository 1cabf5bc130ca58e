package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	"tidbyt.dev/tripstats"
	"tidbyt.dev/tripstats/api"
	"tidbyt.dev/tripstats/downloader"
	"tidbyt.dev/tripstats/parse"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Lists routes with stored observations",
	Args:  cobra.NoArgs,
	RunE:  routes,
}

var statsCmd = &cobra.Command{
	Use:   "stats <route_id>",
	Short: "Prints average trip durations for a route",
	Args:  cobra.ExactArgs(1),
	RunE:  stats,
}

var (
	staticFeed string

	startDate string
	endDate   string
	format    string
)

func init() {
	routesCmd.Flags().StringVarP(&staticFeed, "static", "", "", "Static GTFS zip, file or URL, to name routes by")
	statsCmd.Flags().StringVarP(&startDate, "start", "s", "", "First date, YYYY-MM-DD (default a week before end)")
	statsCmd.Flags().StringVarP(&endDate, "end", "e", "", "Last date, YYYY-MM-DD (default today)")
	statsCmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or csv")

	rootCmd.AddCommand(routesCmd)
	rootCmd.AddCommand(statsCmd)
}

func routes(cmd *cobra.Command, args []string) error {
	s, err := openStorage(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	routes, err := s.ListRoutes(cmd.Context())
	if err != nil {
		return err
	}

	names := map[string]string{}
	if staticFeed != "" {
		names, err = routeNames(cmd.Context(), staticFeed)
		if err != nil {
			return fmt.Errorf("loading static feed: %w", err)
		}
	}

	for _, routeID := range routes {
		if name, found := names[routeID]; found {
			fmt.Printf("%s %s\n", routeID, name)
		} else {
			fmt.Println(routeID)
		}
	}

	return nil
}

func routeNames(ctx context.Context, source string) (map[string]string, error) {
	var buf []byte
	var err error
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		buf, err = downloader.HTTPGet(ctx, source, nil, downloader.GetOptions{
			Timeout: 5 * time.Minute,
			MaxSize: 512 << 20,
		})
	} else {
		buf, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, err
	}

	routes, err := parse.ParseStaticRoutes(buf)
	if err != nil {
		return nil, err
	}

	names := map[string]string{}
	for _, r := range routes {
		names[r.ID] = r.Name()
	}
	return names, nil
}

func stats(cmd *cobra.Command, args []string) error {
	if format != "json" && format != "csv" {
		return fmt.Errorf("unknown format '%s'", format)
	}

	now := time.Now().In(cfg.Location)
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, cfg.Location)
	var err error
	if endDate != "" {
		end, err = parseDate("end", endDate)
		if err != nil {
			return err
		}
	}

	start := end.AddDate(0, 0, -api.DefaultWindowDays)
	if startDate != "" {
		start, err = parseDate("start", startDate)
		if err != nil {
			return err
		}
	}

	if start.After(end) {
		return fmt.Errorf("start %s is after end %s", start.Format(tripstats.DateFormat), end.Format(tripstats.DateFormat))
	}

	s, err := openStorage(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := tripstats.NewStatistics(s, cfg.Location).Compute(cmd.Context(), args[0], start, end)
	if err != nil {
		return err
	}

	if format == "csv" {
		return gocsv.Marshal(result.Rows(), os.Stdout)
	}

	buf, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(buf))

	return nil
}
