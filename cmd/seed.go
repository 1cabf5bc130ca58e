package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tidbyt.dev/tripstats/parse"
	"tidbyt.dev/tripstats/seed"
)

var seedCmd = &cobra.Command{
	Use:   "seed [route_id...]",
	Short: "Fills storage with synthetic observations",
	Long:  "Generates a few days of plausible observations for the given routes, or the configured ones",
	RunE:  seedTrips,
}

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Appends observations from a CSV dump",
	Long:  "Appends observations from a CSV file with route_id, trip_id, start_time, end_time and collected_at columns",
	Args:  cobra.ExactArgs(1),
	RunE:  importTrips,
}

var (
	daysBack   int
	randSeed   int64
	batchSize  int
	dryRunSeed bool
)

func init() {
	seedCmd.Flags().IntVarP(&daysBack, "days", "d", 7, "Number of days before today to generate")
	seedCmd.Flags().Int64VarP(&randSeed, "seed", "", 0, "Random seed (default time based)")
	seedCmd.Flags().IntVarP(&batchSize, "batch-size", "b", seed.DefaultBatchSize, "Observations per insert")
	seedCmd.Flags().BoolVarP(&dryRunSeed, "dry-run", "n", false, "Only report what would be generated")
	importCmd.Flags().IntVarP(&batchSize, "batch-size", "b", seed.DefaultBatchSize, "Observations per insert")

	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(importCmd)
}

func seedTrips(cmd *cobra.Command, args []string) error {
	if daysBack <= 0 {
		return fmt.Errorf("days must be > 0")
	}

	routes := cfg.Feed.RouteIDs
	if len(args) > 0 {
		routes = args
	}

	if randSeed == 0 {
		randSeed = time.Now().UnixNano()
	}

	g := seed.NewGenerator(rand.New(rand.NewSource(randSeed)), cfg.Location)
	observations := g.Days(routes, time.Now(), daysBack)

	log := logger.With().
		Strs("routes", routes).
		Int("days", daysBack).
		Int64("seed", randSeed).
		Int("observations", len(observations)).
		Logger()

	if dryRunSeed {
		log.Info().Msg("dry run, nothing stored")
		return nil
	}

	s, err := openStorage(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	err = seed.Seed(cmd.Context(), s, observations, batchSize)
	if err != nil {
		return err
	}

	log.Info().Msg("seeding complete")

	return nil
}

func importTrips(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	observations, err := parse.ParseObservations(f)
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	s, err := openStorage(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	err = seed.Seed(cmd.Context(), s, observations, batchSize)
	if err != nil {
		return err
	}

	logger.Info().
		Str("file", args[0]).
		Int("observations", len(observations)).
		Msg("import complete")

	return nil
}
