package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tidbyt.dev/tripstats"
	"tidbyt.dev/tripstats/config"
	"tidbyt.dev/tripstats/storage"
)

// Set at build time via ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:               "tripstats",
	Short:             "Transit trip duration tracker",
	Long:              "Collects GTFS Realtime trip updates and reports average trip durations",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	configPath string

	cfg    *config.Config
	logger zerolog.Logger
)

// Attempts at opening postgres before giving up.
const storageOpenRetries = 8

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	logger = newLogger(cfg.Log, os.Stderr)
	return nil
}

func newLogger(lc config.LogConfig, out io.Writer) zerolog.Logger {
	w := out
	if lc.Format == "console" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", "tripstats").
		Str("version", Version).
		Logger()
}

// Opens the configured storage backend. Postgres may not be accepting
// connections yet when we start alongside it, so opening it is
// retried with exponential backoff.
func openStorage(ctx context.Context) (storage.Storage, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemoryStorage(), nil

	case "sqlite":
		sqliteCfg := storage.SQLiteConfig{}
		if cfg.Storage.SQLiteDir != "" {
			sqliteCfg = storage.SQLiteConfig{OnDisk: true, Directory: cfg.Storage.SQLiteDir}
		}
		s, err := storage.NewSQLiteStorage(sqliteCfg)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite: %w", err)
		}
		return s, nil

	case "postgres":
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Second
		b.MaxInterval = 15 * time.Second
		b.MaxElapsedTime = 0

		s, err := backoff.RetryNotifyWithData(
			func() (*storage.PSQLStorage, error) {
				return storage.NewPSQLStorage(cfg.PostgresDSN(), false)
			},
			backoff.WithContext(backoff.WithMaxRetries(b, storageOpenRetries), ctx),
			func(err error, d time.Duration) {
				logger.Warn().Err(err).Dur("retry_in", d).Msg("postgres unavailable")
			},
		)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return s, nil
	}

	return nil, fmt.Errorf("unknown storage backend '%s'", cfg.Storage.Backend)
}

func parseHeaders(headers []string) (map[string]string, error) {
	parsed := map[string]string{}
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("'%s' is not on form <key>:<value>", header)
		}
		parsed[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return parsed, nil
}

// Parses a YYYY-MM-DD flag value in the configured location.
func parseDate(name, value string) (time.Time, error) {
	t, err := time.ParseInLocation(tripstats.DateFormat, value, cfg.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s '%s', expected YYYY-MM-DD", name, value)
	}
	return t, nil
}
