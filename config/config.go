package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultFeedURL  = "https://go.bkk.hu/api/query/v1/ws/gtfs-rt/full/TripUpdates.pb"
	DefaultTimezone = "Europe/Budapest"
)

var DefaultRouteIDs = []string{"0050", "0070", "0090"}

type PostgresConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DB       string `yaml:"db"`
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"gt=0,lte=65535"`
}

type StorageConfig struct {
	Backend string `yaml:"backend" validate:"oneof=postgres sqlite memory"`

	// Takes precedence over the Postgres fields when set.
	DatabaseURL string         `yaml:"databaseURL"`
	Postgres    PostgresConfig `yaml:"postgres"`

	// Empty means an in-memory SQLite database.
	SQLiteDir string `yaml:"sqliteDir"`
}

type FeedConfig struct {
	URL          string        `yaml:"url" validate:"required,url"`
	APIKey       string        `yaml:"apiKey"`
	RouteIDs     []string      `yaml:"routeIDs" validate:"required,min=1,dive,required"`
	PollInterval time.Duration `yaml:"pollInterval" validate:"gt=0"`
	FetchTimeout time.Duration `yaml:"fetchTimeout" validate:"gt=0"`
	CacheTTL     time.Duration `yaml:"cacheTTL" validate:"gte=0"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`

	// Requests per minute per client IP. Zero disables limiting.
	RateLimit int `yaml:"rateLimit" validate:"gte=0"`

	// Empty disables the standalone metrics listener.
	MetricsAddr string `yaml:"metricsAddr"`
}

type NATSConfig struct {
	// Empty disables publishing.
	URL           string `yaml:"url" validate:"omitempty,url"`
	SubjectPrefix string `yaml:"subjectPrefix" validate:"required"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// Config is the root configuration structure
type Config struct {
	Timezone string        `yaml:"timezone" validate:"required"`
	Storage  StorageConfig `yaml:"storage"`
	Feed     FeedConfig    `yaml:"feed"`
	Server   ServerConfig  `yaml:"server"`
	NATS     NATSConfig    `yaml:"nats"`
	Log      LogConfig     `yaml:"log"`

	// Resolved from Timezone by Load.
	Location *time.Location `yaml:"-"`
}

func Default() *Config {
	return &Config{
		Timezone: DefaultTimezone,
		Storage: StorageConfig{
			Backend: "postgres",
			Postgres: PostgresConfig{
				Host: "localhost",
				Port: 5432,
			},
		},
		Feed: FeedConfig{
			URL:          DefaultFeedURL,
			RouteIDs:     append([]string{}, DefaultRouteIDs...),
			PollInterval: time.Minute,
			FetchTimeout: 20 * time.Second,
		},
		Server: ServerConfig{
			Addr:      ":8000",
			RateLimit: 100,
		},
		NATS: NATSConfig{
			SubjectPrefix: "tripstats.trips",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Loads configuration. Defaults are overlaid by the YAML file at path
// (if path is non-empty), which is in turn overlaid by environment
// variables. A .env file in the working directory is loaded into the
// environment first, if present.
func Load(path string) (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}
	cfg.Location = loc

	return cfg, nil
}

func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Storage.Backend == "postgres" && c.Storage.DatabaseURL == "" {
		if c.Storage.Postgres.User == "" || c.Storage.Postgres.DB == "" {
			return fmt.Errorf("invalid config: postgres storage needs DATABASE_URL or POSTGRES_USER and POSTGRES_DB")
		}
	}

	return nil
}

// Connection string for the postgres backend.
func (c *Config) PostgresDSN() string {
	if c.Storage.DatabaseURL != "" {
		return c.Storage.DatabaseURL
	}

	pg := c.Storage.Postgres
	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", pg.Host, pg.Port),
		Path:     "/" + pg.DB,
		RawQuery: "sslmode=disable",
	}
	if pg.Password != "" {
		u.User = url.UserPassword(pg.User, pg.Password)
	} else {
		u.User = url.User(pg.User)
	}
	return u.String()
}

func (c *Config) applyEnv() error {
	setString(&c.Storage.Backend, "STORAGE")
	setString(&c.Storage.DatabaseURL, "DATABASE_URL")
	setString(&c.Storage.Postgres.User, "POSTGRES_USER")
	setString(&c.Storage.Postgres.Password, "POSTGRES_PASSWORD")
	setString(&c.Storage.Postgres.DB, "POSTGRES_DB")
	setString(&c.Storage.Postgres.Host, "POSTGRES_HOST")
	setString(&c.Storage.SQLiteDir, "SQLITE_DIR")
	setString(&c.Timezone, "TZ")
	setString(&c.Feed.URL, "FEED_URL", "BKK_API_URL")
	setString(&c.Feed.APIKey, "FEED_API_KEY", "BKK_API_KEY")
	setString(&c.Server.Addr, "HTTP_ADDR")
	setString(&c.Server.MetricsAddr, "METRICS_ADDR")
	setString(&c.NATS.URL, "NATS_URL")
	setString(&c.NATS.SubjectPrefix, "NATS_SUBJECT_PREFIX")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	if v := getenv("ROUTE_IDS"); v != "" {
		routes := []string{}
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				routes = append(routes, r)
			}
		}
		c.Feed.RouteIDs = routes
	}

	if v := getenv("POSTGRES_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid POSTGRES_PORT: %q", v)
		}
		c.Storage.Postgres.Port = port
	}

	if v := getenv("HTTP_RATE_LIMIT"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HTTP_RATE_LIMIT: %q", v)
		}
		c.Server.RateLimit = limit
	}

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"POLL_INTERVAL", &c.Feed.PollInterval},
		{"FETCH_TIMEOUT", &c.Feed.FetchTimeout},
		{"FEED_CACHE_TTL", &c.Feed.CacheTTL},
	} {
		v := getenv(d.key)
		if v == "" {
			continue
		}
		dur, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", d.key, v)
		}
		*d.dst = dur
	}

	return nil
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// Sets dst from the first non-empty variable among keys.
func setString(dst *string, keys ...string) {
	for _, k := range keys {
		if v := getenv(k); v != "" {
			*dst = v
			return
		}
	}
}
