package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"riot-ingester/internal/region"
)

// ErrInvalid marks configuration problems. main maps it to a non-zero exit.
var ErrInvalid = errors.New("invalid configuration")

// DefaultQueue is the only queue crawled in production.
const DefaultQueue = "RANKED_SOLO_5x5"

type Config struct {
	// Riot
	RiotAPIKey  string
	ValidateKey bool
	HTTPTimeout time.Duration

	// Storage
	DatabaseURL string

	// Crawl scope
	Regions []string
	Queues  []string

	// Pool widths
	LadderWorkers  int
	HarvestWorkers int
	FetchWorkers   int
	DeriveWorkers  int
	QueueSize      int

	// Governor
	RateShortRequests int
	RateShortWindow   time.Duration
	RateLongRequests  int
	RateLongWindow    time.Duration

	// Stages
	MaxMatchIDsPerPlayer int
	FetchTimelines       bool

	// 5xx backoff
	RetryAttempts     int
	RetryInitialDelay time.Duration

	// Optional integrations
	RedisURL          string
	ArchiveDir        string
	ArchiveColdDir    string
	ArchiveMaxRecords int           // 0 keeps the archive default
	ArchiveMaxAge     time.Duration // 0 keeps the archive default
	DiscordWebhookURL string
	MetricsAddr       string
}

// Load loads configuration from environment variables.
// It returns an error wrapping ErrInvalid if critical configuration is missing.
func Load() (*Config, error) {
	cfg := &Config{
		ValidateKey: getEnvBool("VALIDATE_API_KEY", true),
		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 30*time.Second),

		Queues: getEnvList("QUEUES", []string{DefaultQueue}),

		LadderWorkers:  getEnvInt("LADDER_WORKERS", 2),
		HarvestWorkers: getEnvInt("HARVEST_WORKERS", 4),
		FetchWorkers:   getEnvInt("FETCH_WORKERS", 8),
		DeriveWorkers:  getEnvInt("DERIVE_WORKERS", 4),
		QueueSize:      getEnvInt("QUEUE_SIZE", 100),

		RateShortRequests: getEnvInt("RATE_SHORT_REQUESTS", 15),
		RateShortWindow:   getEnvDuration("RATE_SHORT_WINDOW", time.Second),
		RateLongRequests:  getEnvInt("RATE_LONG_REQUESTS", 90),
		RateLongWindow:    getEnvDuration("RATE_LONG_WINDOW", 2*time.Minute),

		MaxMatchIDsPerPlayer: getEnvInt("MAX_MATCH_IDS_PER_PLAYER", 990),
		FetchTimelines:       getEnvBool("FETCH_TIMELINES", true),

		RetryAttempts:     getEnvInt("RETRY_ATTEMPTS", 3),
		RetryInitialDelay: getEnvDuration("RETRY_INITIAL_DELAY", time.Second),

		RedisURL:          getEnv("REDIS_URL", ""),
		ArchiveDir:        strings.Trim(getEnv("ARCHIVE_DIR", ""), "\""),
		ArchiveColdDir:    strings.Trim(getEnv("ARCHIVE_COLD_DIR", ""), "\""),
		ArchiveMaxRecords: getEnvInt("ARCHIVE_MAX_RECORDS", 0),
		ArchiveMaxAge:     getEnvDuration("ARCHIVE_MAX_AGE", 0),
		DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),
		MetricsAddr:       getEnv("METRICS_ADDR", ""),
	}

	var err error
	if cfg.RiotAPIKey, err = getEnvRequired("RIOT_API_KEY", "RIOT-DEV-KEY"); err != nil {
		return nil, err
	}

	cfg.Regions = getEnvList("REGIONS", region.Shards())
	for i, shard := range cfg.Regions {
		if !region.IsKnown(shard) {
			return nil, errors.Mark(errors.Wrapf(region.ErrUnknownRegion, "REGIONS: shard %q", shard), ErrInvalid)
		}
		cfg.Regions[i] = strings.ToLower(shard)
	}

	cfg.DatabaseURL = databaseURL()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	positive := map[string]int{
		"LADDER_WORKERS":           c.LadderWorkers,
		"HARVEST_WORKERS":          c.HarvestWorkers,
		"FETCH_WORKERS":            c.FetchWorkers,
		"DERIVE_WORKERS":           c.DeriveWorkers,
		"QUEUE_SIZE":               c.QueueSize,
		"RATE_SHORT_REQUESTS":      c.RateShortRequests,
		"RATE_LONG_REQUESTS":       c.RateLongRequests,
		"MAX_MATCH_IDS_PER_PLAYER": c.MaxMatchIDsPerPlayer,
		"RETRY_ATTEMPTS":           c.RetryAttempts,
	}
	for key, v := range positive {
		if v <= 0 {
			return errors.Wrapf(ErrInvalid, "%s must be positive, got %d", key, v)
		}
	}
	if c.RateShortWindow <= 0 || c.RateLongWindow <= 0 {
		return errors.Wrap(ErrInvalid, "rate windows must be positive")
	}
	if len(c.Regions) == 0 {
		return errors.Wrap(ErrInvalid, "REGIONS must name at least one shard")
	}
	if len(c.Queues) == 0 {
		return errors.Wrap(ErrInvalid, "QUEUES must not be empty")
	}
	return nil
}

// databaseURL prefers DATABASE_URL, then DB_HOST/DB_PORT/DB_USER/DB_PASSWORD/DB_NAME
// for a client-server engine, then DB_PATH for the embedded engine.
func databaseURL() string {
	if v := getEnv("DATABASE_URL", ""); v != "" {
		return strings.Trim(v, "\"")
	}
	if host := getEnv("DB_HOST", ""); host != "" {
		u := &url.URL{
			Scheme:   "postgres",
			Host:     fmt.Sprintf("%s:%s", host, getEnv("DB_PORT", "5432")),
			Path:     "/" + getEnv("DB_NAME", "riot"),
			RawQuery: "sslmode=" + getEnv("DB_SSLMODE", "disable"),
		}
		if user := getEnv("DB_USER", ""); user != "" {
			if pw := getEnv("DB_PASSWORD", ""); pw != "" {
				u.User = url.UserPassword(user, pw)
			} else {
				u.User = url.User(user)
			}
		}
		return u.String()
	}
	return getEnv("DB_PATH", "riot-ingester.db")
}

// MaskedKey returns the key with only its prefix and suffix visible.
func (c *Config) MaskedKey() string {
	if len(c.RiotAPIKey) <= 12 {
		return "****"
	}
	return c.RiotAPIKey[:8] + "..." + c.RiotAPIKey[len(c.RiotAPIKey)-4:]
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvRequired(keys ...string) (string, error) {
	for _, key := range keys {
		if value := strings.Trim(os.Getenv(key), "\""); value != "" {
			return value, nil
		}
	}
	return "", errors.Wrapf(ErrInvalid, "missing required environment variable: %s", keys[0])
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
