// Package config loads and validates configuration at startup.
// Fail-fast: if a required variable is missing, Load returns an error and the
// process exits.
package config

import (
	_ "embed"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/scraper"
)

//go:embed sources.yaml
var defaultSources []byte

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all runtime configuration for the discovery service.
type Config struct {
	Port        string
	StoreDriver string
	DatabaseURL string
	RedisURL    string // optional with the memory driver

	LogLevel  string
	LogFormat string

	FreshnessWindow time.Duration
	ProviderTimeout time.Duration
	ExcludeTerms    []string
	SourcesFile     string

	AdzunaAppID   string
	AdzunaAppKey  string
	AdzunaCountry string

	DailyCron    string
	DailyBatch   int
	CatchupCron  string
	CatchupBatch int
	Location     *time.Location

	QueueResultLimit int
	QueueWorkers     int
	ClaimLease       time.Duration

	SeedKeywords []string
	RunOnStart   bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DISCOVERY_PORT", "8081")
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("FRESHNESS_WINDOW", "96h")
	v.SetDefault("PROVIDER_TIMEOUT", "3m")
	v.SetDefault("ADZUNA_COUNTRY", "fr")
	v.SetDefault("DAILY_CRON", "0 2 * * *")
	v.SetDefault("DAILY_BATCH", 20)
	v.SetDefault("CATCHUP_CRON", "0 5 */3 * *")
	v.SetDefault("CATCHUP_BATCH", 50)
	v.SetDefault("SCHEDULER_TZ", "Asia/Tehran")
	v.SetDefault("QUEUE_RESULT_LIMIT", 50)
	v.SetDefault("QUEUE_WORKERS", 2)
	v.SetDefault("CLAIM_LEASE", "1h")
	v.SetDefault("RUN_ON_START", false)
}

// Load reads envFile (if it exists) into the environment, then environment
// variables over defaults, and returns a validated Config.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "load %s", envFile)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Port:             v.GetString("DISCOVERY_PORT"),
		StoreDriver:      strings.ToLower(v.GetString("STORE_DRIVER")),
		DatabaseURL:      v.GetString("DATABASE_URL"),
		RedisURL:         v.GetString("REDIS_URL"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		LogFormat:        v.GetString("LOG_FORMAT"),
		FreshnessWindow:  v.GetDuration("FRESHNESS_WINDOW"),
		ProviderTimeout:  v.GetDuration("PROVIDER_TIMEOUT"),
		ExcludeTerms:     splitList(v.GetString("EXCLUDE_TERMS")),
		SourcesFile:      v.GetString("SOURCES_FILE"),
		AdzunaAppID:      v.GetString("ADZUNA_APP_ID"),
		AdzunaAppKey:     v.GetString("ADZUNA_APP_KEY"),
		AdzunaCountry:    v.GetString("ADZUNA_COUNTRY"),
		DailyCron:        v.GetString("DAILY_CRON"),
		DailyBatch:       v.GetInt("DAILY_BATCH"),
		CatchupCron:      v.GetString("CATCHUP_CRON"),
		CatchupBatch:     v.GetInt("CATCHUP_BATCH"),
		QueueResultLimit: v.GetInt("QUEUE_RESULT_LIMIT"),
		QueueWorkers:     v.GetInt("QUEUE_WORKERS"),
		ClaimLease:       v.GetDuration("CLAIM_LEASE"),
		SeedKeywords:     splitList(v.GetString("SEED_KEYWORDS")),
		RunOnStart:       v.GetBool("RUN_ON_START"),
	}

	switch cfg.StoreDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required")
		}
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required")
		}
	case DriverMemory:
	default:
		return nil, errors.Newf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, cfg.StoreDriver)
	}

	loc, err := time.LoadLocation(v.GetString("SCHEDULER_TZ"))
	if err != nil {
		return nil, errors.Wrapf(err, "SCHEDULER_TZ %q", v.GetString("SCHEDULER_TZ"))
	}
	cfg.Location = loc

	for name, d := range map[string]time.Duration{
		"FRESHNESS_WINDOW": cfg.FreshnessWindow,
		"PROVIDER_TIMEOUT": cfg.ProviderTimeout,
		"CLAIM_LEASE":      cfg.ClaimLease,
	} {
		if d <= 0 {
			return nil, errors.Newf("%s must be a positive duration, got %q", name, v.GetString(name))
		}
	}
	for name, n := range map[string]int{
		"DAILY_BATCH":        cfg.DailyBatch,
		"CATCHUP_BATCH":      cfg.CatchupBatch,
		"QUEUE_RESULT_LIMIT": cfg.QueueResultLimit,
		"QUEUE_WORKERS":      cfg.QueueWorkers,
	} {
		if n < 1 {
			return nil, errors.Newf("%s must be a positive integer, got %q", name, v.GetString(name))
		}
	}

	return cfg, nil
}

// Sources returns the source definitions from SourcesFile, or the built-in
// ones when it is unset.
func (c *Config) Sources() ([]scraper.Definition, error) {
	data := defaultSources
	if c.SourcesFile != "" {
		b, err := os.ReadFile(c.SourcesFile)
		if err != nil {
			return nil, errors.Wrapf(err, "read SOURCES_FILE")
		}
		data = b
	}
	return scraper.ParseDefinitions(data)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
