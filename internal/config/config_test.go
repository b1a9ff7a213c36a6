package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobinsight/discovery-service/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, 96*time.Hour, cfg.FreshnessWindow)
	assert.Equal(t, 3*time.Minute, cfg.ProviderTimeout)
	assert.Equal(t, "0 2 * * *", cfg.DailyCron)
	assert.Equal(t, 20, cfg.DailyBatch)
	assert.Equal(t, "0 5 */3 * *", cfg.CatchupCron)
	assert.Equal(t, 50, cfg.CatchupBatch)
	assert.Equal(t, "Asia/Tehran", cfg.Location.String())
	assert.Equal(t, 50, cfg.QueueResultLimit)
	assert.Equal(t, time.Hour, cfg.ClaimLease)
	assert.False(t, cfg.RunOnStart)
	assert.Empty(t, cfg.ExcludeTerms)
}

func TestLoad_PostgresRequiresURLs(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")
	_, err = config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.DriverPostgres, cfg.StoreDriver)
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("STORE_DRIVER=memory\nEXCLUDE_TERMS= intern , ,unpaid\nSEED_KEYWORDS=go,python\n"), 0o600))
	t.Setenv("FRESHNESS_WINDOW", "24h")
	t.Setenv("QUEUE_WORKERS", "4")
	// godotenv never overrides variables already set, so pre-register the
	// ones the file provides and let t.Setenv restore them afterwards.
	for _, k := range []string{"STORE_DRIVER", "EXCLUDE_TERMS", "SEED_KEYWORDS"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	cfg, err := config.Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, config.DriverMemory, cfg.StoreDriver)
	assert.Equal(t, []string{"intern", "unpaid"}, cfg.ExcludeTerms)
	assert.Equal(t, []string{"go", "python"}, cfg.SeedKeywords)
	assert.Equal(t, 24*time.Hour, cfg.FreshnessWindow)
	assert.Equal(t, 4, cfg.QueueWorkers)
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string][2]string{
		"driver":   {"STORE_DRIVER", "sqlite"},
		"tz":       {"SCHEDULER_TZ", "Mars/Olympus"},
		"window":   {"FRESHNESS_WINDOW", "0s"},
		"batch":    {"DAILY_BATCH", "0"},
		"duration": {"CLAIM_LEASE", "-1h"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("STORE_DRIVER", "memory")
			t.Setenv(kv[0], kv[1])
			_, err := config.Load("")
			assert.Error(t, err)
		})
	}
}

func TestSources(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	cfg, err := config.Load("")
	require.NoError(t, err)

	defs, err := cfg.Sources()
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "jobvision", defs[0].Name)
	assert.InDelta(t, 0.6, defs[0].Weight, 1e-9)
	assert.Equal(t, "karbord", defs[1].Name)
	assert.True(t, defs[1].RequireSkills)

	cfg.SourcesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = cfg.Sources()
	assert.Error(t, err)
}
