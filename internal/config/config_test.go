package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "database:\n  host: db\n"))
	require.NoError(t, err)

	assert.Equal(t, "db", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 128, cfg.Biometric.Dimension)
	assert.Equal(t, 0.4, cfg.Biometric.Tolerance)
	assert.Equal(t, "brute", cfg.Biometric.Matcher)
	assert.Equal(t, 5*time.Second, cfg.Biometric.StoreTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Audit.Timeout)
	assert.Equal(t, 5, cfg.RateLimit.MaxFailures)
	assert.Equal(t, 5*time.Minute, cfg.RateLimit.Lockout)
	assert.Equal(t, "postgres", cfg.RateLimit.Backend)
	assert.Equal(t, "embeddings/", cfg.MinIO.Prefix)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FACESYNC_DB_HOST", "env-db")
	t.Setenv("FACESYNC_MATCH_TOLERANCE", "0.35")
	t.Setenv("FACESYNC_MATCHER", "hnsw")

	cfg, err := Load(writeConfig(t, "database:\n  host: file-db\nbiometric:\n  tolerance: 0.5\n"))
	require.NoError(t, err)

	assert.Equal(t, "env-db", cfg.Database.Host)
	assert.Equal(t, 0.35, cfg.Biometric.Tolerance)
	assert.Equal(t, "hnsw", cfg.Biometric.Matcher)
}

func TestLoad_YAMLDurations(t *testing.T) {
	cfg, err := Load(writeConfig(t, "ratelimit:\n  lockout: 10m\n  max_failures: 3\naudit:\n  interval: 15m\n  timeout: 30s\n"))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.RateLimit.Lockout)
	assert.Equal(t, 3, cfg.RateLimit.MaxFailures)
	assert.Equal(t, 15*time.Minute, cfg.Audit.Interval)
	assert.Equal(t, 30*time.Second, cfg.Audit.Timeout)
}

func TestLoad_RejectsUnknownMatcher(t *testing.T) {
	_, err := Load(writeConfig(t, "biometric:\n  matcher: annoy\n"))
	assert.ErrorContains(t, err, "unknown biometric.matcher")
}

func TestLoad_RedisBackendNeedsAddr(t *testing.T) {
	_, err := Load(writeConfig(t, "ratelimit:\n  backend: redis\n"))
	assert.ErrorContains(t, err, "redis.addr")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")
}
