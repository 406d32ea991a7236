package config

import (
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetEnv clears keys for the test and restores them afterwards.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t, "PORT", "STORE_DRIVER", "TOKEN_EXPIRE_TIME", "HISTORIAN_BATCH_SIZE", "HISTORIAN_FLUSH_MS")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, 20, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.FlushInterval())

	ttl, err := cfg.TokenExpiry()
	require.NoError(t, err)
	assert.Zero(t, ttl)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("TOKEN_EXPIRE_TIME", "72h")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr())
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "/tmp/x.db", cfg.SQLitePath)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	ttl, err := cfg.TokenExpiry()
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, ttl)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mysql")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("TOKEN_EXPIRE_TIME", "soon")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("TOKEN_EXPIRE_TIME", "never")
	t.Setenv("REDIS_DB", "two")
	_, err = Load()
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	cfg := Config{DatabaseURL: "postgres://x@y/z"}
	assert.Equal(t, "postgres://x@y/z", cfg.PostgresDSN())

	cfg = Config{PGUser: "me", PGPassword: "p@ss", PGHost: "db", PGPort: "5433", PGDatabase: "story"}
	assert.Equal(t, "postgres://me:p%40ss@db:5433/story", cfg.PostgresDSN())
}

func TestNewLogger(t *testing.T) {
	logger, err := Config{LogLevel: "debug", LogJSON: true}.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	_, err = Config{LogLevel: "loud"}.NewLogger()
	assert.Error(t, err)
}
