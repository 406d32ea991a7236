// internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

// Config is the process configuration read from the environment.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON" envDefault:"false"`

	// StoreDriver is "postgres" or "sqlite".
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	PGUser      string `env:"POSTGRES_USER"`
	PGPassword  string `env:"POSTGRES_PASSWORD"`
	PGHost      string `env:"PG_HOST" envDefault:"localhost"`
	PGPort      string `env:"PG_PORT" envDefault:"5432"`
	PGDatabase  string `env:"PG_DATABASE" envDefault:"storyteller"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"storyteller.db"`

	// RedisAddr empty disables the action log.
	RedisAddr  string `env:"REDIS_ADDR"`
	RedisDB    int    `env:"REDIS_DB" envDefault:"0"`
	QueueName  string `env:"HISTORIAN_QUEUE_NAME" envDefault:"storyteller_actions"`
	BatchSize  int    `env:"HISTORIAN_BATCH_SIZE" envDefault:"20"`
	FlushMs    int    `env:"HISTORIAN_FLUSH_MS" envDefault:"500"`
	AdminHash  string `env:"ADMIN_KEY_HASH"`
	TokenTTL   string `env:"TOKEN_EXPIRE_TIME" envDefault:"never"`
	ShutdownMs int    `env:"SHUTDOWN_TIMEOUT_MS" envDefault:"5000"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	switch cfg.StoreDriver {
	case "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("STORE_DRIVER must be postgres or sqlite, got %q", cfg.StoreDriver)
	}
	if _, err := cfg.TokenExpiry(); err != nil {
		return Config{}, err
	}
	if cfg.BatchSize <= 0 {
		return Config{}, fmt.Errorf("HISTORIAN_BATCH_SIZE must be positive")
	}
	return cfg, nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return ":" + c.Port
}

// PostgresDSN returns DATABASE_URL or, when unset, a URL built from the POSTGRES_* and PG_* parts.
func (c Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   c.PGHost + ":" + c.PGPort,
		Path:   "/" + c.PGDatabase,
	}
	if c.PGUser != "" {
		u.User = url.UserPassword(c.PGUser, c.PGPassword)
	}
	return u.String()
}

// TokenExpiry is the session token lifetime; 0 means tokens never expire.
func (c Config) TokenExpiry() (time.Duration, error) {
	switch c.TokenTTL {
	case "", "0", "never":
		return 0, nil
	}
	d, err := time.ParseDuration(c.TokenTTL)
	if err != nil {
		return 0, fmt.Errorf("parse TOKEN_EXPIRE_TIME: %w", err)
	}
	return d, nil
}

// FlushInterval is how often the historian flushes a partial batch.
func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushMs) * time.Millisecond
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownMs) * time.Millisecond
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_JSON.
func (c Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse LOG_LEVEL: %w", err)
	}
	logger := logrus.New()
	logger.SetLevel(level)
	if c.LogJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
