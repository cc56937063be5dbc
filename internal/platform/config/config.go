package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8000"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// DatabaseURL overrides the individual PG* settings when set.
	DatabaseURLOverride string `env:"DATABASE_URL"`
	PGHost              string `env:"PGHOST" default:"localhost"`
	PGPort              string `env:"PGPORT" default:"5432"`
	PGUser              string `env:"PGUSER" default:"postgres"`
	PGPassword          string `env:"PGPASSWORD"`
	PGDatabase          string `env:"PGDATABASE" default:"db_trigger_ws"`
	PGSSLMode           string `env:"PGSSLMODE"`
	NotifyChannel       string `env:"NOTIFY_CHANNEL" default:"counter_changes"`
	RunMigrations       bool   `env:"RUN_MIGRATIONS" default:"true"`

	SinkBufferSize       int `env:"SINK_BUFFER_SIZE" default:"16"`
	MaxStreamConnections int `env:"MAX_STREAM_CONNECTIONS" default:"10000"`

	IncrementMaxAttempts int           `env:"INCREMENT_MAX_ATTEMPTS" default:"3"`
	IncrementRetryDelay  time.Duration `env:"INCREMENT_RETRY_DELAY" default:"50ms"`
	IncrementRateLimit   float64       `env:"INCREMENT_RATE_LIMIT" default:"20"`
	IncrementRateBurst   int           `env:"INCREMENT_RATE_BURST" default:"40"`

	ListenerInitialBackoff time.Duration `env:"LISTENER_INITIAL_BACKOFF" default:"250ms"`
	ListenerMaxBackoff     time.Duration `env:"LISTENER_MAX_BACKOFF" default:"30s"`

	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" default:"*"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DatabaseURL returns the connection string, preferring DATABASE_URL.
func (c *Config) DatabaseURL() string {
	if c.DatabaseURLOverride != "" {
		return c.DatabaseURLOverride
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.PGHost, c.PGPort),
		Path:   "/" + c.PGDatabase,
	}
	if c.PGPassword != "" {
		u.User = url.UserPassword(c.PGUser, c.PGPassword)
	} else {
		u.User = url.User(c.PGUser)
	}
	if c.PGSSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{c.PGSSLMode}}.Encode()
	}
	return u.String()
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func validate(cfg *Config) error {
	if cfg.NotifyChannel == "" {
		return errors.New("NOTIFY_CHANNEL is required")
	}
	if !isChannelName(cfg.NotifyChannel) {
		return fmt.Errorf("NOTIFY_CHANNEL must be a plain identifier (letters, digits, underscores), got %q", cfg.NotifyChannel)
	}
	if cfg.PGDatabase == "" && cfg.DatabaseURLOverride == "" {
		return errors.New("PGDATABASE or DATABASE_URL is required")
	}

	positive := []struct {
		name  string
		value int
	}{
		{"SINK_BUFFER_SIZE", cfg.SinkBufferSize},
		{"MAX_STREAM_CONNECTIONS", cfg.MaxStreamConnections},
		{"INCREMENT_MAX_ATTEMPTS", cfg.IncrementMaxAttempts},
		{"INCREMENT_RATE_BURST", cfg.IncrementRateBurst},
	}
	for _, p := range positive {
		if p.value < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", p.name, p.value)
		}
	}

	if cfg.IncrementRateLimit <= 0 {
		return fmt.Errorf("INCREMENT_RATE_LIMIT must be positive, got %v", cfg.IncrementRateLimit)
	}
	if cfg.IncrementRetryDelay < 0 {
		return fmt.Errorf("INCREMENT_RETRY_DELAY must not be negative, got %s", cfg.IncrementRetryDelay)
	}
	if cfg.ListenerInitialBackoff <= 0 {
		return fmt.Errorf("LISTENER_INITIAL_BACKOFF must be positive, got %s", cfg.ListenerInitialBackoff)
	}
	if cfg.ListenerMaxBackoff < cfg.ListenerInitialBackoff {
		return errors.New("LISTENER_MAX_BACKOFF must not be less than LISTENER_INITIAL_BACKOFF")
	}

	if cfg.IsProduction() {
		mode, err := sslMode(cfg.DatabaseURL())
		if err != nil {
			return err
		}
		if mode == "disable" || mode == "allow" {
			return fmt.Errorf("database uses sslmode=%s which is not allowed in production", mode)
		}
	}

	return nil
}

func sslMode(databaseURL string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}
	return strings.ToLower(u.Query().Get("sslmode")), nil
}

// isChannelName accepts unquoted Postgres identifiers so the channel can be
// embedded in the trigger definition as-is.
func isChannelName(name string) bool {
	if len(name) > 63 {
		return false
	}
	for i, c := range name {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
