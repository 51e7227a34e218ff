// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the collaboration server configuration.
type Config struct {
	Port           int      `env:"PORT" envDefault:"8080"`
	WSPath         string   `env:"WS_PATH" envDefault:"/ws/collab"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	MaxRecentChanges   int           `env:"MAX_RECENT_CHANGES" envDefault:"100"`
	MaxChangeAge       time.Duration `env:"MAX_CHANGE_AGE" envDefault:"10m"`
	SessionGracePeriod time.Duration `env:"SESSION_GRACE_PERIOD" envDefault:"30s"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" envDefault:"5s"`
	MaxMessageBytes    int64         `env:"MAX_MESSAGE_BYTES" envDefault:"65536"`
	ClientSendBuffer   int           `env:"CLIENT_SEND_BUFFER" envDefault:"256"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DBDSN    string `env:"DB_DSN" envDefault:"data/collab.db"`

	RedisAddr          string `env:"REDIS_ADDR"`
	RedisPassword      string `env:"REDIS_PASSWORD"`
	RedisDB            int    `env:"REDIS_DB" envDefault:"0"`
	RedisChannelPrefix string `env:"REDIS_CHANNEL_PREFIX" envDefault:"collab:agent:"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the server configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	case c.WSPath == "" || c.WSPath[0] != '/':
		return fmt.Errorf("WS_PATH must start with '/', got %q", c.WSPath)
	case c.MaxRecentChanges <= 0:
		return fmt.Errorf("MAX_RECENT_CHANGES must be positive, got %d", c.MaxRecentChanges)
	case c.MaxChangeAge < 0:
		return fmt.Errorf("MAX_CHANGE_AGE must not be negative, got %s", c.MaxChangeAge)
	case c.SweepInterval <= 0:
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	case c.MaxMessageBytes <= 0:
		return fmt.Errorf("MAX_MESSAGE_BYTES must be positive, got %d", c.MaxMessageBytes)
	case c.ClientSendBuffer <= 0:
		return fmt.Errorf("CLIENT_SEND_BUFFER must be positive, got %d", c.ClientSendBuffer)
	}

	switch c.DBDriver {
	case "sqlite3", "pgx", "none":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite3, pgx or none, got %q", c.DBDriver)
	}
	return nil
}

// JournalEnabled reports whether the activity journal is configured.
func (c Config) JournalEnabled() bool {
	return c.DBDriver != "none" && c.DBDSN != ""
}

// RelayEnabled reports whether cross-process relay over Redis is configured.
func (c Config) RelayEnabled() bool {
	return c.RedisAddr != ""
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
