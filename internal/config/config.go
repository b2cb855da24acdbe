// Package config loads runtime configuration through viper: defaults first,
// then an optional env file, then environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures application runtime configuration.
type Config struct {
	AppName            string
	AppEnv             string
	Port               string
	LogLevel           string
	DatabaseURL        string
	RedisURL           string
	MigrationsPath     string
	ShutdownPeriod     time.Duration
	IdempotencyTTL     time.Duration
	LockTTL            time.Duration
	InterestAnnualRate string
}

// Load reads configuration from defaults, an optional ".env" file in the
// working directory and the process environment, in increasing priority.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	// The env file is optional; environment variables alone are enough.
	_ = v.ReadInConfig()
	v.AutomaticEnv()

	cfg := Config{
		AppName:            v.GetString("APP_NAME"),
		AppEnv:             strings.ToLower(v.GetString("APP_ENV")),
		Port:               v.GetString("PORT"),
		LogLevel:           strings.ToLower(v.GetString("LOG_LEVEL")),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		RedisURL:           v.GetString("REDIS_URL"),
		MigrationsPath:     v.GetString("MIGRATIONS_PATH"),
		ShutdownPeriod:     v.GetDuration("SHUTDOWN_TIMEOUT"),
		IdempotencyTTL:     v.GetDuration("IDEMPOTENCY_TTL"),
		LockTTL:            v.GetDuration("LOCK_TTL"),
		InterestAnnualRate: v.GetString("INTEREST_ANNUAL_RATE"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.IdempotencyTTL <= 0 {
		return Config{}, fmt.Errorf("IDEMPOTENCY_TTL must be positive")
	}
	if cfg.LockTTL <= 0 {
		return Config{}, fmt.Errorf("LOCK_TTL must be positive")
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "LumenPay")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MIGRATIONS_PATH", "migrations")
	v.SetDefault("SHUTDOWN_TIMEOUT", 10*time.Second)

	// Replays are served from cache for a day; the durable store remains the
	// authority afterwards.
	v.SetDefault("IDEMPOTENCY_TTL", 24*time.Hour)
	v.SetDefault("LOCK_TTL", 10*time.Second)

	v.SetDefault("INTEREST_ANNUAL_RATE", "0.0250")
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
