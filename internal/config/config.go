package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	QueueRedisChannel  string        `mapstructure:"QUEUE_REDIS_CHANNEL"`
	AuthIssuer         string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience       string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey     string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS       float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int           `mapstructure:"RATE_LIMIT_BURST"`
	ClinicTimezone     string        `mapstructure:"CLINIC_TIMEZONE"`
	TxMaxAttempts      int           `mapstructure:"TX_MAX_ATTEMPTS"`
	TxRetryBaseDelay   time.Duration `mapstructure:"TX_RETRY_BASE_DELAY"`
	QueueMaxSubs       int           `mapstructure:"QUEUE_MAX_SUBSCRIBERS"`
	QueueIdleTimeout   time.Duration `mapstructure:"QUEUE_IDLE_TIMEOUT"`
	QueueSweepInterval time.Duration `mapstructure:"QUEUE_SWEEP_INTERVAL"`
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "QUEUE_REDIS_CHANNEL", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "CLINIC_TIMEZONE",
	"TX_MAX_ATTEMPTS", "TX_RETRY_BASE_DELAY", "QUEUE_MAX_SUBSCRIBERS",
	"QUEUE_IDLE_TIMEOUT", "QUEUE_SWEEP_INTERVAL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("QUEUE_REDIS_CHANNEL", "clinic:queue")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("CLINIC_TIMEZONE", "UTC")
	v.SetDefault("TX_MAX_ATTEMPTS", 5)
	v.SetDefault("TX_RETRY_BASE_DELAY", "25ms")
	v.SetDefault("QUEUE_MAX_SUBSCRIBERS", 50)
	v.SetDefault("QUEUE_IDLE_TIMEOUT", "30m")
	v.SetDefault("QUEUE_SWEEP_INTERVAL", "1m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: every request without a token acts as dev-user with the admin role.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location resolves CLINIC_TIMEZONE. Serial numbers and queues reset at
// midnight in this zone.
func (c *Config) Location() (*time.Location, error) {
	if c.ClinicTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.TxMaxAttempts < 1 {
		return fmt.Errorf("TX_MAX_ATTEMPTS must be at least 1, got %d", c.TxMaxAttempts)
	}
	if c.QueueMaxSubs < 1 {
		return fmt.Errorf("QUEUE_MAX_SUBSCRIBERS must be at least 1, got %d", c.QueueMaxSubs)
	}
	if c.QueueIdleTimeout <= 0 {
		return fmt.Errorf("QUEUE_IDLE_TIMEOUT must be positive")
	}
	if c.QueueSweepInterval <= 0 {
		return fmt.Errorf("QUEUE_SWEEP_INTERVAL must be positive")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
