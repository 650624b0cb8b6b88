// Package config loads service configuration from YAML, .env files and
// environment variables.
package config

import (
	"time"

	"github.com/wordcheck/points-engine/factory"
)

// Config is the full service configuration.
type Config struct {
	AppEnv string `mapstructure:"app_env"`

	HTTP      HTTPConfig      `mapstructure:"http" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Points    PointsConfig    `mapstructure:"points"`
	AI        AIConfig        `mapstructure:"ai"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig selects the ledger store. DSN is a file path for sqlite
// and a connection string for postgres.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

// RedisConfig enables the Redis cache when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Prefix   string `mapstructure:"prefix"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"omitempty,oneof=json text"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

type SentryConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PointsConfig tunes the ledger.
type PointsConfig struct {
	Timezone     string        `mapstructure:"timezone"`
	MaxRetries   int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// AIConfig lists providers and the priced model table.
type AIConfig struct {
	Providers []ProviderConfig    `mapstructure:"providers" validate:"dive"`
	Models    []factory.ModelJSON `mapstructure:"models"`
}

type ProviderConfig struct {
	Name      string `mapstructure:"name" validate:"required"`
	Endpoint  string `mapstructure:"endpoint" validate:"required,url"`
	APIKey    string `mapstructure:"api_key"`
	ReplyPath string `mapstructure:"reply_path"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=0"`
}

type AdminConfig struct {
	Token string `mapstructure:"token"`
}

type TasksConfig struct {
	Workers   int `mapstructure:"workers" validate:"gte=0"`
	QueueSize int `mapstructure:"queue_size" validate:"gte=0"`
}

// Location resolves Points.Timezone. Empty means the ledger default.
func (c *Config) Location() (*time.Location, error) {
	if c.Points.Timezone == "" {
		return nil, nil
	}
	return time.LoadLocation(c.Points.Timezone)
}
