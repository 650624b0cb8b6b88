package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/wordcheck/points-engine/factory"
	"github.com/wordcheck/points-engine/usage"
)

// EnvPrefix is prepended to environment overrides: POINTS_DATABASE_DSN
// overrides database.dsn.
const EnvPrefix = "POINTS"

// Load reads ./configs/<APP_ENV>.yaml (APP_ENV defaults to development),
// applies environment overrides and validates the result.
func Load() (*Config, *viper.Viper, error) {
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	return LoadFile(fmt.Sprintf("./configs/%s.yaml", env), env)
}

// LoadFile is Load for an explicit path.
func LoadFile(path, env string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	cfg.AppEnv = env
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// setDefaults also makes every env-overridable key known to viper;
// AutomaticEnv only applies to keys it has seen.
func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "90s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "15s")
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/points.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "points:")
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("admin.token", "")
	v.SetDefault("logger.file", "")
	v.SetDefault("points.timezone", "")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 28)
	v.SetDefault("points.max_retries", 3)
	v.SetDefault("points.retry_backoff", "20ms")
	v.SetDefault("rate_limit.requests_per_second", 10)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("tasks.workers", 2)
	v.SetDefault("tasks.queue_size", 256)
}

// Models converts the configured model table. An empty table falls back to
// factory.DefaultModelsJSON.
func (c *Config) Models() ([]usage.Model, error) {
	f := factory.NewModelFactory()
	if len(c.AI.Models) == 0 {
		return f.ParseModels(factory.DefaultModelsJSON())
	}
	return f.FromJSONList(c.AI.Models)
}

// Watch re-reads the file on change and hands each valid config to onChange.
// Invalid edits are logged and ignored, keeping the last good config live.
func Watch(v *viper.Viper, log *slog.Logger, onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			log.Warn("config reload rejected", slog.String("file", e.Name), slog.Any("error", err))
			return
		}
		log.Info("config reloaded", slog.String("file", e.Name), slog.String("op", e.Op.String()))
		onChange(cfg)
	})
	v.WatchConfig()
}
