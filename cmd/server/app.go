package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"github.com/wordcheck/points-engine/cache"
	"github.com/wordcheck/points-engine/carousel"
	"github.com/wordcheck/points-engine/config"
	"github.com/wordcheck/points-engine/logging"
	"github.com/wordcheck/points-engine/metrics"
	"github.com/wordcheck/points-engine/points"
	"github.com/wordcheck/points-engine/signin"
	"github.com/wordcheck/points-engine/store/postgres"
	"github.com/wordcheck/points-engine/store/sqlite"
	"github.com/wordcheck/points-engine/tasks"
	"github.com/wordcheck/points-engine/usage"
)

// storage is everything one database backend provides.
type storage interface {
	points.Store
	usage.HistoryStore
	carousel.Store
	Ping(ctx context.Context) error
	Close() error
}

// app holds the wired services. close releases them in reverse order.
type app struct {
	cfg     *config.Config
	viper   *viper.Viper
	log     *slog.Logger
	metrics *metrics.Collector

	store      storage
	ledger     *points.Ledger
	tracker    *signin.Tracker
	usage      *usage.Service
	dispatcher *tasks.Dispatcher
	carousels  *carousel.Service

	closers []func()
}

func loadConfig() (*config.Config, *viper.Viper, error) {
	if configPath != "" {
		env := os.Getenv("APP_ENV")
		if env == "" {
			env = "development"
		}
		return config.LoadFile(configPath, env)
	}
	return config.Load()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, v, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log, flush, err := logging.New(logging.Options{
		Level:       cfg.Logger.Level,
		Format:      cfg.Logger.Format,
		File:        cfg.Logger.File,
		MaxSizeMB:   cfg.Logger.MaxSizeMB,
		MaxBackups:  cfg.Logger.MaxBackups,
		MaxAgeDays:  cfg.Logger.MaxAgeDays,
		SentryDSN:   cfg.Sentry.DSN,
		Environment: cfg.AppEnv,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{cfg: cfg, viper: v, log: log, closers: []func(){flush}}

	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg
	a.metrics = metrics.New(prometheus.NewRegistry())

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	a.store = store
	a.onClose(func() { _ = store.Close() })

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("points timezone: %w", err)
	}
	opts := []points.Option{
		points.WithLogger(a.log.With(slog.String("component", "ledger"))),
		points.WithRetry(cfg.Points.MaxRetries, cfg.Points.RetryBackoff),
		points.WithMetrics(a.metrics),
	}
	if loc != nil {
		opts = append(opts, points.WithLocation(loc))
	}
	a.ledger = points.NewLedger(store, opts...)
	a.tracker = signin.NewTracker(a.ledger, store,
		signin.WithLogger(a.log.With(slog.String("component", "signin"))),
		signin.WithMetrics(a.metrics))

	models, err := cfg.Models()
	if err != nil {
		return fmt.Errorf("ai models: %w", err)
	}
	a.usage = usage.NewService(a.ledger, providers(cfg.AI.Providers), store,
		a.log.With(slog.String("component", "usage")), models)

	a.dispatcher = tasks.NewDispatcher(a.log.With(slog.String("component", "tasks")), tasks.Config{
		Workers:   cfg.Tasks.Workers,
		QueueSize: cfg.Tasks.QueueSize,
		Metrics:   a.metrics,
	})
	a.onClose(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.dispatcher.Close(ctx)
	})
	a.carousels = carousel.NewService(store, a.newCache(), a.dispatcher,
		a.log.With(slog.String("component", "carousel")))
	return nil
}

func openStore(ctx context.Context, db config.DatabaseConfig) (storage, error) {
	switch db.Driver {
	case "postgres":
		s, err := postgres.New(ctx, db.DSN)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		s, err := sqlite.New(db.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// providers routes each configured provider name to an HTTP completer.
func providers(list []config.ProviderConfig) usage.ProviderRouter {
	router := make(usage.ProviderRouter, len(list))
	for _, p := range list {
		router[p.Name] = &usage.HTTPCompleter{
			Provider:  p.Name,
			Endpoint:  p.Endpoint,
			APIKey:    p.APIKey,
			ReplyPath: p.ReplyPath,
			Client:    &http.Client{},
		}
	}
	return router
}

// newCache uses Redis when configured, otherwise an in-process TTL cache.
func (a *app) newCache() cache.Cache {
	rc := a.cfg.Redis
	if rc.Addr == "" {
		mem := cache.NewMemory(a.metrics)
		a.onClose(mem.Close)
		return mem
	}
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	a.onClose(func() { _ = client.Close() })
	a.log.Info("redis cache enabled", slog.String("addr", rc.Addr))
	return cache.NewRedis(client, rc.Prefix, a.metrics)
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
