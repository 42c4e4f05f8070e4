package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/audit"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/config"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/establishment"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/lock"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/mapapi"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/metrics"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/notify"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/storage"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/sync"
)

// app holds the components shared by the commands.
type app struct {
	audit         *audit.Trail
	cfg           *config.LocalConfig
	closers       []io.Closer
	db            *storage.SQLite
	logger        *slog.Logger
	mapClient     *mapapi.Client
	metrics       *metrics.Recorder
	notifications *notify.Center
	registry      *establishment.Registry
	tracker       *sync.Service
}

// loadConfig reads the config file named by the flags, or the default one.
func loadConfig(opts *rootOptions) (*config.LocalConfig, error) {
	if opts.configPath != "" {
		return config.LoadLocalFrom(opts.configPath)
	}
	return config.LoadLocal()
}

// newLogger builds the text logger on stderr, honouring the --log-level override.
func newLogger(cfg *config.LocalConfig, opts *rootOptions, w io.Writer) (*slog.Logger, error) {
	levelName := cfg.LogLevel
	if opts.logLevel != "" {
		levelName = opts.logLevel
	}
	level, err := config.ParseLogLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// loadAPIKey returns the key from the environment, falling back to the key file.
func loadAPIKey(ctx context.Context) (string, error) {
	if key := strings.TrimSpace(os.Getenv(envAPIKey)); key != "" {
		return key, nil
	}

	path, err := config.APIKeyFilePath()
	if err != nil {
		return "", fmt.Errorf("getting API key path: %w", err)
	}
	file, err := storage.NewAPIKeyFile(path)
	if err != nil {
		return "", err
	}
	return file.APIKey(ctx)
}

// newMapClient builds the map client from the local config.
func newMapClient(cfg config.MapAPI, apiKey string) (*mapapi.Client, error) {
	opts := []mapapi.Option{
		mapapi.WithBaseURL(cfg.BaseURL),
		mapapi.WithHealthTimeout(cfg.HealthTimeout),
		mapapi.WithRateLimit(cfg.RateLimit),
		mapapi.WithTimeout(cfg.Timeout),
	}
	if cfg.Source != "" {
		opts = append(opts, mapapi.WithSource(cfg.Source))
	}
	if apiKey != "" {
		opts = append(opts, mapapi.WithAPIKey(apiKey))
	}
	return mapapi.NewClient(opts...)
}

// openApp loads the configuration and wires the SQLite-backed components.
func openApp(ctx context.Context, opts *rootOptions, logOutput io.Writer) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := newLogger(cfg, opts, logOutput)
	if err != nil {
		return nil, err
	}

	db, err := storage.OpenSQLite(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, closers: []io.Closer{db}, db: db, logger: logger}

	if err := a.wire(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, opts *rootOptions) error {
	apiKey, err := loadAPIKey(ctx)
	if err != nil {
		return fmt.Errorf("loading API key: %w", err)
	}

	a.mapClient, err = newMapClient(a.cfg.MapAPI, apiKey)
	if err != nil {
		return fmt.Errorf("creating map client: %w", err)
	}

	var locker lock.Locker = lock.NewLocal()
	if a.cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: a.cfg.Redis.Addr, Password: a.cfg.Redis.Password})
		a.closers = append(a.closers, client)
		locker, err = lock.NewRedis(lock.RedisConfig{Client: client, Logger: a.logger, TTL: a.cfg.Sync.StaleAfter})
		if err != nil {
			return fmt.Errorf("creating redis lock: %w", err)
		}
	}

	dryRun := a.cfg.Sync.DryRun || opts.dryRun
	a.tracker, err = sync.New(sync.Config{
		DryRun:         dryRun,
		Establishments: a.db,
		Lock:           locker,
		Logger:         a.logger,
		MapClient:      a.mapClient,
		Source:         a.mapClient.Source(),
		StaleRunAfter:  a.cfg.Sync.StaleAfter,
		StatusStore:    a.db,
	})
	if err != nil {
		return fmt.Errorf("creating sync tracker: %w", err)
	}

	a.audit, err = audit.New(audit.Config{Logger: a.logger, Store: a.db})
	if err != nil {
		return fmt.Errorf("creating audit trail: %w", err)
	}

	a.notifications, err = notify.NewCenter(a.db, notify.WithLogger(a.logger))
	if err != nil {
		return fmt.Errorf("creating notification center: %w", err)
	}

	a.metrics = metrics.New()

	a.tracker.Subscribe(a.audit.Listener())
	a.tracker.Subscribe(a.notifications.Listener())
	a.tracker.Subscribe(a.metrics.Listener())

	a.registry, err = establishment.NewRegistry(a.db,
		establishment.WithLogger(a.logger),
		establishment.WithNotifier(a.audit),
		establishment.WithNotifier(a.notifications),
	)
	if err != nil {
		return fmt.Errorf("creating registry: %w", err)
	}

	a.logger.Debug("components initialized",
		"database", a.cfg.DatabasePath,
		"map_api", a.mapClient.BaseURL(),
		"api_key_configured", a.mapClient.APIKeyConfigured(),
		"dry_run", dryRun,
		"redis_lock", a.cfg.Redis.Addr != "",
	)
	return nil
}

// Close releases the database and Redis connections.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
