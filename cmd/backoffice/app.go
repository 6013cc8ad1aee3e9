package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/elitemodel/backoffice/internal/cache"
	"github.com/elitemodel/backoffice/internal/config"
	"github.com/elitemodel/backoffice/internal/database"
	"github.com/elitemodel/backoffice/internal/email/inbound/connector"
	"github.com/elitemodel/backoffice/internal/reconciliation"
	"github.com/elitemodel/backoffice/internal/repository"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg      *config.Config
	db       *sqlx.DB
	apps     *repository.ApplicationRepository
	settings *repository.SettingsRepository
	redis    *cache.RedisCache
	status   cache.JSONStore
	engine   *reconciliation.Engine
	logger   *log.Logger
}

// loadConfig accepts either a directory holding config.yaml (watched for
// changes) or a path to a single YAML file (read once).
func loadConfig() (*config.Config, error) {
	load := config.Load
	if ext := strings.ToLower(filepath.Ext(configPathFlag)); ext == ".yaml" || ext == ".yml" {
		load = config.LoadFromFile
	}
	if err := load(configPathFlag); err != nil {
		return nil, err
	}
	cfg := config.Get()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return db, nil
}

// newApp loads configuration and wires the database, the optional Redis
// cache and the reconciliation engine.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := log.New(os.Stderr, "", log.LstdFlags)

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		db:       db,
		apps:     repository.NewApplicationRepository(db),
		settings: repository.NewSettingsRepository(db),
		status:   cache.NewLocalStore(),
		logger:   logger,
	}

	var opts []reconciliation.Option
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(ctx, cfg.Redis)
		if err != nil {
			// Single-node installs keep working on the in-process guard.
			logger.Printf("backoffice: redis unavailable, using local status store: %v", err)
		} else {
			a.redis = rc
			a.status = rc
			opts = append(opts, reconciliation.WithLease(rc.NewLease("payment-reconcile", cfg.Payments.LeaseTTL)))
		}
	}

	opener := connector.NewIMAPOpener(
		connector.WithIMAPLogger(logger),
		connector.WithIMAPDialTimeout(cfg.Mailbox.DialTimeout),
		connector.WithIMAPCommandTimeout(cfg.Mailbox.CommandTimeout),
	)
	opts = append(opts,
		reconciliation.WithLogger(logger),
		reconciliation.WithMetrics(reconciliation.DefaultMetrics()),
		reconciliation.WithLocation(cfg.App.Location()),
	)
	a.engine = reconciliation.NewEngine(opener, a.apps, a.settings, reconciliation.ConfigSettings{}, opts...)
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Printf("backoffice: closing redis: %v", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Printf("backoffice: closing database: %v", err)
		}
	}
}

func commandContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
