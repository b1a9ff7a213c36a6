package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"jobinsight/discovery-service/internal/cache"
	"jobinsight/discovery-service/internal/catalog"
	"jobinsight/discovery-service/internal/config"
	"jobinsight/discovery-service/internal/db"
	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/linknorm"
	"jobinsight/discovery-service/internal/logging"
	"jobinsight/discovery-service/internal/notify"
	"jobinsight/discovery-service/internal/queue"
	"jobinsight/discovery-service/internal/scheduler"
	"jobinsight/discovery-service/internal/scraper"
	"jobinsight/discovery-service/internal/store"
	"jobinsight/discovery-service/internal/store/memstore"
	"jobinsight/discovery-service/internal/store/pgstore"
)

const notifyTimeout = 10 * time.Second

// app is the wired service. Every command builds one and closes it on exit.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	pool  *pgxpool.Pool // nil with the memory driver
	rdb   *redis.Client // nil when REDIS_URL is unset
	store store.Store

	norm     *linknorm.Normalizer
	registry *catalog.Registry
	linker   *catalog.Linker
	cache    *cache.Cache
	notifier *notify.Async
	queue    *queue.Queue
	sched    *scheduler.Scheduler
}

// newApp loads configuration and connects the stores. Connections are
// verified before it returns.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, errors.Wrap(err, "config")
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		logger.Info("connecting to PostgreSQL")
		a.pool, err = db.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "postgres")
		}
		a.store = pgstore.New(a.pool, logger)
	default:
		logger.Warn("using the in-memory store; nothing survives a restart")
		a.store = memstore.New()
	}

	if cfg.RedisURL != "" {
		logger.Info("connecting to Redis")
		a.rdb, err = db.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, errors.Wrap(err, "redis")
		}
	}

	if err := a.wire(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg, logger := a.cfg, a.logger

	defs, err := cfg.Sources()
	if err != nil {
		return errors.Wrap(err, "sources")
	}
	sources, norm, err := scraper.Build(defs, scraper.AdzunaCredentials{
		AppID:   cfg.AdzunaAppID,
		AppKey:  cfg.AdzunaAppKey,
		Country: cfg.AdzunaCountry,
	}, logger)
	if err != nil {
		return errors.Wrap(err, "sources")
	}
	a.norm = norm
	orch := scraper.NewOrchestrator(sources, scraper.OrchestratorConfig{
		Timeout:      cfg.ProviderTimeout,
		ExcludeTerms: cfg.ExcludeTerms,
	}, logger)

	a.registry = catalog.NewRegistry(a.store, logger)
	a.linker = catalog.NewLinker(a.store, logger)
	a.cache = cache.New(cache.Deps{
		Registry:   a.registry,
		Relations:  a.store,
		Writer:     catalog.NewJobWriter(a.store, logger),
		Linker:     a.linker,
		Fetcher:    orch,
		Normalizer: norm,
	}, cache.Config{Window: cfg.FreshnessWindow}, logger)

	var dispatcher notify.Dispatcher = notify.NewLogDispatcher(logger)
	if a.rdb != nil {
		dispatcher = notify.NewRedisDispatcher(a.rdb)
	}
	a.notifier = notify.NewAsync(dispatcher, notifyTimeout, logger)

	a.queue = queue.New(a.store, a.registry, a.cache, a.notifier, queue.Config{
		ResultLimit: cfg.QueueResultLimit,
		Workers:     cfg.QueueWorkers,
		Lease:       cfg.ClaimLease,
	}, logger)

	var locker scheduler.Locker = scheduler.NewLocalLocker()
	if a.rdb != nil {
		locker = scheduler.NewRedisLocker(a.rdb)
	}
	a.sched = scheduler.New(a.queue, locker, scheduler.Config{
		Location: cfg.Location,
		Sweeps: []scheduler.Sweep{
			{Name: "daily", Spec: cfg.DailyCron, Batch: cfg.DailyBatch},
			{Name: "catchup", Spec: cfg.CatchupCron, Batch: cfg.CatchupBatch},
		},
		LockTTL: cfg.ClaimLease,
	}, logger)

	logger.Info("service wired",
		zap.String("store", cfg.StoreDriver),
		zap.Int("sources", len(sources)),
		zap.Bool("redis", a.rdb != nil),
		zap.Duration("freshness_window", cfg.FreshnessWindow))
	return nil
}

// close waits for pending notifications, then releases connections.
func (a *app) close() {
	if a.notifier != nil {
		a.notifier.Wait()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	_ = a.logger.Sync()
}

// migrate applies the schema when running on PostgreSQL.
func (a *app) migrate(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := db.Migrate(ctx, a.pool); err != nil {
		return errors.Wrap(err, "migrate")
	}
	a.logger.Info("schema applied")
	return nil
}
