package cli

import (
	"context"
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/iliyamo/cruisesync/internal/clock"
	"github.com/iliyamo/cruisesync/internal/config"
	"github.com/iliyamo/cruisesync/internal/database"
	"github.com/iliyamo/cruisesync/internal/diagnostics"
	"github.com/iliyamo/cruisesync/internal/feed"
	"github.com/iliyamo/cruisesync/internal/handler"
	"github.com/iliyamo/cruisesync/internal/ingest"
	"github.com/iliyamo/cruisesync/internal/lock"
	"github.com/iliyamo/cruisesync/internal/logger"
	"github.com/iliyamo/cruisesync/internal/metrics"
	"github.com/iliyamo/cruisesync/internal/pricing"
	"github.com/iliyamo/cruisesync/internal/queue"
	"github.com/iliyamo/cruisesync/internal/repository"
	"github.com/iliyamo/cruisesync/internal/router"
)

// InfraModule opens the shared connections.  Constructors are lazy, so a
// command only dials what it populates.
var InfraModule = fx.Module("infra",
	fx.Provide(
		NewLogger,
		NewDB,
		NewRedis,
		NewMetrics,
		func() clock.Clock { return clock.NewRealClock() },
	),
)

// SyncModule builds the ingestion pipeline on top of InfraModule.
var SyncModule = fx.Module("sync",
	fx.Provide(
		NewFetcher,
		NewLockManager,
		func(db *sql.DB, log logger.Logger) *repository.Store { return repository.NewStore(db, log) },
		repository.NewCruiseRepo,
		repository.NewRunRepo,
		NewAggregator,
		NewDispatcher,
		NewCoordinator,
	),
)

// HTTPModule adds diagnostics and the echo server.
var HTTPModule = fx.Module("http",
	fx.Provide(
		NewReporter,
		NewHandlers,
		NewServer,
	),
)

// NewLogger builds the process logger and flushes it on stop.
func NewLogger(lc fx.Lifecycle, cfg config.Config) (*logger.ZapLogger, logger.Logger, error) {
	l, err := logger.New(cfg.Log.Level, cfg.App.Env)
	if err != nil {
		return nil, nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = l.Sync()
			return nil
		},
	})
	return l, l, nil
}

func NewDB(lc fx.Lifecycle, cfg config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return db.Close() },
	})
	return db, nil
}

func NewRedis(lc fx.Lifecycle, cfg config.Config) (*redis.Client, error) {
	rdb, err := config.NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return rdb.Close() },
	})
	return rdb, nil
}

// NewMetrics registers the service metrics plus the Go runtime collectors
// on a private registry.
func NewMetrics() (*metrics.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.New(reg), reg
}

func NewFetcher(lc fx.Lifecycle, cfg config.Config, clk clock.Clock, log logger.Logger, m *metrics.Metrics) *feed.Fetcher {
	pool := feed.NewPool(feed.FTPDialer(feed.DialConfig{
		Host:     cfg.FTP.Host,
		Port:     cfg.FTP.Port,
		User:     cfg.FTP.User,
		Password: cfg.FTP.Password,
		Timeout:  cfg.FTP.DialTimeout,
	}), cfg.FTP.PoolSize)
	f := feed.NewFetcher(pool, feed.Config{
		Root:           cfg.FTP.Root,
		MaxAttempts:    cfg.FTP.MaxAttempts,
		InitialBackoff: cfg.FTP.InitialBackoff,
		MaxBackoff:     cfg.FTP.MaxBackoff,
		RPS:            cfg.FTP.RPS,
		Burst:          cfg.FTP.Burst,
		MonthsAhead:    cfg.FTP.MonthsAhead,
	}, clk, log, m)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			f.Close()
			return nil
		},
	})
	return f
}

func NewLockManager(rdb *redis.Client, cfg config.Config, clk clock.Clock) *lock.Manager {
	return lock.NewManager(rdb, lock.Options{Prefix: cfg.Lock.Prefix, StaleAfter: cfg.Lock.StaleAfter}, clk)
}

func NewAggregator(db *sql.DB, clk clock.Clock) *pricing.Aggregator {
	return pricing.NewAggregator(repository.NewPricingRepo(db), clk)
}

// NewDispatcher returns the queue publisher when runs are dispatched over
// RabbitMQ, and nil for in-process execution.
func NewDispatcher(cfg config.Config, log logger.Logger) ingest.Dispatcher {
	if cfg.Sync.Dispatch != "queue" {
		return nil
	}
	return queue.NewPublisher(cfg.Queue, log)
}

// NewCoordinator wires the run coordinator.  Stopping the app cancels
// in-flight runs and waits for their outcomes.
func NewCoordinator(
	lc fx.Lifecycle,
	cfg config.Config,
	locks *lock.Manager,
	fetcher *feed.Fetcher,
	store *repository.Store,
	agg *pricing.Aggregator,
	runs *repository.RunRepo,
	dispatcher ingest.Dispatcher,
	clk clock.Clock,
	log logger.Logger,
	m *metrics.Metrics,
) *ingest.Coordinator {
	c := ingest.NewCoordinator(ingest.Deps{
		Locker:     locks,
		Feed:       fetcher,
		Store:      store,
		Aggregator: agg,
		Outcomes:   runs,
		Dispatcher: dispatcher,
		Clock:      clk,
		Logger:     log,
		Metrics:    m,
	}, ingest.Options{
		Workers:         cfg.Sync.Workers,
		LockTTL:         cfg.Lock.TTL,
		DefaultCurrency: cfg.Sync.DefaultCurrency,
		MaxErrorDetails: cfg.Sync.MaxErrorDetails,
		KeepHistory:     50,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return c.Shutdown(ctx) },
	})
	return c
}

func NewReporter(
	cfg config.Config,
	fetcher *feed.Fetcher,
	locks *lock.Manager,
	store *repository.Store,
	coord *ingest.Coordinator,
	runs *repository.RunRepo,
	cruises *repository.CruiseRepo,
	agg *pricing.Aggregator,
	clk clock.Clock,
	log logger.Logger,
) *diagnostics.Reporter {
	return diagnostics.NewReporter(diagnostics.Deps{
		Feed:      fetcher,
		Locks:     locks,
		Database:  store,
		Runs:      coord,
		Outcomes:  runs,
		Summaries: diagnostics.SummaryChecker{Sailings: cruises, Aggregator: agg},
		Clock:     clk,
		Logger:    log,
	}, diagnostics.Options{SpotCheckSize: cfg.Sync.SpotCheckSize})
}

func NewHandlers(
	cfg config.Config,
	coord *ingest.Coordinator,
	locks *lock.Manager,
	reporter *diagnostics.Reporter,
	cruises *repository.CruiseRepo,
	log logger.Logger,
) router.Handlers {
	return router.Handlers{
		Sync:    handler.NewSyncHandler(coord, cfg.Sync.WebhookSecret, log),
		Locks:   handler.NewLockHandler(locks, log),
		Status:  handler.NewStatusHandler(reporter),
		Sailing: handler.NewSailingHandler(cruises),
	}
}
