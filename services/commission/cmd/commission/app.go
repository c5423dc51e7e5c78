package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/vivian5285/panda-quant/libs/kafka"
	"github.com/vivian5285/panda-quant/libs/logging"
	"github.com/vivian5285/panda-quant/libs/metrics"
	"github.com/vivian5285/panda-quant/libs/trace"
	"github.com/vivian5285/panda-quant/services/commission/internal/config"
	"github.com/vivian5285/panda-quant/services/commission/internal/ledger"
	"github.com/vivian5285/panda-quant/services/commission/internal/ratelimit"
	"github.com/vivian5285/panda-quant/services/commission/internal/referral"
	"github.com/vivian5285/panda-quant/services/commission/internal/rules"
	"github.com/vivian5285/panda-quant/services/commission/internal/service"
	"github.com/vivian5285/panda-quant/services/commission/internal/settlement"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
	"github.com/vivian5285/panda-quant/services/commission/internal/withdrawal"
)

// app holds the dependencies shared by every subcommand.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	metrics   *service.Metrics
	pool      *pgxpool.Pool
	store     *storage.Store
	redis     *redis.Client
	producer  *kafka.SyncProducer
	publisher kafka.Publisher
	engine    *rules.Engine
	processor *settlement.Processor
	scheduler *settlement.Scheduler
	gate      *withdrawal.Gate
	ledger    *ledger.Ledger
	limiter   ratelimit.Limiter
	closers   []func()
}

type appOptions struct {
	withKafka bool
}

func newApp(ctx context.Context, cfgPath string, opts appOptions) (*app, error) {
	cfg, err := config.LoadFrom(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	a := &app{cfg: cfg, logger: logging.NewLogger(cfg.App)}
	slog.SetDefault(a.logger)

	shutdownTracer, err := trace.InitTracer(ctx, cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		a.logger.Error("tracer init failed", "error", err)
	} else {
		a.closers = append(a.closers, func() { _ = shutdownTracer(context.Background()) })
	}

	a.registry = metrics.NewRegistry()
	a.metrics = service.NewMetrics(a.registry)

	a.pool, err = connectDB(ctx, cfg.DB)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("db connection: %w", err)
	}
	a.closers = append(a.closers, a.pool.Close)
	a.store = storage.New(a.pool, a.logger)

	var lock settlement.RunLock
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closers = append(a.closers, func() { _ = a.redis.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := a.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		lock = settlement.NewRedisLock(a.redis, "", cfg.Settlement.LockTTL)
		if cfg.RateLimit.WithdrawalLimit > 0 {
			a.limiter = ratelimit.NewRedisLimiter(a.redis, cfg.RateLimit.WithdrawalLimit, cfg.RateLimit.WithdrawalWindow, "")
		}
	} else {
		a.logger.Warn("redis not configured, settlement runs are only serialized within this process")
		if cfg.RateLimit.WithdrawalLimit > 0 {
			a.limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.WithdrawalLimit, cfg.RateLimit.WithdrawalWindow)
		}
	}

	if opts.withKafka && cfg.Kafka.Enabled {
		a.producer, err = kafka.NewSyncProducer(cfg.Kafka.Brokers, cfg.App.ServiceName, a.logger, kafka.NewProducerMetrics(a.registry))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		a.closers = append(a.closers, func() { _ = a.producer.Close() })
		a.publisher = a.producer
		if strings.TrimSpace(cfg.Kafka.Topics.DeadLetter) != "" {
			a.publisher = kafka.NewDLQPublisher(a.producer, a.producer, cfg.Kafka.Topics.DeadLetter, a.logger)
		}
	}

	a.engine = rules.NewEngine(a.store, nil, a.metrics, a.logger)
	a.processor = settlement.NewProcessor(a.store, referral.NewResolver(a.store), a.engine, a.publisher, a.metrics, a.logger, settlement.Config{
		PlatformRate:   cfg.Settlement.PlatformRate,
		BatchSize:      cfg.Settlement.BatchSize,
		Concurrency:    cfg.Settlement.Concurrency,
		GeneratedTopic: cfg.Kafka.Topics.SettlementsGenerated,
		CompletedTopic: cfg.Kafka.Topics.SettlementsCompleted,
	})
	a.scheduler = settlement.NewScheduler(a.processor, lock, cfg.Settlement.Interval, a.logger)
	a.gate = withdrawal.NewGate(a.store, a.publisher, cfg.Kafka.Topics.WithdrawalsUpdated, a.metrics, a.logger)
	a.ledger = ledger.New(a.store, a.metrics, a.logger)
	return a, nil
}

// loadRules primes the rule cache. Lookups fall back to the store while the
// cache is empty, so a failure here is not fatal.
func (a *app) loadRules(ctx context.Context) {
	loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.engine.Cache().Load(loadCtx, a.store); err != nil {
		a.logger.Warn("rule cache load failed", "error", err)
		return
	}
	a.metrics.SetRuleCacheSize(a.engine.Cache().Size())
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func connectDB(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
