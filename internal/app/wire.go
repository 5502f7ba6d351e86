package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/multitrader/internal/blob/s3"
	"github.com/alanyoungcy/multitrader/internal/cache/redis"
	"github.com/alanyoungcy/multitrader/internal/config"
	"github.com/alanyoungcy/multitrader/internal/domain"
	"github.com/alanyoungcy/multitrader/internal/exchange"
	"github.com/alanyoungcy/multitrader/internal/exchange/paper"
	"github.com/alanyoungcy/multitrader/internal/executor"
	"github.com/alanyoungcy/multitrader/internal/history"
	"github.com/alanyoungcy/multitrader/internal/ledger"
	"github.com/alanyoungcy/multitrader/internal/lockorder"
	"github.com/alanyoungcy/multitrader/internal/metrics"
	"github.com/alanyoungcy/multitrader/internal/position"
	"github.com/alanyoungcy/multitrader/internal/store/memory"
	"github.com/alanyoungcy/multitrader/internal/store/postgres"
	"github.com/alanyoungcy/multitrader/internal/trader"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Core
	Validator *lockorder.Validator
	Ledger    *ledger.Ledger
	Positions *position.Manager
	Metrics   *metrics.Registry
	History   *history.Buffer
	Executor  *executor.Executor

	// External collaborators
	Exchanges   *exchange.Registry
	AuditStore  domain.AuditStore
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus
	BlobWriter  domain.BlobWriter
	Archiver    *s3blob.Archiver

	// Traders, keyed by ID in config order.
	Traders map[string]*trader.Actor
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(mode string) bool {
	return mode == "trade"
}

// needsRedis returns true for modes that require shared caches.
func needsRedis(mode string) bool {
	return mode == "trade"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Core ---
	deps.Validator = lockorder.NewValidator(cfg.LockValidation)
	deps.Ledger = ledger.New(deps.Validator, ledger.Config{
		InitialCash:           cfg.Portfolio.InitialCash,
		MaxTotalPositions:     cfg.Portfolio.MaxTotalPositions,
		MaxPositionsPerSymbol: cfg.Portfolio.MaxPositionsPerSymbol,
		Epsilon:               cfg.Portfolio.Epsilon,
	})
	deps.Positions = position.NewManager(deps.Validator, deps.Ledger, position.Config{
		PercentagePerPosition: cfg.Portfolio.PercentagePerPosition,
		MinOrderQuantity:      cfg.Portfolio.MinOrderQuantity,
		StopLossPct:           cfg.Portfolio.StopLossPct,
		TakeProfitPct:         cfg.Portfolio.TakeProfitPct,
	}, logger)
	// Shutdown backstop: any reservation still outstanding after the
	// traders have drained returns its capital hold.
	closers = append(closers, func() {
		_ = deps.Positions.ReleaseAll(deps.Validator.NewCtx("shutdown"))
	})
	deps.Metrics = metrics.NewRegistry(deps.Validator)
	deps.History = history.NewBuffer(deps.Validator, 0)

	// --- PostgreSQL ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
	} else {
		deps.AuditStore = memory.NewAuditStore()
	}

	// --- Redis ---
	if needsRedis(cfg.Mode) {
		redisClient, err := redis.Dial(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	} else {
		deps.PriceCache = memory.NewPriceCache()
		deps.RateLimiter = memory.NewRateLimiter()
	}

	// --- S3 archiver ---
	if cfg.S3.Enabled {
		writer, err := s3blob.NewWriter(ctx, s3blob.Config{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = writer
		deps.Archiver = s3blob.NewArchiver(writer, deps.History, cfg.Archive.Interval.Duration, deps.Validator, logger)
	}

	// --- Executor ---
	deps.Executor = executor.New(
		deps.Positions,
		deps.PriceCache,
		deps.AuditStore,
		deps.History,
		deps.Metrics,
		executor.Config{
			MinConfidence:    cfg.Executor.MinConfidence,
			AllowedSymbols:   cfg.Executor.AllowedSymbols,
			MaxTradesPerHour: cfg.Executor.MaxTradesPerHour,
			MaxTradesPerDay:  cfg.Executor.MaxTradesPerDay,
			SubmitTimeout:    cfg.Executor.SubmitTimeout.Duration,
		},
		logger,
	)

	// --- Exchange connectors ---
	deps.Exchanges = exchange.NewRegistry()
	for _, pcfg := range cfg.Exchanges.Paper {
		conn := paper.New(paper.Config{
			Name:        pcfg.Name,
			InitialCash: pcfg.InitialCash,
			Latency:     pcfg.Latency.Duration,
			FailureRate: pcfg.FailureRate,
			Slippage:    pcfg.Slippage,
		}, cacheQuote(deps.PriceCache), logger)
		if err := deps.Exchanges.Register(conn); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
	}

	// --- Traders ---
	deps.Traders = make(map[string]*trader.Actor, len(cfg.Traders))
	for _, tcfg := range cfg.Traders {
		connectors, err := deps.Exchanges.Subset(tcfg.Exchanges)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: trader %s: %w", tcfg.ID, err)
		}
		active := tcfg.ActiveExchange
		if active == "" && len(tcfg.Exchanges) > 0 {
			active = tcfg.Exchanges[0]
		}
		actor, err := trader.New(tcfg.ID, deps.Executor, deps.Metrics, connectors, active, tcfg.MailboxSize, deps.Validator, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: trader %s: %w", tcfg.ID, err)
		}
		deps.Traders[tcfg.ID] = actor
	}

	return deps, cleanup, nil
}

// cacheQuote adapts the price cache to the paper connector's quote function.
func cacheQuote(prices domain.PriceCache) paper.QuoteFunc {
	return func(ctx context.Context, symbol string) (float64, error) {
		price, _, err := prices.GetPrice(ctx, symbol)
		return price, err
	}
}
