package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hospital-backoffice/backoffice/internal/accounts"
	"github.com/hospital-backoffice/backoffice/internal/platform/cache"
	"github.com/hospital-backoffice/backoffice/internal/platform/db"
	"github.com/hospital-backoffice/backoffice/internal/store/memory"
)

// Runtime holds the process-wide connections and the assembled ledger core.
type Runtime struct {
	Config   *Config
	Logger   *slog.Logger
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Services *Services
}

// OpenRuntime connects the configured store and redis. Redis is optional:
// without it balances are read uncached and reconcile runs unlocked.
func OpenRuntime(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}

	var repos Repositories
	switch cfg.StoreDriver {
	case StoreMemory:
		logger.Warn("using in-memory store; data is lost on exit")
		repos = MemoryRepositories(memory.New(), logger)
	default:
		pool, err := db.New(ctx, db.PoolOptions{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns})
		if err != nil {
			return nil, err
		}
		rt.Pool = pool
		repos = PostgresRepositories(pool)
	}

	var balanceCache accounts.BalancePort
	client, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable", slog.Any("error", err))
	} else {
		rt.Redis = client
		balanceCache = accounts.NewBalanceCache(client, cfg.BalanceCacheTTL)
	}

	rt.Services = NewServices(repos, ServiceOptions{
		Logger:             logger,
		BalanceCache:       balanceCache,
		ConsolidatedMirror: cfg.ConsolidatedMirror,
	})
	return rt, nil
}

// Locker returns the cross-process lock, nil without redis.
func (rt *Runtime) Locker() *cache.Locker {
	if rt.Redis == nil {
		return nil
	}
	return cache.NewLocker(rt.Redis, rt.Config.ReconcileLockTTL)
}

// Close releases connections.
func (rt *Runtime) Close() {
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.Logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}
