package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medcare/scheduling-engine/internal/config"
	"github.com/medcare/scheduling-engine/internal/db"
	redisclient "github.com/medcare/scheduling-engine/internal/redis"
	"github.com/medcare/scheduling-engine/internal/scheduling"
)

// Deps are the process-wide connections shared by the binaries.
type Deps struct {
	Store     scheduling.Store
	StoreName string
	Redis     *redis.Client

	closers []func()
}

// Open connects the configured store and, if an address is set, Redis. A
// Redis that cannot be reached is logged and left nil.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Deps, error) {
	d := &Deps{StoreName: cfg.StorageDriver}

	switch cfg.StorageDriver {
	case config.DriverSQLite:
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() { _ = sqlDB.Close() })

		store, err := scheduling.NewSQLiteStore(ctx, sqlDB)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Store = store
		log.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite store")

	default:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, int32(cfg.PostgresMaxConns))
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection error: %w", err)
		}
		d.closers = append(d.closers, pool.Close)
		d.Store = scheduling.NewPgRepository(pool)
		log.Info().Msg("connected to Postgres")
	}

	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.ClientOptions{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			PoolSize: cfg.RedisPoolSize,
		})
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, continuing without it")
		} else {
			d.Redis = rdb
			d.closers = append(d.closers, func() {
				if err := rdb.Close(); err != nil {
					log.Error().Err(err).Msg("error closing redis")
				}
			})
			log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
		}
	}

	return d, nil
}

// Locker returns the Redis booking lock when Redis is up, else an in-process one.
func (d *Deps) Locker(ttl time.Duration) redisclient.Locker {
	if d.Redis != nil {
		return redisclient.NewRedisLocker(d.Redis, ttl)
	}
	return redisclient.NewLocalLocker()
}

func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}
