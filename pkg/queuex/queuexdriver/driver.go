// Package queuexdriver opens a queue backend from configuration. It is
// the only package that imports every backend, keeping queuex itself
// free of driver dependencies.
package queuexdriver

import (
	"context"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/Abraxas-365/conveyor/pkg/config"
	"github.com/Abraxas-365/conveyor/pkg/errx"
	"github.com/Abraxas-365/conveyor/pkg/queuex"
	"github.com/Abraxas-365/conveyor/pkg/queuex/queuexmemory"
	"github.com/Abraxas-365/conveyor/pkg/queuex/queuexpg"
	"github.com/Abraxas-365/conveyor/pkg/queuex/queuexredis"
)

var driverErrors = errx.NewRegistry("QUEUEX_DRIVER")

var (
	ErrUnknownDriver = driverErrors.Register("UNKNOWN_DRIVER", errx.TypeValidation, "Unknown queue driver")
	ErrRedisConnect  = driverErrors.Register("REDIS_CONNECT", errx.TypeExternal, "Failed to connect to Redis")
	ErrPGConnect     = driverErrors.Register("PG_CONNECT", errx.TypeExternal, "Failed to connect to Postgres")
)

// Open builds the backend named by cfg.Driver and verifies connectivity
// for the networked ones. The caller owns the returned backend and must
// Close it.
func Open(ctx context.Context, cfg config.QueueConfig) (queuex.Backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return queuexmemory.New(), nil

	case config.DriverRedis:
		opt, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, driverErrors.NewWithCause(ErrRedisConnect, err)
		}
		rdb := redis.NewClient(opt)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, driverErrors.NewWithCause(ErrRedisConnect, err)
		}
		return queuexredis.New(rdb, queuexredis.WithKeyPrefix(cfg.KeyPrefix)), nil

	case config.DriverPostgres:
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.URL)
		if err != nil {
			return nil, driverErrors.NewWithCause(ErrPGConnect, err)
		}
		pg := queuexpg.New(db)
		if err := pg.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return pg, nil

	default:
		return nil, driverErrors.New(ErrUnknownDriver).WithDetail("driver", cfg.Driver)
	}
}

// OpenManager opens the backend and wraps it in a manager carrying the
// configured dispatch defaults.
func OpenManager(ctx context.Context, cfg config.QueueConfig) (*queuex.Manager, error) {
	backend, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return queuex.NewManager(backend,
		queuex.WithDispatchQueue(cfg.DefaultQueue),
		queuex.WithDispatchTimeout(cfg.DefaultTimeout),
	)
}
