package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/pkordes/tripsync/internal/config"
	"github.com/pkordes/tripsync/internal/repo"
	"github.com/pkordes/tripsync/migrations"
)

// openStore connects the TripStore selected by STORE_BACKEND and verifies it
// is reachable before the server accepts traffic. The returned func releases
// the backend's connections.
func openStore(ctx context.Context, cfg config.Config) (repo.TripStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		// pgxpool manages a pool of Postgres connections.
		// New() does not open connections immediately; Ping does.
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("create database pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		slog.Info("database connection established")

		// goose speaks database/sql. OpenDBFromPool borrows connections
		// from the pool; closing it leaves the pool open.
		db := stdlib.OpenDBFromPool(pool)
		applied, err := migrations.Up(ctx, db)
		_ = db.Close()
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
		slog.Info("migrations applied", "count", applied)

		return repo.NewPgTripStore(pool), pool.Close, nil

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		slog.Info("redis connection established", "addr", cfg.RedisAddr, "prefix", cfg.RedisPrefix)

		return repo.NewRedisTripStore(rdb, cfg.RedisPrefix), func() { _ = rdb.Close() }, nil

	case config.BackendMemory:
		slog.Warn("using in-memory store; trips are lost on restart")
		return repo.NewMemoryTripStore(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
