package bootstrap

import (
	"context"
	"fmt"
	"log"

	"epichat-be/internal/config"
	"epichat-be/internal/repository/implementation"
	"epichat-be/internal/repository/memory"
	"epichat-be/internal/repository/redisrepo"
	"epichat-be/internal/repository/sqlite"
	"epichat-be/pkg/database"
	"epichat-be/pkg/store"

	"github.com/redis/go-redis/v9"
)

// NewBackend opens the session store named by SESSION_BACKEND. The memory backend is
// per-process; the others let several instances share sessions.
func NewBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.Session.Backend {
	case "", "memory":
		return memory.NewSessionRepository(cfg.Session.TTL), nil

	case "redis":
		rdb, err := NewRedisClient(ctx, cfg.App.RedisURL)
		if err != nil {
			return nil, err
		}
		return redisrepo.NewSessionRepository(rdb, cfg.Session.TTL, cfg.Session.LockTTL), nil

	case "postgres":
		db, err := database.NewGormDBFromDSN(cfg.Database.Connection)
		if err != nil {
			return nil, fmt.Errorf("unable to connect to postgres: %w", err)
		}
		repo := implementation.NewSessionStateRepository(db, cfg.Session.LockTTL)
		if err := repo.Migrate(ctx); err != nil {
			repo.Close()
			return nil, fmt.Errorf("failed to migrate session_states: %w", err)
		}
		return repo, nil

	case "sqlite":
		db, err := database.NewSQLiteDB(cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		repo := sqlite.NewSessionRepository(db, cfg.Session.LockTTL)
		if err := repo.Migrate(ctx); err != nil {
			repo.Close()
			return nil, fmt.Errorf("failed to migrate session_states: %w", err)
		}
		return repo, nil
	}
	return nil, fmt.Errorf("unsupported session backend: %s", cfg.Session.Backend)
}

// NewRedisClient accepts a redis:// URL or a bare host:port
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{Addr: url}
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}
