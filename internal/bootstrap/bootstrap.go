// Package bootstrap builds the storage, cache and event bus shared by
// cmd/api and cmd/worker from the loaded configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	goredis "github.com/redis/go-redis/v9"

	"github.com/alem-hub/growth-hub/config"
	"github.com/alem-hub/growth-hub/internal/application/query"
	"github.com/alem-hub/growth-hub/internal/domain/analysis"
	"github.com/alem-hub/growth-hub/internal/domain/growth"
	"github.com/alem-hub/growth-hub/internal/domain/risk"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
	"github.com/alem-hub/growth-hub/internal/infrastructure/messaging"
	"github.com/alem-hub/growth-hub/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/growth-hub/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/growth-hub/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/growth-hub/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/growth-hub/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// ══════════════════════════════════════════════════════════════════════════════

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Storage bundles the repositories of one backend.
type Storage struct {
	Backend string

	Scores      growth.ScoreRepository
	Assignments growth.AssignmentRepository
	Events      risk.EventRepository
	Results     analysis.ResultRepository
	Runs        analysis.RunRepository

	ping  func(ctx context.Context) error
	close func()
}

// Ping checks the backend; it satisfies handlers.Pinger.
func (s *Storage) Ping(ctx context.Context) error { return s.ping(ctx) }

// Close releases the backend.
func (s *Storage) Close() { s.close() }

// OpenStorage connects to PostgreSQL when a URL is configured and falls
// back to the embedded SQLite store otherwise.
func OpenStorage(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*Storage, error) {
	if cfg.URL == "" {
		return openSQLite(cfg.SQLitePath, log)
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.URL
	pgCfg.MaxConns = int32(cfg.MaxConns)
	pgCfg.MinConns = int32(cfg.MinConns)
	pgCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	pgCfg.ConnectTimeout = cfg.ConnectTimeout

	log.Info("connecting to database...")
	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")

	if cfg.AutoMigrate {
		log.Info("running database migrations...")
		migrator := postgres.NewMigrator(conn)
		if err := migrator.Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		if status, err := migrator.Status(ctx); err != nil {
			log.Warn("failed to get migration status", "error", err)
		} else {
			applied := 0
			for _, m := range status {
				if m.IsApplied {
					applied++
				}
			}
			log.Info("migrations completed", "applied", applied, "total", len(status))
		}
	}

	scores := postgres.NewScoreRepository(conn)
	results := postgres.NewAnalysisRepository(conn)
	return &Storage{
		Backend:     BackendPostgres,
		Scores:      scores,
		Assignments: scores,
		Events:      postgres.NewEventRepository(conn),
		Results:     results,
		Runs:        results,
		ping:        conn.Ping,
		close: func() {
			log.Info("closing database connection...")
			conn.Close()
		},
	}, nil
}

func openSQLite(path string, log *slog.Logger) (*Storage, error) {
	log.Info("DATABASE_URL not set, using embedded SQLite store", "path", path)
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	return &Storage{
		Backend:     BackendSQLite,
		Scores:      store,
		Assignments: store,
		Events:      store,
		Results:     store,
		Runs:        store,
		ping:        store.Ping,
		close: func() {
			log.Info("closing sqlite store...")
			_ = store.Close()
		},
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE
// ══════════════════════════════════════════════════════════════════════════════

// Cache is the configured result cache. Result is nil for CACHE_BACKEND=none;
// Redis is set only when the Redis backend is connected.
type Cache struct {
	Result query.ResultCache
	Redis  *redis.Cache
}

// Close closes the Redis connection, if any.
func (c *Cache) Close() {
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}

// Client returns the Redis client or nil.
func (c *Cache) Client() goredis.UniversalClient {
	if c.Redis == nil {
		return nil
	}
	return c.Redis.Client()
}

// OpenCache builds the result cache. An unreachable Redis degrades to the
// in-process cache instead of failing startup.
func OpenCache(cfg *config.Config, log *slog.Logger) *Cache {
	switch cfg.Cache.Backend {
	case config.CacheNone:
		log.Info("result cache disabled")
		return &Cache{}
	case config.CacheRedis:
		log.Info("connecting to Redis...")
		rc, err := redis.NewCache(redis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Namespace:    cfg.Redis.Namespace,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err == nil {
			log.Info("Redis connection established")
			breaker := circuitbreaker.CacheBreaker(func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			})
			return &Cache{Result: redis.NewGuardedCache(rc, breaker), Redis: rc}
		}
		log.Warn("failed to connect to Redis, falling back to in-process cache", "error", err)
	}

	maxTTL := cfg.Cache.ResultsTTL
	if cfg.Cache.RiskTTL > maxTTL {
		maxTTL = cfg.Cache.RiskTTL
	}
	return &Cache{Result: memory.NewCache(cfg.Cache.Size, maxTTL)}
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// EventBus is a closable shared.EventBus.
type EventBus interface {
	shared.EventBus
	Close() error
}

// OpenEventBus returns the Redis-backed bus when configured and a Redis
// client is available, so that runs finished by the worker invalidate the
// API caches. Otherwise events stay in process.
func OpenEventBus(ctx context.Context, cfg config.SchedulerConfig, redisNamespace string, client goredis.UniversalClient, log *slog.Logger) (EventBus, error) {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = log

	if cfg.EventBus == "redis" && client != nil {
		host, _ := os.Hostname()
		bus, err := messaging.NewRedisEventBus(ctx, messaging.RedisEventBusConfig{
			Client:     client,
			Channel:    redisNamespace + "events",
			InstanceID: fmt.Sprintf("%s-%d", host, os.Getpid()),
			Local:      local,
			Logger:     log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to start redis event bus: %w", err)
		}
		log.Info("event bus: redis pub/sub", "channel", redisNamespace+"events")
		return bus, nil
	}

	log.Info("event bus: in-process")
	return messaging.NewInMemoryEventBus(local), nil
}
