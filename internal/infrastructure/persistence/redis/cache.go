// Package redis implements the shared result cache and job locks on Redis.
// Several API and worker processes see the same memoized analyses through it.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	// Namespace is prepended to every key so environments can share one server.
	Namespace string

	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		Namespace:    "growth:",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Addr returns the Redis address in "host:port" format.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrCacheConnection is returned when Redis cannot be reached at startup.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheKeyEmpty is returned for an empty key or prefix.
	ErrCacheKeyEmpty = errors.New("cache: key cannot be empty")

	// ErrCacheInvalidTTL is returned for a negative TTL.
	ErrCacheInvalidTTL = errors.New("cache: invalid TTL")
)

// scanBatch bounds both SCAN COUNT and the size of each DEL.
const scanBatch = 100

// ══════════════════════════════════════════════════════════════════════════════
// CACHE
// ══════════════════════════════════════════════════════════════════════════════

// Cache implements query.ResultCache. Values are stored as opaque JSON bytes.
type Cache struct {
	client    redis.UniversalClient
	namespace string
}

// NewCache connects and pings Redis.
func NewCache(cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return NewCacheFromClient(client, cfg.Namespace), nil
}

// NewCacheFromClient wraps an existing client.
func NewCacheFromClient(client redis.UniversalClient, namespace string) *Cache {
	return &Cache{client: client, namespace: namespace}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the connection for the event bus.
func (c *Cache) Client() redis.UniversalClient {
	return c.client
}

// Ping checks if Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) key(k string) string {
	return c.namespace + k
}

// Get returns the stored bytes. A missing key is (nil, false, nil).
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrCacheKeyEmpty
	}
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set stores value under key. A zero TTL keeps the key until it is deleted.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	if ttl < 0 {
		return ErrCacheInvalidTTL
	}
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

// DeletePrefix removes every key starting with prefix using SCAN, so the
// server is never blocked by KEYS.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return ErrCacheKeyEmpty
	}

	iter := c.client.Scan(ctx, 0, c.key(prefix)+"*", scanBatch).Iterator()
	keys := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == scanBatch {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.client.Del(ctx, keys...).Err()
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// JOB LOCKS
// ══════════════════════════════════════════════════════════════════════════════

// TryLock takes lock:<resource> for ttl if nobody holds it. The returned
// release func deletes the lock only while it still carries our token.
func (c *Cache) TryLock(ctx context.Context, resource, token string, ttl time.Duration) (func(context.Context) error, bool, error) {
	key := c.key(LockKey(resource))
	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}

	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, c.client, []string{key}, token).Err()
	}
	return release, true, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockKey returns the lock key for a resource.
func LockKey(resource string) string {
	return "lock:" + resource
}
