package redis

import (
	"context"
	"time"

	"github.com/alem-hub/growth-hub/pkg/circuitbreaker"
)

// Backend is the cache surface guarded by GuardedCache.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// GuardedCache routes cache calls through a circuit breaker. While the
// circuit is open, reads miss and writes are dropped without touching
// Redis; invalidation still reports the rejection so it can be retried.
type GuardedCache struct {
	backend Backend
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedCache wraps backend with breaker.
func NewGuardedCache(backend Backend, breaker *circuitbreaker.CircuitBreaker) *GuardedCache {
	return &GuardedCache{backend: backend, breaker: breaker}
}

// Get returns a miss while the circuit is open.
func (g *GuardedCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		data []byte
		hit  bool
	)
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		data, hit, err = g.backend.Get(ctx, key)
		return err
	})
	if circuitbreaker.IsRejected(err) {
		return nil, false, nil
	}
	return data, hit, err
}

// Set is a no-op while the circuit is open.
func (g *GuardedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.backend.Set(ctx, key, value, ttl)
	})
	if circuitbreaker.IsRejected(err) {
		return nil
	}
	return err
}

// DeletePrefix fails with the breaker error while the circuit is open.
func (g *GuardedCache) DeletePrefix(ctx context.Context, prefix string) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.backend.DeletePrefix(ctx, prefix)
	})
}

// State reports the breaker state for health checks.
func (g *GuardedCache) State() circuitbreaker.State {
	return g.breaker.State()
}
