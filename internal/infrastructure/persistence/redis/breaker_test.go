package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/growth-hub/pkg/circuitbreaker"
)

type flakyBackend struct {
	err   error
	calls int
}

func (f *flakyBackend) Get(context.Context, string) ([]byte, bool, error) {
	f.calls++
	return []byte("v"), f.err == nil, f.err
}

func (f *flakyBackend) Set(context.Context, string, []byte, time.Duration) error {
	f.calls++
	return f.err
}

func (f *flakyBackend) DeletePrefix(context.Context, string) error {
	f.calls++
	return f.err
}

func TestGuardedCache_OpenCircuitSkipsBackend(t *testing.T) {
	backend := &flakyBackend{err: errors.New("connection refused")}
	g := NewGuardedCache(backend, circuitbreaker.New("cache", circuitbreaker.WithFailureThreshold(2)))
	ctx := context.Background()

	_, _, err := g.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, g.Set(ctx, "k", []byte("v"), time.Minute))
	require.Equal(t, circuitbreaker.StateOpen, g.State())

	data, hit, err := g.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, data)
	assert.NoError(t, g.Set(ctx, "k", []byte("v"), time.Minute))
	assert.ErrorIs(t, g.DeletePrefix(ctx, "risk:"), circuitbreaker.ErrCircuitOpen)

	assert.Equal(t, 2, backend.calls)
}

func TestGuardedCache_PassThrough(t *testing.T) {
	backend := &flakyBackend{}
	g := NewGuardedCache(backend, circuitbreaker.CacheBreaker(nil))

	data, hit, err := g.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("v"), data)
	assert.Equal(t, circuitbreaker.StateClosed, g.State())
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, "lock:recompute_growth:7", LockKey("recompute_growth:7"))
}
