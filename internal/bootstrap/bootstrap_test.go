package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/growth-hub/config"
	"github.com/alem-hub/growth-hub/internal/domain/growth"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
	"github.com/alem-hub/growth-hub/internal/infrastructure/messaging"
	"github.com/alem-hub/growth-hub/internal/infrastructure/persistence/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStorage_SQLiteFallback(t *testing.T) {
	ctx := context.Background()
	s, err := OpenStorage(ctx, config.DatabaseConfig{SQLitePath: filepath.Join(t.TempDir(), "db", "growth.db")}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(s.Close)

	assert.Equal(t, BackendSQLite, s.Backend)
	require.NoError(t, s.Ping(ctx))

	require.NoError(t, s.Scores.SaveScores(ctx, []growth.ScoreRecord{
		{StudentID: "s1", ClassName: "7A", Grade: "7", Subject: "math", EntryScore: growth.Present(60)},
	}))
	page, err := s.Scores.FetchScores(ctx, growth.ScoreFilter{}, "", 10)
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
}

func TestOpenCache(t *testing.T) {
	cfg := &config.Config{Cache: config.CacheConfig{
		Backend:    config.CacheNone,
		Size:       16,
		ResultsTTL: time.Minute,
		RiskTTL:    2 * time.Minute,
	}}

	c := OpenCache(cfg, quietLogger())
	assert.Nil(t, c.Result)
	assert.Nil(t, c.Client())

	cfg.Cache.Backend = config.CacheMemory
	c = OpenCache(cfg, quietLogger())
	_, ok := c.Result.(*memory.Cache)
	assert.True(t, ok)
	c.Close()
}

func TestOpenEventBus_InProcessWithoutRedis(t *testing.T) {
	bus, err := OpenEventBus(context.Background(), config.SchedulerConfig{EventBus: "redis"}, "growth:", nil, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	_, ok := bus.(*messaging.InMemoryEventBus)
	assert.True(t, ok)

	got := make(chan shared.EventType, 1)
	require.NoError(t, bus.Subscribe(shared.EventInputsIngested, func(e shared.Event) error {
		got <- e.EventType()
		return nil
	}))
	require.NoError(t, bus.Publish(shared.NewInputsIngestedEvent("b1", 1, 0, 0)))

	select {
	case et := <-got:
		assert.Equal(t, shared.EventInputsIngested, et)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}
