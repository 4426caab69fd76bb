// Package query contains read operations following CQRS pattern.
// Queries never modify analysis inputs; they compute or read results
// and may cache them.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESULT CACHE
// ══════════════════════════════════════════════════════════════════════════════

// ResultCache - хранилище сериализованных результатов с TTL.
// Реализации: Redis и in-process LRU.
type ResultCache interface {
	// Get возвращает значение и признак попадания.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set сохраняет значение на ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// DeletePrefix удаляет все ключи с префиксом.
	DeletePrefix(ctx context.Context, prefix string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// MEMOIZER
// ══════════════════════════════════════════════════════════════════════════════

// Memoizer кэширует результаты чистых вычислений по ключу.
// Для одного ключа одновременно выполняется не больше одного вычисления;
// остальные вызовы ждут его результат.
type Memoizer[T any] struct {
	cache  ResultCache
	prefix string
	ttl    time.Duration
	group  singleflight.Group
}

// NewMemoizer создаёт мемоизатор. Пустой cache отключает кэширование,
// но объединение одновременных вызовов сохраняется.
func NewMemoizer[T any](cache ResultCache, prefix string, ttl time.Duration) *Memoizer[T] {
	return &Memoizer[T]{cache: cache, prefix: prefix, ttl: ttl}
}

// Get возвращает результат из кэша или вычисляет его.
// cached == true, если значение взято из кэша.
func (m *Memoizer[T]) Get(ctx context.Context, key string, compute func(ctx context.Context) (T, error)) (value T, cached bool, err error) {
	full := m.prefix + key

	if v, ok := m.lookup(ctx, full); ok {
		return v, true, nil
	}

	res, err, _ := m.group.Do(full, func() (interface{}, error) {
		// Повторная проверка: вычисление могло завершиться, пока мы ждали.
		if v, ok := m.lookup(ctx, full); ok {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return v, err
		}
		m.store(ctx, full, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return res.(T), false, nil
}

// Refresh всегда вычисляет значение заново и перезаписывает кэш.
func (m *Memoizer[T]) Refresh(ctx context.Context, key string, compute func(ctx context.Context) (T, error)) (T, error) {
	full := m.prefix + key
	res, err, _ := m.group.Do("refresh:"+full, func() (interface{}, error) {
		v, err := compute(ctx)
		if err != nil {
			return v, err
		}
		m.store(ctx, full, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// Invalidate удаляет все значения мемоизатора.
func (m *Memoizer[T]) Invalidate(ctx context.Context) error {
	if m.cache == nil {
		return nil
	}
	return m.cache.DeletePrefix(ctx, m.prefix)
}

// lookup читает кэш. Ошибки кэша не прерывают запрос: значение пересчитывается.
func (m *Memoizer[T]) lookup(ctx context.Context, key string) (T, bool) {
	var zero T
	if m.cache == nil {
		return zero, false
	}
	data, ok, err := m.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("result cache read failed", "key", key, "error", err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		slog.Warn("result cache entry is corrupt", "key", key, "error", err)
		return zero, false
	}
	return v, true
}

func (m *Memoizer[T]) store(ctx context.Context, key string, v T) {
	if m.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("result is not cacheable", "key", key, "error", fmt.Errorf("marshal: %w", err))
		return
	}
	if err := m.cache.Set(ctx, key, data, m.ttl); err != nil {
		slog.Warn("result cache write failed", "key", key, "error", err)
	}
}
