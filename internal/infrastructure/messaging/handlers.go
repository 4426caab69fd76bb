package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/alem-hub/growth-hub/internal/domain/shared"
	"github.com/alem-hub/growth-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Middleware decorates an event handler.
type Middleware func(shared.EventHandler) shared.EventHandler

// Chain applies middlewares so that the first one is outermost.
func Chain(h shared.EventHandler, mws ...Middleware) shared.EventHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// RecoveryMiddleware turns a handler panic into an error.
func RecoveryMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic recovered",
						"event_type", event.EventType(),
						"panic", r,
						"stack", string(debug.Stack()),
					)
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(event)
		}
	}
}

// LoggingMiddleware logs each handler run at debug level and failures at error level.
func LoggingMiddleware(logger *slog.Logger, name string) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)
			attrs := []any{
				"handler", name,
				"event_type", event.EventType(),
				"run_id", event.AggregateID(),
				"duration", time.Since(start),
			}
			if err != nil {
				logger.Error("handler failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("handler completed", attrs...)
			}
			return err
		}
	}
}

// RetryMiddleware re-runs a failing handler with the given retrier.
func RetryMiddleware(r *retry.Retrier) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			return r.Do(context.Background(), func(context.Context) error {
				return next(event)
			})
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE INVALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// Invalidator drops a family of memoized results.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(ctx context.Context) error

// Invalidate implements Invalidator.
func (f InvalidatorFunc) Invalidate(ctx context.Context) error { return f(ctx) }

// CacheInvalidationHandler clears stored-result and risk caches once a run
// has persisted new results or new inputs were ingested.
func CacheInvalidationHandler(timeout time.Duration, targets ...Invalidator) shared.EventHandler {
	return func(event shared.Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		for _, t := range targets {
			if err := t.Invalidate(ctx); err != nil {
				return retry.Retryable(fmt.Errorf("invalidate after %s %s: %w", event.EventType(), event.AggregateID(), err))
			}
		}
		return nil
	}
}

// LifecycleLogger logs every analysis lifecycle event.
func LifecycleLogger(logger *slog.Logger) shared.EventHandler {
	logger = logger.With("component", "analysis_lifecycle")
	return func(event shared.Event) error {
		attrs := []any{"event_type", event.EventType(), "run_id", event.AggregateID()}
		for k, v := range event.Payload() {
			attrs = append(attrs, k, v)
		}
		switch event.EventType() {
		case shared.EventAnalysisFailed:
			logger.Warn("analysis run failed", attrs...)
		case shared.EventAnalysisProgress:
			logger.Debug("analysis progress", attrs...)
		default:
			logger.Info("analysis lifecycle", attrs...)
		}
		return nil
	}
}

// WireAnalysisHandlers subscribes the cache invalidation and lifecycle
// handlers used by every process.
func WireAnalysisHandlers(bus shared.EventSubscriber, logger *slog.Logger, targets ...Invalidator) error {
	invalidate := Chain(
		CacheInvalidationHandler(5*time.Second, targets...),
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger, "cache_invalidation"),
		RetryMiddleware(retry.StoreRetrier()),
	)
	for _, t := range []shared.EventType{shared.EventAnalysisCompleted, shared.EventInputsIngested} {
		if err := bus.Subscribe(t, invalidate); err != nil {
			return fmt.Errorf("subscribe cache invalidation to %s: %w", t, err)
		}
	}
	if err := bus.SubscribeAll(LifecycleLogger(logger)); err != nil {
		return fmt.Errorf("subscribe lifecycle logger: %w", err)
	}
	return nil
}
