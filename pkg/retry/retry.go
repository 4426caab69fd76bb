// Package retry retries transient failures with exponential backoff and jitter.
// It guards the batch-fetch boundary of analysis runs (score and warning
// sources) and cache round-trips. Errors are classified by the caller:
// Retryable errors are retried, Permanent errors stop immediately.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// Error classification
// ═══════════════════════════════════════════════════════════════════════════

// RetryableError marks an error as transient.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so that Do retries it. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do returns it at once. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ═══════════════════════════════════════════════════════════════════════════
// Configuration
// ═══════════════════════════════════════════════════════════════════════════

// Config holds the backoff policy.
type Config struct {
	MaxAttempts  int           // total attempts including the first one
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration // cap for a single delay
	Multiplier   float64       // growth factor between delays
	JitterFactor float64       // 0..1, share of the delay randomized in both directions

	// OnRetry is invoked before sleeping, e.g. for logging.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns 3 attempts starting at 100ms, doubling up to 30s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Option mutates a Config.
type Option func(*Config)

func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.InitialDelay = d
		}
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxDelay = d
		}
	}
}

func WithMultiplier(m float64) Option {
	return func(c *Config) {
		if m >= 1.0 {
			c.Multiplier = m
		}
	}
}

func WithJitter(j float64) Option {
	return func(c *Config) {
		if j >= 0 && j <= 1.0 {
			c.JitterFactor = j
		}
	}
}

func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *Config) { c.OnRetry = fn }
}

// ═══════════════════════════════════════════════════════════════════════════
// Retrier
// ═══════════════════════════════════════════════════════════════════════════

// Retrier runs operations under a fixed policy. Safe for concurrent use.
type Retrier struct {
	config Config
}

// New builds a Retrier from DefaultConfig and opts.
func New(opts ...Option) *Retrier {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Retrier{config: cfg}
}

// Do runs op until it succeeds, fails permanently, exhausts attempts or ctx ends.
// Marker wrappers are stripped from the returned error.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return unwrapMarker(lastErr)
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) || !IsRetryable(err) || attempt == r.config.MaxAttempts {
			return unwrapMarker(err)
		}

		delay := r.delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return unwrapMarker(lastErr)
		case <-timer.C:
		}
	}

	return unwrapMarker(lastErr)
}

// delay = initial * multiplier^(attempt-1), capped, then jittered.
func (r *Retrier) delay(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}
	if r.config.JitterFactor > 0 {
		d += d * r.config.JitterFactor * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func unwrapMarker(err error) error {
	var re *RetryableError
	if errors.As(err, &re) && err == error(re) {
		return re.Err
	}
	var pe *PermanentError
	if errors.As(err, &pe) && err == error(pe) {
		return pe.Err
	}
	return err
}

// Do runs op with a one-off Retrier.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, op)
}

// Value runs op under r and returns its value.
func Value[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// ═══════════════════════════════════════════════════════════════════════════
// Presets
// ═══════════════════════════════════════════════════════════════════════════

// FetchRetrier is used for paged reads of scores and warning events.
// opts are applied after the preset.
func FetchRetrier(opts ...Option) *Retrier {
	return New(append([]Option{
		WithMaxAttempts(4),
		WithInitialDelay(50 * time.Millisecond),
		WithMaxDelay(2 * time.Second),
		WithMultiplier(2.0),
		WithJitter(0.1),
	}, opts...)...)
}

// StoreRetrier is used for result persistence and cache writes.
// opts are applied after the preset.
func StoreRetrier(opts ...Option) *Retrier {
	return New(append([]Option{
		WithMaxAttempts(3),
		WithInitialDelay(50 * time.Millisecond),
		WithMaxDelay(1 * time.Second),
		WithMultiplier(2.0),
		WithJitter(0.05),
	}, opts...)...)
}
