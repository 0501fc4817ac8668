// Package retry executes fallible operations with exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/docbridge/docbridge/internal/core/docdb"
	domainerrors "github.com/docbridge/docbridge/internal/domain/errors"
)

// Config holds the backoff parameters. It is immutable after construction
// and shared by reference across all services of one adapter.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultConfig returns the standard backoff parameters.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// retryableCodes is the fixed whitelist of transient status codes.
var retryableCodes = map[docdb.Code]struct{}{
	docdb.CodeUnavailable:       {},
	docdb.CodeDeadlineExceeded:  {},
	docdb.CodeResourceExhausted: {},
	docdb.CodeAborted:           {},
	docdb.CodeInternal:          {},
}

// IsRetryable reports whether the error carries a transient status code.
func IsRetryable(err error) bool {
	_, ok := retryableCodes[docdb.CodeOf(err)]
	return ok
}

// Executor retries operations that fail with transient status codes. A
// disabled executor is a true passthrough: the operation is invoked once and
// its error surfaces unmodified.
type Executor struct {
	enabled bool
	cfg     *Config
	logger  zerolog.Logger

	// sleep suspends the calling goroutine; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an executor. A nil cfg falls back to DefaultConfig.
func New(enabled bool, cfg *Config, logger zerolog.Logger) *Executor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Executor{
		enabled: enabled,
		cfg:     cfg,
		logger:  logger.With().Str("component", "retry").Logger(),
		sleep:   sleepContext,
	}
}

// Config returns the shared backoff configuration.
func (e *Executor) Config() *Config {
	return e.cfg
}

// Enabled reports whether retries are active.
func (e *Executor) Enabled() bool {
	return e.enabled
}

// Do executes fn, retrying on transient failures up to the configured
// budget. Non-retryable errors propagate immediately without consuming any
// budget. An exhausted budget surfaces as a retries-exhausted error wrapping
// the final cause and reporting the total attempt count.
func (e *Executor) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if !e.enabled {
		return fn(ctx)
	}

	delay := e.cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err

		if attempt == e.cfg.MaxRetries {
			break
		}

		wait := delay
		if wait > e.cfg.MaxDelay {
			wait = e.cfg.MaxDelay
		}
		e.logger.Warn().
			Str("operation", operation).
			Int("attempt", attempt+1).
			Dur("delay", wait).
			Err(err).
			Msg("transient failure, backing off")

		if sleepErr := e.sleep(ctx, wait); sleepErr != nil {
			return sleepErr
		}
		delay = time.Duration(float64(delay) * e.cfg.Multiplier)
	}

	attempts := e.cfg.MaxRetries + 1
	e.logger.Error().
		Str("operation", operation).
		Int("attempts", attempts).
		Err(lastErr).
		Msg("retry budget exhausted")
	return domainerrors.NewRetriesExhausted(operation, attempts, lastErr)
}

// sleepContext waits for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
