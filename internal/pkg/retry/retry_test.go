package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbridge/docbridge/internal/core/docdb"
	domainerrors "github.com/docbridge/docbridge/internal/domain/errors"
)

func newTestExecutor(t *testing.T, enabled bool, cfg *Config) (*Executor, *[]time.Duration) {
	t.Helper()

	e := New(enabled, cfg, zerolog.Nop())
	waits := &[]time.Duration{}
	e.sleep = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return e, waits
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	e, waits := newTestExecutor(t, true, nil)

	calls := 0
	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *waits)
}

func TestDo_BackoffSequence(t *testing.T) {
	e, waits := newTestExecutor(t, true, nil)

	calls := 0
	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return docdb.NewError(docdb.CodeUnavailable, "unavailable", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}, *waits)

	var domainErr *domainerrors.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domainerrors.KindRetriesExhausted, domainErr.Kind)
	assert.Equal(t, 4, domainErr.Attempts)
}

func TestDo_DelayClampedAtMax(t *testing.T) {
	cfg := &Config{
		MaxRetries:   5,
		InitialDelay: 2 * time.Second,
		MaxDelay:     3 * time.Second,
		Multiplier:   2.0,
	}
	e, waits := newTestExecutor(t, true, cfg)

	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		return docdb.NewError(docdb.CodeUnavailable, "unavailable", nil)
	})

	require.Error(t, err)
	require.Len(t, *waits, 5)
	assert.Equal(t, 2*time.Second, (*waits)[0])
	for _, wait := range (*waits)[1:] {
		assert.Equal(t, 3*time.Second, wait)
	}
}

func TestDo_RecoversMidSequence(t *testing.T) {
	e, waits := newTestExecutor(t, true, nil)

	calls := 0
	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return docdb.NewError(docdb.CodeAborted, "conflict", nil)
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, *waits, 2)
}

func TestDo_NonRetryableShortCircuits(t *testing.T) {
	e, waits := newTestExecutor(t, true, nil)

	calls := 0
	cause := docdb.NewError(docdb.CodeNotFound, "missing", nil)
	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return cause
	})

	assert.Equal(t, 1, calls)
	assert.Empty(t, *waits)
	// The original error surfaces unwrapped.
	assert.Equal(t, cause, err)
}

func TestDo_DisabledIsPassthrough(t *testing.T) {
	e, waits := newTestExecutor(t, false, nil)

	calls := 0
	cause := docdb.NewError(docdb.CodeUnavailable, "unavailable", nil)
	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return cause
	})

	assert.Equal(t, 1, calls)
	assert.Empty(t, *waits)
	assert.Equal(t, cause, err)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	e := New(true, nil, zerolog.Nop())
	e.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	calls := 0
	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return docdb.NewError(docdb.CodeUnavailable, "unavailable", nil)
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	retryable := []docdb.Code{
		docdb.CodeUnavailable,
		docdb.CodeDeadlineExceeded,
		docdb.CodeResourceExhausted,
		docdb.CodeAborted,
		docdb.CodeInternal,
	}
	for _, code := range retryable {
		assert.True(t, IsRetryable(docdb.NewError(code, "x", nil)), "code %s", code)
	}

	assert.False(t, IsRetryable(docdb.NewError(docdb.CodeNotFound, "x", nil)))
	assert.False(t, IsRetryable(docdb.NewError(docdb.CodeInvalidArgument, "x", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}
