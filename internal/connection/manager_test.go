package connection

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbridge/docbridge/internal/core/docdb"
	domainerrors "github.com/docbridge/docbridge/internal/domain/errors"
	"github.com/docbridge/docbridge/internal/infrastructure/docdb/memory"
)

func countingFactory(opens *atomic.Int64) Factory {
	return func(ctx context.Context) (docdb.Client, error) {
		opens.Add(1)
		return memory.NewClient(), nil
	}
}

func newTestManager(t *testing.T, opts Options) (*Manager, *atomic.Int64) {
	t.Helper()

	var opens atomic.Int64
	m, err := New(countingFactory(&opens), opts, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = m.Close(context.Background())
	})
	return m, &opens
}

func TestNew_NilFactory(t *testing.T) {
	_, err := New(nil, Options{}, zerolog.Nop())

	var domainErr *domainerrors.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domainerrors.KindConfiguration, domainErr.Kind)
}

func TestInitialize_Idempotent(t *testing.T) {
	m, opens := newTestManager(t, Options{})
	ctx := context.Background()

	db1, err := m.Initialize(ctx)
	require.NoError(t, err)
	db2, err := m.Initialize(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), opens.Load())
	assert.Equal(t, StateConnected, m.State())
	// Repeated initialization hands back the same underlying handle.
	assert.Same(t, db1, db2)
}

func TestInitialize_FactoryFailureLeavesUninitialized(t *testing.T) {
	cause := errors.New("dial refused")
	m, err := New(func(ctx context.Context) (docdb.Client, error) {
		return nil, cause
	}, Options{}, zerolog.Nop())
	require.NoError(t, err)

	_, err = m.Initialize(context.Background())
	var domainErr *domainerrors.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domainerrors.KindConnection, domainErr.Kind)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, StateUninitialized, m.State())
}

func TestHandle_CountsOperations(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Handle(ctx)
		require.NoError(t, err)
	}

	metrics := m.Metrics()
	assert.True(t, metrics.Connected)
	assert.Equal(t, int64(3), metrics.OperationCount)
}

func TestHandle_LazyReconnectAfterStale(t *testing.T) {
	m, opens := newTestManager(t, Options{})
	ctx := context.Background()

	_, err := m.Handle(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), opens.Load())

	// Simulate the idle monitor flagging the connection.
	m.mu.Lock()
	m.stale = true
	m.mu.Unlock()

	assert.False(t, m.Metrics().Connected)

	_, err = m.Handle(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), opens.Load())
	assert.True(t, m.Metrics().Connected)

	// Reconnecting resets the operation count.
	assert.Equal(t, int64(1), m.Metrics().OperationCount)
}

func TestCheckIdle_FlagsStaleWithoutClosing(t *testing.T) {
	m, _ := newTestManager(t, Options{MaxIdleTime: 10 * time.Minute})
	ctx := context.Background()

	_, err := m.Initialize(ctx)
	require.NoError(t, err)

	base := time.Now()
	m.mu.Lock()
	m.lastActivity = base
	m.now = func() time.Time { return base.Add(11 * time.Minute) }
	m.mu.Unlock()

	m.checkIdle()

	m.mu.Lock()
	stale := m.stale
	hasClient := m.client != nil
	state := m.state
	m.mu.Unlock()

	assert.True(t, stale)
	assert.True(t, hasClient)
	assert.Equal(t, StateConnected, state)
}

func TestCheckIdle_ActiveConnectionUntouched(t *testing.T) {
	m, _ := newTestManager(t, Options{MaxIdleTime: 10 * time.Minute})
	_, err := m.Initialize(context.Background())
	require.NoError(t, err)

	m.checkIdle()

	m.mu.Lock()
	stale := m.stale
	m.mu.Unlock()
	assert.False(t, stale)
}

func TestMetrics_IdleTime(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	_, err := m.Handle(ctx)
	require.NoError(t, err)

	base := time.Now()
	m.mu.Lock()
	m.lastActivity = base
	m.now = func() time.Time { return base.Add(42 * time.Second) }
	m.mu.Unlock()

	assert.Equal(t, 42*time.Second, m.Metrics().IdleTime)
}

func TestClose_Idempotent(t *testing.T) {
	m, _ := newTestManager(t, Options{PoolingEnabled: true, IdleTimeout: time.Millisecond})
	ctx := context.Background()

	_, err := m.Initialize(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx))
	require.NoError(t, m.Close(ctx))
	assert.Equal(t, StateClosed, m.State())

	_, err = m.Handle(ctx)
	require.Error(t, err)
}

func TestClose_Uninitialized(t *testing.T) {
	m, opens := newTestManager(t, Options{})

	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, int64(0), opens.Load())
}
