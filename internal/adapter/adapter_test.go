package adapter_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbridge/docbridge/internal/adapter"
	"github.com/docbridge/docbridge/internal/connection"
	"github.com/docbridge/docbridge/internal/core/docdb"
	domainerrors "github.com/docbridge/docbridge/internal/domain/errors"
	"github.com/docbridge/docbridge/internal/domain/models"
	rediscache "github.com/docbridge/docbridge/internal/infrastructure/cache/redis"
	"github.com/docbridge/docbridge/internal/infrastructure/docdb/memory"
	"github.com/docbridge/docbridge/internal/services/cached"
)

func setupAdapter(t *testing.T, cfg adapter.Config) *adapter.Adapter {
	t.Helper()

	if cfg.Factory == nil {
		cfg.Factory = func(ctx context.Context) (docdb.Client, error) {
			return memory.NewClient(), nil
		}
	}
	instance, err := adapter.New("test", cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = instance.Close(context.Background())
	})
	return instance
}

func TestNew_RequiresFactory(t *testing.T) {
	_, err := adapter.New("test", adapter.Config{}, zerolog.Nop())
	require.Error(t, err)
	assert.Equal(t, domainerrors.KindConfiguration, domainerrors.KindOf(err))
}

func TestServices_AreSingletons(t *testing.T) {
	instance := setupAdapter(t, adapter.Config{})

	assert.Same(t, instance.CRUD(), instance.CRUD())
	assert.Same(t, instance.Relational(), instance.Relational())
	assert.Same(t, instance.Query(), instance.Query())
	assert.Same(t, instance.Batch(), instance.Batch())
	assert.Same(t, instance.Transaction(), instance.Transaction())
	assert.Same(t, instance.Migration(), instance.Migration())
}

func TestCached_RequiresStore(t *testing.T) {
	instance := setupAdapter(t, adapter.Config{})

	_, err := instance.Cached()
	require.Error(t, err)
	assert.Equal(t, domainerrors.KindConfiguration, domainerrors.KindOf(err))
}

func TestCached_WithStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store := rediscache.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), 0)
	instance := setupAdapter(t, adapter.Config{
		CacheStore: store,
		Cached:     cached.Config{TTL: time.Minute},
	})

	svc, err := instance.Cached()
	require.NoError(t, err)
	again, err := instance.Cached()
	require.NoError(t, err)
	assert.Same(t, svc, again)
}

func TestConnectAndLifecycle(t *testing.T) {
	instance := setupAdapter(t, adapter.Config{})
	ctx := context.Background()

	assert.Equal(t, connection.StateUninitialized, instance.State())
	require.NoError(t, instance.Connect(ctx))
	assert.Equal(t, connection.StateConnected, instance.State())
	assert.True(t, instance.Metrics().Connected)
	require.NoError(t, instance.HealthCheck(ctx))

	require.NoError(t, instance.Close(ctx))
	assert.Equal(t, connection.StateClosed, instance.State())
}

func TestOperationsShareOneConnection(t *testing.T) {
	instance := setupAdapter(t, adapter.Config{})
	ctx := context.Background()

	id, err := instance.CRUD().Create(ctx, "users", docdb.Document{"name": "Ada"})
	require.NoError(t, err)

	record, err := instance.Query().FindOneAdvanced(ctx, "users", []models.Filter{
		{Field: "name", Op: docdb.OpEqual, Value: "Ada"},
	})
	require.NoError(t, err)
	assert.Equal(t, id, record.ID)
	assert.Equal(t, "Ada", record.Data["name"])

	count, err := instance.CRUD().Count(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
