package transaction_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbridge/docbridge/internal/connection"
	"github.com/docbridge/docbridge/internal/core/docdb"
	domainerrors "github.com/docbridge/docbridge/internal/domain/errors"
	"github.com/docbridge/docbridge/internal/infrastructure/docdb/memory"
	"github.com/docbridge/docbridge/internal/pkg/retry"
	"github.com/docbridge/docbridge/internal/services/transaction"
)

func setupService(t *testing.T) (*transaction.Service, docdb.Database) {
	t.Helper()

	client := memory.NewClient()
	conn, err := connection.New(func(ctx context.Context) (docdb.Client, error) {
		return client, nil
	}, connection.Options{}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close(context.Background())
	})

	svc := transaction.New(conn, retry.New(false, nil, zerolog.Nop()), zerolog.Nop())
	return svc, client.Database()
}

func TestRun_CallbackErrorAborts(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	require.NoError(t, db.Collection("accounts").Set(ctx, "a", docdb.Document{"n": int64(1)}, false))

	boom := errors.New("boom")
	err := svc.Run(ctx, func(tx docdb.Tx) error {
		require.NoError(t, tx.Set("accounts", "a", docdb.Document{"n": int64(99)}, false))
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	doc, err := db.Collection("accounts").Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc["n"])
}

func TestIncrement(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	require.NoError(t, db.Collection("counters").Set(ctx, "c1", docdb.Document{"hits": int64(10)}, false))

	value, err := svc.Increment(ctx, "counters", "c1", "hits", 5)
	require.NoError(t, err)
	assert.Equal(t, float64(15), value)
}

func TestIncrement_MissingDocumentStartsAtZero(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	value, err := svc.Increment(ctx, "counters", "fresh", "hits", 3)
	require.NoError(t, err)
	assert.Equal(t, float64(3), value)

	doc, err := db.Collection("counters").Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, float64(3), doc["hits"])
}

func TestIncrement_NonNumericField(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	require.NoError(t, db.Collection("counters").Set(ctx, "c1", docdb.Document{"hits": "many"}, false))

	_, err := svc.Increment(ctx, "counters", "c1", "hits", 1)
	assert.True(t, domainerrors.IsValidation(err))
}

func TestDecrement(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	require.NoError(t, db.Collection("counters").Set(ctx, "c1", docdb.Document{"hits": int64(10)}, false))

	value, err := svc.Decrement(ctx, "counters", "c1", "hits", 4, 0)
	require.NoError(t, err)
	assert.Equal(t, float64(6), value)
}

func TestDecrement_BelowFloorFailsWithoutWriting(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	require.NoError(t, db.Collection("counters").Set(ctx, "c1", docdb.Document{"hits": int64(3)}, false))

	_, err := svc.Decrement(ctx, "counters", "c1", "hits", 10, 0)
	require.Error(t, err)
	assert.Equal(t, domainerrors.KindTransaction, domainerrors.KindOf(err))

	doc, err := db.Collection("counters").Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), doc["hits"])
}

func TestDecrement_NonZeroFloor(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	require.NoError(t, db.Collection("counters").Set(ctx, "c1", docdb.Document{"hits": int64(10)}, false))

	value, err := svc.Decrement(ctx, "counters", "c1", "hits", 5, 5)
	require.NoError(t, err)
	assert.Equal(t, float64(5), value)

	_, err = svc.Decrement(ctx, "counters", "c1", "hits", 1, 5)
	require.Error(t, err)
	assert.Equal(t, domainerrors.KindTransaction, domainerrors.KindOf(err))
}

func TestTransfer(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	col := db.Collection("accounts")
	require.NoError(t, col.Set(ctx, "from", docdb.Document{"balance": int64(100)}, false))
	require.NoError(t, col.Set(ctx, "to", docdb.Document{"balance": int64(10)}, false))

	frozen := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return frozen })

	require.NoError(t, svc.Transfer(ctx, "accounts", "from", "to", "balance", 30))

	fromDoc, err := col.Get(ctx, "from")
	require.NoError(t, err)
	assert.Equal(t, float64(70), fromDoc["balance"])
	toDoc, err := col.Get(ctx, "to")
	require.NoError(t, err)
	assert.Equal(t, float64(40), toDoc["balance"])

	// Both sides carry the same transfer timestamp.
	assert.Equal(t, frozen, fromDoc["transferredAt"])
	assert.Equal(t, frozen, toDoc["transferredAt"])
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	col := db.Collection("accounts")
	require.NoError(t, col.Set(ctx, "from", docdb.Document{"balance": int64(5)}, false))
	require.NoError(t, col.Set(ctx, "to", docdb.Document{"balance": int64(0)}, false))

	err := svc.Transfer(ctx, "accounts", "from", "to", "balance", 30)
	require.Error(t, err)
	assert.Equal(t, domainerrors.KindTransaction, domainerrors.KindOf(err))

	// Nothing moved.
	fromDoc, err := col.Get(ctx, "from")
	require.NoError(t, err)
	assert.Equal(t, int64(5), fromDoc["balance"])
}

func TestTransfer_Validation(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	assert.True(t, domainerrors.IsValidation(svc.Transfer(ctx, "accounts", "a", "b", "balance", 0)))
	assert.True(t, domainerrors.IsValidation(svc.Transfer(ctx, "accounts", "a", "a", "balance", 1)))
}

func TestConditionalUpdate(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	col := db.Collection("orders")
	require.NoError(t, col.Set(ctx, "o1", docdb.Document{"status": "pending"}, false))

	applied, err := svc.ConditionalUpdate(ctx, "orders", "o1", func(doc docdb.Document) bool {
		return doc["status"] == "pending"
	}, docdb.Document{"status": "shipped"})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.ConditionalUpdate(ctx, "orders", "o1", func(doc docdb.Document) bool {
		return doc["status"] == "pending"
	}, docdb.Document{"status": "delivered"})
	require.NoError(t, err)
	assert.False(t, applied)

	doc, err := col.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "shipped", doc["status"])
}

func TestReadModifyWrite(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	col := db.Collection("profiles")
	require.NoError(t, col.Set(ctx, "p1", docdb.Document{"visits": int64(1)}, false))

	err := svc.ReadModifyWrite(ctx, "profiles", "p1", func(doc docdb.Document) (docdb.Document, error) {
		doc["visits"] = doc["visits"].(int64) + 1
		return doc, nil
	})
	require.NoError(t, err)

	doc, err := col.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc["visits"])
}

func TestReadModifyWrite_NilLeavesUnchanged(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	col := db.Collection("profiles")
	require.NoError(t, col.Set(ctx, "p1", docdb.Document{"visits": int64(1)}, false))

	err := svc.ReadModifyWrite(ctx, "profiles", "p1", func(doc docdb.Document) (docdb.Document, error) {
		return nil, nil
	})
	require.NoError(t, err)

	doc, err := col.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc["visits"])
}

func TestReadModifyWrite_NotFound(t *testing.T) {
	svc, _ := setupService(t)

	err := svc.ReadModifyWrite(context.Background(), "profiles", "ghost", func(doc docdb.Document) (docdb.Document, error) {
		return doc, nil
	})
	assert.True(t, domainerrors.IsNotFound(err))
}

func TestCompareAndSwap(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	col := db.Collection("locks")
	require.NoError(t, col.Set(ctx, "l1", docdb.Document{"owner": "nobody"}, false))

	result, err := svc.CompareAndSwap(ctx, "locks", "l1", "owner", "nobody", "worker-1")
	require.NoError(t, err)
	assert.True(t, result.Swapped)

	result, err = svc.CompareAndSwap(ctx, "locks", "l1", "owner", "nobody", "worker-2")
	require.NoError(t, err)
	assert.False(t, result.Swapped)
	assert.Equal(t, "worker-1", result.CurrentValue)

	doc, err := col.Get(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "worker-1", doc["owner"])
}

func TestCompareAndSwap_NumericCoercion(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	require.NoError(t, db.Collection("locks").Set(ctx, "l1", docdb.Document{"v": int64(3)}, false))

	result, err := svc.CompareAndSwap(ctx, "locks", "l1", "v", float64(3), int64(4))
	require.NoError(t, err)
	assert.True(t, result.Swapped)
}
