package batch_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbridge/docbridge/internal/connection"
	"github.com/docbridge/docbridge/internal/core/docdb"
	domainerrors "github.com/docbridge/docbridge/internal/domain/errors"
	"github.com/docbridge/docbridge/internal/infrastructure/docdb/memory"
	"github.com/docbridge/docbridge/internal/pkg/retry"
	"github.com/docbridge/docbridge/internal/services/batch"
)

func setupService(t *testing.T) (*batch.Service, docdb.Database) {
	t.Helper()

	client := memory.NewClient()
	conn, err := connection.New(func(ctx context.Context) (docdb.Client, error) {
		return client, nil
	}, connection.Options{}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close(context.Background())
	})

	svc := batch.New(conn, retry.New(false, nil, zerolog.Nop()), zerolog.Nop())
	return svc, client.Database()
}

func items(n int) []batch.Item {
	out := make([]batch.Item, n)
	for i := range out {
		out[i] = batch.Item{ID: fmt.Sprintf("doc-%03d", i), Doc: docdb.Document{"n": int64(i)}}
	}
	return out
}

func TestCreate(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	result, err := svc.Create(ctx, "items", items(3))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Count)

	doc, err := db.Collection("items").Get(ctx, "doc-001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc["n"])
}

func TestCreate_EmptyInput(t *testing.T) {
	svc, _ := setupService(t)

	result, err := svc.Create(context.Background(), "items", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Zero(t, result.Count)
}

func TestCreate_ChunksLargeInput(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	total := docdb.MaxBatchWrites + 50
	result, err := svc.Create(ctx, "items", items(total))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, total, result.Count)
	assert.Len(t, result.IDs, total)

	count, err := db.Collection("items").Query().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(total), count)
}

func TestCreate_DuplicateFailsWholeChunk(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	require.NoError(t, db.Collection("items").Set(ctx, "doc-001", docdb.Document{"v": 1}, false))

	_, err := svc.Create(ctx, "items", items(3))
	require.Error(t, err)

	var domainErr *domainerrors.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domainerrors.KindBatch, domainErr.Kind)
	assert.Len(t, domainErr.Failed, 3)

	// Nothing from the failed chunk was applied.
	count, err := db.Collection("items").Query().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestUpdate_PartialFailure(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	col := db.Collection("items")
	require.NoError(t, col.Set(ctx, "a", docdb.Document{"n": int64(0)}, false))
	require.NoError(t, col.Set(ctx, "b", docdb.Document{"n": int64(0)}, false))

	result, err := svc.Update(ctx, "items", []batch.Item{
		{ID: "a", Doc: docdb.Document{"n": int64(1)}},
		{ID: "b", Doc: docdb.Document{"n": int64(2)}},
		{ID: "ghost", Doc: docdb.Document{"n": int64(3)}},
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 2, result.Count)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "ghost", result.Failed[0].ID)

	doc, err := col.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc["n"])
}

func TestUpdate_AllMissing(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Update(context.Background(), "items", []batch.Item{
		{ID: "ghost", Doc: docdb.Document{"n": 1}},
	})
	require.Error(t, err)

	var domainErr *domainerrors.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domainerrors.KindBatch, domainErr.Kind)
	assert.Len(t, domainErr.Failed, 1)
}

func TestDelete_MissingIDsAreNotErrors(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	require.NoError(t, db.Collection("items").Set(ctx, "a", docdb.Document{"v": 1}, false))

	result, err := svc.Delete(ctx, "items", []string{"a", "ghost"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Count)

	_, err = db.Collection("items").Get(ctx, "a")
	assert.True(t, docdb.IsNotFound(err))
}

func TestIncrement(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	col := db.Collection("counters")
	require.NoError(t, col.Set(ctx, "a", docdb.Document{"hits": int64(10)}, false))
	require.NoError(t, col.Set(ctx, "b", docdb.Document{"hits": int64(1)}, false))

	result, err := svc.Increment(ctx, "counters", "hits", map[string]float64{"a": 5, "b": -1})
	require.NoError(t, err)
	assert.True(t, result.Success)

	doc, err := col.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, float64(15), doc["hits"])
	doc, err = col.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, float64(0), doc["hits"])
}

func TestDeleteCollection(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	col := db.Collection("items")
	for i := 0; i < 7; i++ {
		_, err := col.Add(ctx, docdb.Document{"n": int64(i)})
		require.NoError(t, err)
	}

	deleted, err := svc.DeleteCollection(ctx, "items")
	require.NoError(t, err)
	assert.Equal(t, 7, deleted)

	count, err := col.Query().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeleteCollection_Empty(t *testing.T) {
	svc, _ := setupService(t)

	deleted, err := svc.DeleteCollection(context.Background(), "items")
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestValidation(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "", items(1))
	assert.True(t, domainerrors.IsValidation(err))

	_, err = svc.Create(ctx, "items", []batch.Item{{ID: "", Doc: docdb.Document{}}})
	assert.True(t, domainerrors.IsValidation(err))

	_, err = svc.Increment(ctx, "items", "", map[string]float64{"a": 1})
	assert.True(t, domainerrors.IsValidation(err))
}
