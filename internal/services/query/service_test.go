package query_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbridge/docbridge/internal/connection"
	"github.com/docbridge/docbridge/internal/core/docdb"
	domainerrors "github.com/docbridge/docbridge/internal/domain/errors"
	"github.com/docbridge/docbridge/internal/domain/models"
	"github.com/docbridge/docbridge/internal/infrastructure/docdb/memory"
	"github.com/docbridge/docbridge/internal/pkg/retry"
	"github.com/docbridge/docbridge/internal/services/query"
)

func setupService(t *testing.T) (*query.Service, docdb.Database) {
	t.Helper()

	client := memory.NewClient()
	conn, err := connection.New(func(ctx context.Context) (docdb.Client, error) {
		return client, nil
	}, connection.Options{}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close(context.Background())
	})

	svc := query.New(conn, retry.New(false, nil, zerolog.Nop()), zerolog.Nop())
	return svc, client.Database()
}

func seed(t *testing.T, db docdb.Database) {
	t.Helper()
	col := db.Collection("products")
	docs := map[string]docdb.Document{
		"p1": {"category": "book", "price": int64(10), "stock": int64(5)},
		"p2": {"category": "book", "price": int64(25), "stock": int64(0)},
		"p3": {"category": "game", "price": int64(40), "stock": int64(2)},
		"p4": {"category": "book", "price": int64(15), "stock": int64(9)},
	}
	for id, doc := range docs {
		require.NoError(t, col.Set(context.Background(), id, doc, false))
	}
}

func recordIDs(records []models.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestQuery(t *testing.T) {
	svc, db := setupService(t)
	seed(t, db)

	records, err := svc.Query(context.Background(), "products", "category", docdb.OpEqual, "book")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1", "p2", "p4"}, recordIDs(records))
}

func TestQueryAdvanced_CombinesFilters(t *testing.T) {
	svc, db := setupService(t)
	seed(t, db)

	records, err := svc.QueryAdvanced(context.Background(), "products", []models.Filter{
		{Field: "category", Op: docdb.OpEqual, Value: "book"},
		{Field: "stock", Op: docdb.OpGreaterThan, Value: 0},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1", "p4"}, recordIDs(records))
}

func TestQueryAdvanced_NoFilters(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.QueryAdvanced(context.Background(), "products", nil)
	assert.True(t, domainerrors.IsValidation(err))
}

func TestQueryOrdered(t *testing.T) {
	svc, db := setupService(t)
	seed(t, db)

	records, err := svc.QueryOrdered(context.Background(), "products",
		"category", docdb.OpEqual, "book", "price", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p4", "p1"}, recordIDs(records))
}

func TestQueryPaginated(t *testing.T) {
	svc, db := setupService(t)
	seed(t, db)
	ctx := context.Background()

	page, err := svc.QueryPaginated(ctx, "products",
		"category", docdb.OpEqual, "book", "price", false, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p4"}, recordIDs(page.Records))
	assert.True(t, page.HasMore)

	page, err = svc.QueryPaginated(ctx, "products",
		"category", docdb.OpEqual, "book", "price", false, 2, int64(15))
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, recordIDs(page.Records))
	assert.False(t, page.HasMore)
}

func TestQueryPaginated_InvalidLimit(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.QueryPaginated(context.Background(), "products",
		"category", docdb.OpEqual, "book", "price", false, 0)
	assert.True(t, domainerrors.IsValidation(err))
}

func TestFindOneAdvanced(t *testing.T) {
	svc, db := setupService(t)
	seed(t, db)
	ctx := context.Background()

	record, err := svc.FindOneAdvanced(ctx, "products", []models.Filter{
		{Field: "category", Op: docdb.OpEqual, Value: "game"},
	})
	require.NoError(t, err)
	assert.Equal(t, "p3", record.ID)

	_, err = svc.FindOneAdvanced(ctx, "products", []models.Filter{
		{Field: "category", Op: docdb.OpEqual, Value: "toy"},
	})
	assert.True(t, domainerrors.IsNotFound(err))
}

func TestCountWhere(t *testing.T) {
	svc, db := setupService(t)
	seed(t, db)

	count, err := svc.CountWhere(context.Background(), "products", "category", docdb.OpEqual, "book")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestCountWhereAdvanced(t *testing.T) {
	svc, db := setupService(t)
	seed(t, db)

	count, err := svc.CountWhereAdvanced(context.Background(), "products", []models.Filter{
		{Field: "price", Op: docdb.OpGreaterOrEqual, Value: 15},
		{Field: "stock", Op: docdb.OpGreaterThan, Value: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestQueryWithOptions(t *testing.T) {
	svc, db := setupService(t)
	seed(t, db)

	records, err := svc.QueryWithOptions(context.Background(), "products", models.QueryOptions{
		Filters: []models.Filter{
			{Field: "category", Op: docdb.OpEqual, Value: "book"},
		},
		OrderBy:    "price",
		Descending: false,
		Limit:      2,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p4"}, recordIDs(records))
}

func TestQueryWithOptions_Boundaries(t *testing.T) {
	svc, db := setupService(t)
	seed(t, db)

	records, err := svc.QueryWithOptions(context.Background(), "products", models.QueryOptions{
		Filters: []models.Filter{
			{Field: "category", Op: docdb.OpEqual, Value: "book"},
		},
		OrderBy:    "price",
		StartAfter: []any{int64(10)},
		EndAt:      []any{int64(25)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"p4", "p2"}, recordIDs(records))
}
