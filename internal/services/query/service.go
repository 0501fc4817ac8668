// Package query provides the filtered, ordered and paginated reads.
package query

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/docbridge/docbridge/internal/connection"
	"github.com/docbridge/docbridge/internal/core/docdb"
	domainerrors "github.com/docbridge/docbridge/internal/domain/errors"
	"github.com/docbridge/docbridge/internal/domain/models"
	"github.com/docbridge/docbridge/internal/pkg/retry"
	"github.com/docbridge/docbridge/internal/pkg/validate"
)

// Service translates filter/order/pagination parameters almost verbatim
// into the underlying query builder.
type Service struct {
	conn     *connection.Manager
	executor *retry.Executor
	logger   zerolog.Logger
}

// New creates the query service.
func New(conn *connection.Manager, executor *retry.Executor, logger zerolog.Logger) *Service {
	return &Service{
		conn:     conn,
		executor: executor,
		logger:   logger.With().Str("service", "query").Logger(),
	}
}

// Query returns all documents matching a single filter.
func (s *Service) Query(ctx context.Context, collection, field, op string, value any) ([]models.Record, error) {
	return s.QueryAdvanced(ctx, collection, []models.Filter{{Field: field, Op: op, Value: value}})
}

// QueryAdvanced returns all documents matching every filter.
func (s *Service) QueryAdvanced(ctx context.Context, collection string, filters []models.Filter) ([]models.Record, error) {
	return s.QueryWithOptions(ctx, collection, models.QueryOptions{Filters: filters})
}

// QueryOrdered returns documents matching a single filter in the given
// order.
func (s *Service) QueryOrdered(ctx context.Context, collection, field, op string, value any, orderBy string, descending bool) ([]models.Record, error) {
	return s.QueryWithOptions(ctx, collection, models.QueryOptions{
		Filters:    []models.Filter{{Field: field, Op: op, Value: value}},
		OrderBy:    orderBy,
		Descending: descending,
	})
}

// QueryOrderedAdvanced returns documents matching every filter in the given
// order.
func (s *Service) QueryOrderedAdvanced(ctx context.Context, collection string, filters []models.Filter, orderBy string, descending bool) ([]models.Record, error) {
	return s.QueryWithOptions(ctx, collection, models.QueryOptions{
		Filters:    filters,
		OrderBy:    orderBy,
		Descending: descending,
	})
}

// QueryPaginated returns one page of documents matching a single filter.
func (s *Service) QueryPaginated(ctx context.Context, collection, field, op string, value any, orderBy string, descending bool, limit int, startAfter ...any) (*models.Page, error) {
	return s.QueryPaginatedAdvanced(ctx, collection, []models.Filter{{Field: field, Op: op, Value: value}}, orderBy, descending, limit, startAfter...)
}

// QueryPaginatedAdvanced returns one page of documents matching every
// filter. HasMore is detected by fetching one extra document.
func (s *Service) QueryPaginatedAdvanced(ctx context.Context, collection string, filters []models.Filter, orderBy string, descending bool, limit int, startAfter ...any) (*models.Page, error) {
	if limit <= 0 {
		return nil, domainerrors.NewValidation("page limit must be positive").With("limit", limit)
	}

	records, err := s.run(ctx, collection, models.QueryOptions{
		Filters:    filters,
		OrderBy:    orderBy,
		Descending: descending,
		Limit:      limit + 1,
		StartAfter: startAfter,
	})
	if err != nil {
		return nil, err
	}

	page := &models.Page{Records: records}
	if len(records) > limit {
		page.Records = records[:limit]
		page.HasMore = true
	}
	return page, nil
}

// FindOneAdvanced returns the first document matching every filter. No
// match is a not-found error.
func (s *Service) FindOneAdvanced(ctx context.Context, collection string, filters []models.Filter) (*models.Record, error) {
	records, err := s.run(ctx, collection, models.QueryOptions{Filters: filters, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domainerrors.New(domainerrors.KindNotFound, "no document matched").
			With("collection", collection)
	}
	return &records[0], nil
}

// CountWhere returns the number of documents matching a single filter.
func (s *Service) CountWhere(ctx context.Context, collection, field, op string, value any) (int64, error) {
	return s.CountWhereAdvanced(ctx, collection, []models.Filter{{Field: field, Op: op, Value: value}})
}

// CountWhereAdvanced returns the number of documents matching every filter.
func (s *Service) CountWhereAdvanced(ctx context.Context, collection string, filters []models.Filter) (int64, error) {
	if err := s.validateQuery(collection, filters); err != nil {
		return 0, err
	}

	var count int64
	err := s.executor.Do(ctx, "query.count", func(ctx context.Context) error {
		db, err := s.conn.Handle(ctx)
		if err != nil {
			return err
		}
		q := db.Collection(collection).Query()
		for _, f := range filters {
			q = q.Where(f.Field, f.Op, f.Value)
		}
		got, err := q.Count(ctx)
		if err != nil {
			return err
		}
		count = got
		return nil
	})
	if err != nil {
		return 0, queryError(collection, err)
	}
	return count, nil
}

// QueryWithOptions runs a query described by a single options struct.
func (s *Service) QueryWithOptions(ctx context.Context, collection string, opts models.QueryOptions) ([]models.Record, error) {
	return s.run(ctx, collection, opts)
}

func (s *Service) run(ctx context.Context, collection string, opts models.QueryOptions) ([]models.Record, error) {
	if err := s.validateQuery(collection, opts.Filters); err != nil {
		return nil, err
	}

	var records []models.Record
	err := s.executor.Do(ctx, "query.run", func(ctx context.Context) error {
		db, err := s.conn.Handle(ctx)
		if err != nil {
			return err
		}
		q := db.Collection(collection).Query()
		for _, f := range opts.Filters {
			q = q.Where(f.Field, f.Op, f.Value)
		}
		if opts.OrderBy != "" {
			q = q.OrderBy(opts.OrderBy, opts.Descending)
		}
		if len(opts.StartAfter) > 0 {
			q = q.StartAfter(opts.StartAfter...)
		}
		if len(opts.StartAt) > 0 {
			q = q.StartAt(opts.StartAt...)
		}
		if len(opts.EndAt) > 0 {
			q = q.EndAt(opts.EndAt...)
		}
		if len(opts.EndBefore) > 0 {
			q = q.EndBefore(opts.EndBefore...)
		}
		if opts.Limit > 0 {
			q = q.Limit(opts.Limit)
		}

		got, err := drain(ctx, q)
		if err != nil {
			return err
		}
		records = got
		return nil
	})
	if err != nil {
		return nil, queryError(collection, err)
	}
	return records, nil
}

// validateQuery requires a collection path and at least one filter.
// Unfiltered listing belongs to the CRUD service.
func (s *Service) validateQuery(collection string, filters []models.Filter) error {
	if err := validate.CollectionPath(collection); err != nil {
		return err
	}
	if len(filters) == 0 {
		return domainerrors.NewValidation("at least one filter is required")
	}
	for _, f := range filters {
		if err := validate.FieldName(f.Field); err != nil {
			return err
		}
	}
	return nil
}

func drain(ctx context.Context, q docdb.Query) ([]models.Record, error) {
	cursor, err := q.Documents(ctx)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	records := make([]models.Record, 0)
	for cursor.Next(ctx) {
		id, doc := cursor.Current()
		records = append(records, models.Record{ID: id, Data: doc})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// queryError wraps backend failures as query errors, leaving domain errors
// untouched.
func queryError(collection string, err error) error {
	if _, ok := domainerrors.GetError(err); ok {
		return err
	}
	return domainerrors.NewQuery(collection, err)
}
