// Package batch implements chunked bulk writes. Inputs of any size are
// split into backend-sized chunks committed sequentially; a failed chunk
// records its items as failures and the remaining chunks still run.
package batch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/docbridge/docbridge/internal/connection"
	"github.com/docbridge/docbridge/internal/core/docdb"
	domainerrors "github.com/docbridge/docbridge/internal/domain/errors"
	"github.com/docbridge/docbridge/internal/domain/models"
	"github.com/docbridge/docbridge/internal/pkg/retry"
	"github.com/docbridge/docbridge/internal/pkg/sanitize"
	"github.com/docbridge/docbridge/internal/pkg/validate"
)

// Item is one identified document in a bulk write.
type Item struct {
	ID  string         `json:"id"`
	Doc docdb.Document `json:"doc"`
}

// Service exposes the bulk write operations.
type Service struct {
	conn     *connection.Manager
	executor *retry.Executor
	logger   zerolog.Logger
}

// New creates the batch service.
func New(conn *connection.Manager, executor *retry.Executor, logger zerolog.Logger) *Service {
	return &Service{
		conn:     conn,
		executor: executor,
		logger:   logger.With().Str("service", "batch").Logger(),
	}
}

// Create inserts the items, failing per item when the ID already exists.
func (s *Service) Create(ctx context.Context, collection string, items []Item) (*models.BatchResult, error) {
	return s.write(ctx, "batch.create", collection, items, func(batch docdb.WriteBatch, item Item, doc docdb.Document) {
		batch.Create(collection, item.ID, doc)
	})
}

// Set writes the items, replacing any existing document.
func (s *Service) Set(ctx context.Context, collection string, items []Item) (*models.BatchResult, error) {
	return s.write(ctx, "batch.set", collection, items, func(batch docdb.WriteBatch, item Item, doc docdb.Document) {
		batch.Set(collection, item.ID, doc, false)
	})
}

// Update patches the items. Each chunk verifies its targets exist before
// committing so a missing document fails that item, not the whole call.
func (s *Service) Update(ctx context.Context, collection string, items []Item) (*models.BatchResult, error) {
	if err := validateItems(collection, items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return &models.BatchResult{Success: true}, nil
	}

	result := &models.BatchResult{}
	for _, chunk := range chunks(items) {
		var present, missing []Item
		err := s.executor.Do(ctx, "batch.update", func(ctx context.Context) error {
			db, err := s.conn.Handle(ctx)
			if err != nil {
				return err
			}
			col := db.Collection(collection)

			present = present[:0]
			missing = missing[:0]
			for _, item := range chunk {
				if _, err := col.Get(ctx, item.ID); err != nil {
					if docdb.IsNotFound(err) {
						missing = append(missing, item)
						continue
					}
					return err
				}
				present = append(present, item)
			}
			if len(present) == 0 {
				return nil
			}

			batch := db.Batch()
			for _, item := range present {
				doc, err := sanitize.Clean(item.Doc)
				if err != nil {
					return err
				}
				batch.Update(collection, item.ID, doc)
			}
			return batch.Commit(ctx)
		})
		if err != nil {
			s.recordChunkFailure(result, chunk, err)
			continue
		}
		for _, item := range missing {
			result.Failed = append(result.Failed, domainerrors.ItemFailure{ID: item.ID, Err: "document not found"})
		}
		result.Count += len(present)
		for _, item := range present {
			result.IDs = append(result.IDs, item.ID)
		}
	}
	return s.finish(collection, result, len(items))
}

// Delete removes the given IDs. Missing documents are not an error.
func (s *Service) Delete(ctx context.Context, collection string, ids []string) (*models.BatchResult, error) {
	if err := validate.CollectionPath(collection); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := validate.DocumentID(id); err != nil {
			return nil, err
		}
	}
	if len(ids) == 0 {
		return &models.BatchResult{Success: true}, nil
	}

	result := &models.BatchResult{}
	for start := 0; start < len(ids); start += docdb.MaxBatchWrites {
		end := start + docdb.MaxBatchWrites
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		err := s.executor.Do(ctx, "batch.delete", func(ctx context.Context) error {
			db, err := s.conn.Handle(ctx)
			if err != nil {
				return err
			}
			batch := db.Batch()
			for _, id := range chunk {
				batch.Delete(collection, id)
			}
			return batch.Commit(ctx)
		})
		if err != nil {
			for _, id := range chunk {
				result.Failed = append(result.Failed, domainerrors.ItemFailure{ID: id, Err: err.Error()})
			}
			continue
		}
		result.Count += len(chunk)
		result.IDs = append(result.IDs, chunk...)
	}
	return s.finish(collection, result, len(ids))
}

// Increment applies a numeric delta to one field of every given document.
func (s *Service) Increment(ctx context.Context, collection, field string, deltas map[string]float64) (*models.BatchResult, error) {
	if err := validate.CollectionPath(collection); err != nil {
		return nil, err
	}
	if err := validate.FieldName(field); err != nil {
		return nil, err
	}
	if len(deltas) == 0 {
		return &models.BatchResult{Success: true}, nil
	}

	items := make([]Item, 0, len(deltas))
	for id, delta := range deltas {
		items = append(items, Item{ID: id, Doc: docdb.Document{field: docdb.Increment(delta)}})
	}
	return s.write(ctx, "batch.increment", collection, items, func(batch docdb.WriteBatch, item Item, doc docdb.Document) {
		batch.Update(collection, item.ID, doc)
	})
}

// DeleteCollection deletes every document in the collection, one batch-sized
// page at a time, and returns the number removed. Documents created while
// the loop runs may survive.
func (s *Service) DeleteCollection(ctx context.Context, collection string) (int, error) {
	if err := validate.CollectionPath(collection); err != nil {
		return 0, err
	}

	deleted := 0
	for {
		var ids []string
		err := s.executor.Do(ctx, "batch.deleteCollection", func(ctx context.Context) error {
			db, err := s.conn.Handle(ctx)
			if err != nil {
				return err
			}
			cursor, err := db.Collection(collection).Query().Limit(docdb.MaxBatchWrites).Documents(ctx)
			if err != nil {
				return err
			}
			defer cursor.Close(ctx)

			ids = ids[:0]
			for cursor.Next(ctx) {
				id, _ := cursor.Current()
				ids = append(ids, id)
			}
			if err := cursor.Err(); err != nil {
				return err
			}
			if len(ids) == 0 {
				return nil
			}

			batch := db.Batch()
			for _, id := range ids {
				batch.Delete(collection, id)
			}
			return batch.Commit(ctx)
		})
		if err != nil {
			return deleted, err
		}
		deleted += len(ids)
		if len(ids) < docdb.MaxBatchWrites {
			s.logger.Info().Str("collection", collection).Int("deleted", deleted).
				Msg("collection cleared")
			return deleted, nil
		}
	}
}

// write runs one staged write per item through chunked sequential commits.
func (s *Service) write(ctx context.Context, operation, collection string, items []Item, stage func(docdb.WriteBatch, Item, docdb.Document)) (*models.BatchResult, error) {
	if err := validateItems(collection, items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return &models.BatchResult{Success: true}, nil
	}

	result := &models.BatchResult{}
	for _, chunk := range chunks(items) {
		err := s.executor.Do(ctx, operation, func(ctx context.Context) error {
			db, err := s.conn.Handle(ctx)
			if err != nil {
				return err
			}
			batch := db.Batch()
			for _, item := range chunk {
				doc, err := sanitize.Clean(item.Doc)
				if err != nil {
					return err
				}
				stage(batch, item, doc)
			}
			return batch.Commit(ctx)
		})
		if err != nil {
			s.recordChunkFailure(result, chunk, err)
			continue
		}
		result.Count += len(chunk)
		for _, item := range chunk {
			result.IDs = append(result.IDs, item.ID)
		}
	}
	return s.finish(collection, result, len(items))
}

func (s *Service) recordChunkFailure(result *models.BatchResult, chunk []Item, err error) {
	for _, item := range chunk {
		result.Failed = append(result.Failed, domainerrors.ItemFailure{ID: item.ID, Err: err.Error()})
	}
}

// finish settles the Success flag and promotes a total wipeout to an error.
func (s *Service) finish(collection string, result *models.BatchResult, total int) (*models.BatchResult, error) {
	result.Success = len(result.Failed) == 0
	if result.Count == 0 && len(result.Failed) > 0 {
		return nil, domainerrors.NewBatch("all batch writes failed", result.Failed).
			With("collection", collection)
	}
	if !result.Success {
		s.logger.Warn().Str("collection", collection).
			Int("succeeded", result.Count).Int("failed", len(result.Failed)).Int("total", total).
			Msg("batch completed with failures")
	}
	return result, nil
}

func validateItems(collection string, items []Item) error {
	if err := validate.CollectionPath(collection); err != nil {
		return err
	}
	for _, item := range items {
		if err := validate.DocumentID(item.ID); err != nil {
			return err
		}
	}
	return nil
}

// chunks splits items into backend-sized commit groups.
func chunks(items []Item) [][]Item {
	var out [][]Item
	for start := 0; start < len(items); start += docdb.MaxBatchWrites {
		end := start + docdb.MaxBatchWrites
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
