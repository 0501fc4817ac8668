// Package relational implements the {data, refs} document convention:
// user payload under data, string foreign-key pointers under refs, and
// server-maintained createdAt/updatedAt timestamps.
package relational

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/docbridge/docbridge/internal/connection"
	"github.com/docbridge/docbridge/internal/core/docdb"
	domainerrors "github.com/docbridge/docbridge/internal/domain/errors"
	"github.com/docbridge/docbridge/internal/domain/models"
	"github.com/docbridge/docbridge/internal/pkg/retry"
	"github.com/docbridge/docbridge/internal/pkg/sanitize"
	"github.com/docbridge/docbridge/internal/pkg/validate"
)

// pageSize bounds the paginated bulk-delete pages to one batch commit.
const pageSize = docdb.MaxBatchWrites

// Input is one relational document to create.
type Input struct {
	Data docdb.Document    `json:"data"`
	Refs map[string]string `json:"refs"`
}

// Service exposes the relational-document operations.
type Service struct {
	conn     *connection.Manager
	executor *retry.Executor
	logger   zerolog.Logger
}

// New creates the relational service.
func New(conn *connection.Manager, executor *retry.Executor, logger zerolog.Logger) *Service {
	return &Service{
		conn:     conn,
		executor: executor,
		logger:   logger.With().Str("service", "relational").Logger(),
	}
}

// Create inserts a relational document and returns its ID. createdAt and
// updatedAt are assigned by the server.
func (s *Service) Create(ctx context.Context, collection string, data docdb.Document, refs map[string]string) (string, error) {
	if err := validate.CollectionPath(collection); err != nil {
		return "", err
	}
	doc, err := buildDocument(data, refs)
	if err != nil {
		return "", err
	}

	var id string
	err = s.executor.Do(ctx, "relational.create", func(ctx context.Context) error {
		db, err := s.conn.Handle(ctx)
		if err != nil {
			return err
		}
		created, err := db.Collection(collection).Add(ctx, doc)
		if err != nil {
			return err
		}
		id = created
		return nil
	})
	return id, err
}

// Read returns a relational document by ID.
func (s *Service) Read(ctx context.Context, collection, id string) (*models.RelationalRecord, error) {
	if err := validateTarget(collection, id); err != nil {
		return nil, err
	}

	var record *models.RelationalRecord
	err := s.executor.Do(ctx, "relational.read", func(ctx context.Context) error {
		db, err := s.conn.Handle(ctx)
		if err != nil {
			return err
		}
		doc, err := db.Collection(collection).Get(ctx, id)
		if err != nil {
			return err
		}
		record = decode(id, doc)
		return nil
	})
	if err != nil {
		if docdb.IsNotFound(err) {
			return nil, domainerrors.NewNotFound(collection, id)
		}
		return nil, err
	}
	return record, nil
}

// ReadFlattened returns the document with data fields, refs and timestamps
// merged into one flat payload.
func (s *Service) ReadFlattened(ctx context.Context, collection, id string) (docdb.Document, error) {
	record, err := s.Read(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	flat := docdb.Document{"id": record.ID}
	for key, value := range record.Data {
		flat[key] = value
	}
	for key, value := range record.Refs {
		flat[key] = value
	}
	flat[models.FieldCreatedAt] = record.CreatedAt
	flat[models.FieldUpdatedAt] = record.UpdatedAt
	return flat, nil
}

// UpdateData updates individual keys under data, leaving sibling fields and
// all refs untouched. updatedAt is refreshed.
func (s *Service) UpdateData(ctx context.Context, collection, id string, fields docdb.Document) error {
	if err := validateTarget(collection, id); err != nil {
		return err
	}
	cleaned, err := sanitize.Clean(fields)
	if err != nil {
		return err
	}
	if len(cleaned) == 0 {
		return domainerrors.NewValidation("no data fields to update")
	}

	update := docdb.Document{models.FieldUpdatedAt: docdb.ServerTimestamp}
	for key, value := range cleaned {
		update[models.FieldData+"."+key] = value
	}
	return s.fieldUpdate(ctx, "relational.updateData", collection, id, update)
}

// UpdateRefs updates individual keys under refs. An empty string value
// removes the relation.
func (s *Service) UpdateRefs(ctx context.Context, collection, id string, refs map[string]string) error {
	if err := validateTarget(collection, id); err != nil {
		return err
	}
	if len(refs) == 0 {
		return domainerrors.NewValidation("no refs to update")
	}

	update := docdb.Document{models.FieldUpdatedAt: docdb.ServerTimestamp}
	for key, value := range refs {
		if err := validate.RefKey(key); err != nil {
			return err
		}
		if value == "" {
			update[models.FieldRefs+"."+key] = docdb.DeleteField
		} else {
			update[models.FieldRefs+"."+key] = value
		}
	}
	return s.fieldUpdate(ctx, "relational.updateRefs", collection, id, update)
}

// Update updates data fields and refs together under one updatedAt refresh.
func (s *Service) Update(ctx context.Context, collection, id string, data docdb.Document, refs map[string]string) error {
	if err := validateTarget(collection, id); err != nil {
		return err
	}
	cleaned, err := sanitize.Clean(data)
	if err != nil {
		return err
	}
	if len(cleaned) == 0 && len(refs) == 0 {
		return domainerrors.NewValidation("nothing to update")
	}

	update := docdb.Document{models.FieldUpdatedAt: docdb.ServerTimestamp}
	for key, value := range cleaned {
		update[models.FieldData+"."+key] = value
	}
	for key, value := range refs {
		if err := validate.RefKey(key); err != nil {
			return err
		}
		if value == "" {
			update[models.FieldRefs+"."+key] = docdb.DeleteField
		} else {
			update[models.FieldRefs+"."+key] = value
		}
	}
	return s.fieldUpdate(ctx, "relational.update", collection, id, update)
}

// fieldUpdate applies a dotted-path update after an existence read.
func (s *Service) fieldUpdate(ctx context.Context, operation, collection, id string, update docdb.Document) error {
	err := s.executor.Do(ctx, operation, func(ctx context.Context) error {
		db, err := s.conn.Handle(ctx)
		if err != nil {
			return err
		}
		col := db.Collection(collection)
		if _, err := col.Get(ctx, id); err != nil {
			return err
		}
		return col.Update(ctx, id, update)
	})
	if docdb.IsNotFound(err) {
		return domainerrors.NewNotFound(collection, id)
	}
	return err
}

// QueryByRef returns all documents whose refs hold the given pointer.
func (s *Service) QueryByRef(ctx context.Context, collection, refKey, refValue string) ([]models.RelationalRecord, error) {
	return s.QueryByRefs(ctx, collection, map[string]string{refKey: refValue})
}

// QueryByRefs returns all documents matching every given ref pointer.
func (s *Service) QueryByRefs(ctx context.Context, collection string, refs map[string]string) ([]models.RelationalRecord, error) {
	return s.queryRefs(ctx, collection, refs, "", false, 0, nil)
}

// QueryByRefOrdered returns ref matches ordered by a data field.
func (s *Service) QueryByRefOrdered(ctx context.Context, collection, refKey, refValue, orderField string, descending bool) ([]models.RelationalRecord, error) {
	return s.queryRefs(ctx, collection, map[string]string{refKey: refValue}, orderField, descending, 0, nil)
}

// QueryByRefPaginated returns one page of ref matches ordered by a data
// field.
func (s *Service) QueryByRefPaginated(ctx context.Context, collection, refKey, refValue, orderField string, descending bool, limit int, startAfter ...any) (*models.RelationalPage, error) {
	if limit <= 0 {
		return nil, domainerrors.NewValidation("page limit must be positive").With("limit", limit)
	}
	records, err := s.queryRefs(ctx, collection, map[string]string{refKey: refValue}, orderField, descending, limit+1, startAfter)
	if err != nil {
		return nil, err
	}
	page := &models.RelationalPage{Records: records}
	if len(records) > limit {
		page.Records = records[:limit]
		page.HasMore = true
	}
	return page, nil
}

func (s *Service) queryRefs(ctx context.Context, collection string, refs map[string]string, orderField string, descending bool, limit int, startAfter []any) ([]models.RelationalRecord, error) {
	if err := validate.CollectionPath(collection); err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, domainerrors.NewValidation("at least one ref is required")
	}
	for key := range refs {
		if err := validate.RefKey(key); err != nil {
			return nil, err
		}
	}

	var records []models.RelationalRecord
	err := s.executor.Do(ctx, "relational.queryByRef", func(ctx context.Context) error {
		db, err := s.conn.Handle(ctx)
		if err != nil {
			return err
		}
		q := db.Collection(collection).Query()
		for key, value := range refs {
			q = q.Where(models.FieldRefs+"."+key, docdb.OpEqual, value)
		}
		if orderField != "" {
			q = q.OrderBy(models.FieldData+"."+orderField, descending)
		}
		if len(startAfter) > 0 {
			q = q.StartAfter(startAfter...)
		}
		if limit > 0 {
			q = q.Limit(limit)
		}
		got, err := s.drain(ctx, q)
		if err != nil {
			return err
		}
		records = got
		return nil
	})
	if err != nil {
		if _, ok := domainerrors.GetError(err); ok {
			return nil, err
		}
		return nil, domainerrors.NewQuery(collection, err)
	}
	return records, nil
}

// Toggle looks up a document by exact ref-set match: when present it is
// deleted, when absent it is created with the given data. The lookup and
// the write are separate operations, so concurrent togglers can race.
func (s *Service) Toggle(ctx context.Context, collection string, refs map[string]string, data docdb.Document) (*models.ToggleResult, error) {
	match, err := s.findExact(ctx, collection, refs)
	if err != nil {
		return nil, err
	}

	if match != nil {
		err := s.executor.Do(ctx, "relational.toggle", func(ctx context.Context) error {
			db, err := s.conn.Handle(ctx)
			if err != nil {
				return err
			}
			return db.Collection(collection).Delete(ctx, match.ID)
		})
		if err != nil {
			return nil, err
		}
		return &models.ToggleResult{Action: models.ToggleDeleted, ID: match.ID}, nil
	}

	id, err := s.Create(ctx, collection, data, refs)
	if err != nil {
		return nil, err
	}
	return &models.ToggleResult{Action: models.ToggleCreated, ID: id}, nil
}

// FindOrCreate returns the document matching the exact ref set, creating it
// when absent. Concurrent callers can both observe "absent" and both
// create; only the transaction service is safe against that race.
func (s *Service) FindOrCreate(ctx context.Context, collection string, refs map[string]string, data docdb.Document) (*models.FindOrCreateResult, error) {
	match, err := s.findExact(ctx, collection, refs)
	if err != nil {
		return nil, err
	}
	if match != nil {
		return &models.FindOrCreateResult{ID: match.ID, Created: false}, nil
	}

	id, err := s.Create(ctx, collection, data, refs)
	if err != nil {
		return nil, err
	}
	return &models.FindOrCreateResult{ID: id, Created: true}, nil
}

// UpsertByRefs updates the data of the document matching the exact ref
// set, creating it when absent. Same race shape as FindOrCreate.
func (s *Service) UpsertByRefs(ctx context.Context, collection string, refs map[string]string, data docdb.Document) (*models.FindOrCreateResult, error) {
	match, err := s.findExact(ctx, collection, refs)
	if err != nil {
		return nil, err
	}
	if match != nil {
		if err := s.UpdateData(ctx, collection, match.ID, data); err != nil {
			return nil, err
		}
		return &models.FindOrCreateResult{ID: match.ID, Created: false}, nil
	}

	id, err := s.Create(ctx, collection, data, refs)
	if err != nil {
		return nil, err
	}
	return &models.FindOrCreateResult{ID: id, Created: true}, nil
}

// findExact returns the first document whose refs equal the given set: all
// pointers match and no extra pointer is present.
func (s *Service) findExact(ctx context.Context, collection string, refs map[string]string) (*models.RelationalRecord, error) {
	matches, err := s.QueryByRefs(ctx, collection, refs)
	if err != nil {
		return nil, err
	}
	for i := range matches {
		if len(matches[i].Refs) == len(refs) {
			return &matches[i], nil
		}
	}
	return nil, nil
}

// CascadeDelete removes every document holding the given ref pointer. Pages
// of at most one batch commit are deleted until a short page signals the
// end; the total number of deleted documents is returned.
func (s *Service) CascadeDelete(ctx context.Context, collection, refKey, refValue string) (int, error) {
	if err := validate.CollectionPath(collection); err != nil {
		return 0, err
	}
	if err := validate.RefKey(refKey); err != nil {
		return 0, err
	}

	deleted := 0
	for {
		var ids []string
		err := s.executor.Do(ctx, "relational.cascadeDelete", func(ctx context.Context) error {
			db, err := s.conn.Handle(ctx)
			if err != nil {
				return err
			}
			q := db.Collection(collection).Query().
				Where(models.FieldRefs+"."+refKey, docdb.OpEqual, refValue).
				Limit(pageSize)
			cursor, err := q.Documents(ctx)
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
		if len(ids) < pageSize {
			return deleted, nil
		}
	}
}

// BatchCreate inserts relational documents in batch-sized chunks committed
// sequentially. Chunk failures accumulate per item without aborting the
// remaining chunks.
func (s *Service) BatchCreate(ctx context.Context, collection string, items []Input) (*models.BatchResult, error) {
	if err := validate.CollectionPath(collection); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return &models.BatchResult{Success: true}, nil
	}

	result := &models.BatchResult{}
	for start := 0; start < len(items); start += docdb.MaxBatchWrites {
		end := start + docdb.MaxBatchWrites
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		ids := make([]string, 0, len(chunk))
		err := s.executor.Do(ctx, "relational.batchCreate", func(ctx context.Context) error {
			db, err := s.conn.Handle(ctx)
			if err != nil {
				return err
			}
			batch := db.Batch()
			ids = ids[:0]
			for _, item := range chunk {
				doc, err := buildDocument(item.Data, item.Refs)
				if err != nil {
					return err
				}
				id := uuid.NewString()
				batch.Create(collection, id, doc)
				ids = append(ids, id)
			}
			return batch.Commit(ctx)
		})
		if err != nil {
			for range chunk {
				result.Failed = append(result.Failed, domainerrors.ItemFailure{Err: err.Error()})
			}
			continue
		}
		result.Count += len(ids)
		result.IDs = append(result.IDs, ids...)
	}

	result.Success = len(result.Failed) == 0
	if result.Count == 0 && len(result.Failed) > 0 {
		return nil, domainerrors.NewBatch("all relational creates failed", result.Failed).
			With("collection", collection)
	}
	return result, nil
}

// CountByParent returns the number of documents pointing at each parent ID.
func (s *Service) CountByParent(ctx context.Context, collection, refKey string, parentIDs []string) (map[string]int64, error) {
	if err := validate.CollectionPath(collection); err != nil {
		return nil, err
	}
	if err := validate.RefKey(refKey); err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(parentIDs))
	for _, parentID := range parentIDs {
		var count int64
		err := s.executor.Do(ctx, "relational.countByParent", func(ctx context.Context) error {
			db, err := s.conn.Handle(ctx)
			if err != nil {
				return err
			}
			got, err := db.Collection(collection).Query().
				Where(models.FieldRefs+"."+refKey, docdb.OpEqual, parentID).
				Count(ctx)
			if err != nil {
				return err
			}
			count = got
			return nil
		})
		if err != nil {
			if _, ok := domainerrors.GetError(err); ok {
				return nil, err
			}
			return nil, domainerrors.NewQuery(collection, err)
		}
		counts[parentID] = count
	}
	return counts, nil
}

func (s *Service) drain(ctx context.Context, q docdb.Query) ([]models.RelationalRecord, error) {
	cursor, err := q.Documents(ctx)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	records := make([]models.RelationalRecord, 0)
	for cursor.Next(ctx) {
		id, doc := cursor.Current()
		records = append(records, *decode(id, doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func validateTarget(collection, id string) error {
	if err := validate.CollectionPath(collection); err != nil {
		return err
	}
	return validate.DocumentID(id)
}

// buildDocument assembles the persisted relational shape.
func buildDocument(data docdb.Document, refs map[string]string) (docdb.Document, error) {
	cleaned, err := sanitize.Clean(data)
	if err != nil {
		return nil, err
	}
	refsDoc := docdb.Document{}
	for key, value := range refs {
		if err := validate.RefKey(key); err != nil {
			return nil, err
		}
		refsDoc[key] = value
	}
	return docdb.Document{
		models.FieldData:      cleaned,
		models.FieldRefs:      refsDoc,
		models.FieldCreatedAt: docdb.ServerTimestamp,
		models.FieldUpdatedAt: docdb.ServerTimestamp,
	}, nil
}

// decode maps a stored document into a RelationalRecord, tolerating
// documents written before the convention was adopted.
func decode(id string, doc docdb.Document) *models.RelationalRecord {
	record := &models.RelationalRecord{ID: id, Data: docdb.Document{}, Refs: map[string]string{}}
	if data, ok := doc[models.FieldData].(map[string]any); ok {
		record.Data = data
	}
	if refs, ok := doc[models.FieldRefs].(map[string]any); ok {
		for key, value := range refs {
			if str, isStr := value.(string); isStr {
				record.Refs[key] = str
			}
		}
	}
	if created, ok := doc[models.FieldCreatedAt].(time.Time); ok {
		record.CreatedAt = created
	}
	if updated, ok := doc[models.FieldUpdatedAt].(time.Time); ok {
		record.UpdatedAt = updated
	}
	return record
}
