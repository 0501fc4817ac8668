// Package migration implements collection-shape migrations: converting flat
// documents to the {data, refs} convention, bulk field edits, collection
// copies, and a read-only validation scan. Scans walk the collection in
// batch-sized pages and accumulate per-document failures instead of
// aborting.
package migration

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

const pageSize = docdb.MaxBatchWrites

// Transform rewrites one document during BatchTransform. Returning a nil
// document skips the write for that ID.
type Transform func(id string, doc docdb.Document) (docdb.Document, error)

// Service exposes the migration operations.
type Service struct {
	conn     *connection.Manager
	executor *retry.Executor
	logger   zerolog.Logger
}

// New creates the migration service.
func New(conn *connection.Manager, executor *retry.Executor, logger zerolog.Logger) *Service {
	return &Service{
		conn:     conn,
		executor: executor,
		logger:   logger.With().Str("service", "migration").Logger(),
	}
}

// ConvertToRelational rewrites one flat document into the {data, refs}
// shape. Fields named in refKeys whose values are strings move under refs;
// everything else moves under data. Already-converted documents are left
// alone.
func (s *Service) ConvertToRelational(ctx context.Context, collection, id string, refKeys []string) error {
	if err := validate.CollectionPath(collection); err != nil {
		return err
	}
	if err := validate.DocumentID(id); err != nil {
		return err
	}

	err := s.executor.Do(ctx, "migration.convert", func(ctx context.Context) error {
		db, err := s.conn.Handle(ctx)
		if err != nil {
			return err
		}
		col := db.Collection(collection)
		doc, err := col.Get(ctx, id)
		if err != nil {
			return err
		}
		converted, changed := partition(doc, refKeys)
		if !changed {
			return nil
		}
		return col.Set(ctx, id, converted, false)
	})
	if docdb.IsNotFound(err) {
		return domainerrors.NewNotFound(collection, id)
	}
	if err != nil {
		if _, ok := domainerrors.GetError(err); ok {
			return err
		}
		return domainerrors.NewMigration("convert failed", err).
			With("collection", collection).With("id", id)
	}
	return nil
}

// BatchConvertToRelational converts every flat document in the collection.
func (s *Service) BatchConvertToRelational(ctx context.Context, collection string, refKeys []string) (*models.MigrationResult, error) {
	return s.scan(ctx, "migration.batchConvert", collection, func(id string, doc docdb.Document) (docdb.Document, error) {
		converted, changed := partition(doc, refKeys)
		if !changed {
			return nil, nil
		}
		return converted, nil
	}, false)
}

// BatchTransform rewrites every document through transform.
func (s *Service) BatchTransform(ctx context.Context, collection string, transform Transform) (*models.MigrationResult, error) {
	if transform == nil {
		return nil, domainerrors.NewValidation("transform function is required")
	}
	return s.scan(ctx, "migration.batchTransform", collection, transform, false)
}

// AddFieldToAll sets field to value on every document that lacks it.
func (s *Service) AddFieldToAll(ctx context.Context, collection, field string, value any) (*models.MigrationResult, error) {
	if err := validate.FieldName(field); err != nil {
		return nil, err
	}
	return s.scan(ctx, "migration.addField", collection, func(id string, doc docdb.Document) (docdb.Document, error) {
		if _, exists := doc[field]; exists {
			return nil, nil
		}
		return docdb.Document{field: value}, nil
	}, true)
}

// RemoveFieldFromAll deletes field from every document that has it.
func (s *Service) RemoveFieldFromAll(ctx context.Context, collection, field string) (*models.MigrationResult, error) {
	if err := validate.FieldName(field); err != nil {
		return nil, err
	}
	return s.scan(ctx, "migration.removeField", collection, func(id string, doc docdb.Document) (docdb.Document, error) {
		if _, exists := doc[field]; !exists {
			return nil, nil
		}
		return docdb.Document{field: docdb.DeleteField}, nil
	}, true)
}

// RenameField moves the value of from into to on every document holding
// from. Documents already holding to keep its value.
func (s *Service) RenameField(ctx context.Context, collection, from, to string) (*models.MigrationResult, error) {
	if err := validate.FieldName(from); err != nil {
		return nil, err
	}
	if err := validate.FieldName(to); err != nil {
		return nil, err
	}
	if from == to {
		return nil, domainerrors.NewValidation("rename source and target are the same").With("field", from)
	}
	return s.scan(ctx, "migration.renameField", collection, func(id string, doc docdb.Document) (docdb.Document, error) {
		value, exists := doc[from]
		if !exists {
			return nil, nil
		}
		update := docdb.Document{from: docdb.DeleteField}
		if _, taken := doc[to]; !taken {
			update[to] = value
		}
		return update, nil
	}, true)
}

// CopyCollection copies every document, ID included, into the destination
// collection. Existing destination documents with the same ID are replaced.
func (s *Service) CopyCollection(ctx context.Context, source, destination string) (*models.MigrationResult, error) {
	if err := validate.CollectionPath(source); err != nil {
		return nil, err
	}
	if err := validate.CollectionPath(destination); err != nil {
		return nil, err
	}
	if source == destination {
		return nil, domainerrors.NewValidation("source and destination are the same").With("collection", source)
	}

	result := &models.MigrationResult{}
	var lastID string
	for {
		var page []pageEntry
		err := s.executor.Do(ctx, "migration.copyCollection", func(ctx context.Context) error {
			db, err := s.conn.Handle(ctx)
			if err != nil {
				return err
			}
			got, err := s.readPage(ctx, db, source, lastID)
			if err != nil {
				return err
			}
			page = got
			if len(page) == 0 {
				return nil
			}
			batch := db.Batch()
			for _, entry := range page {
				batch.Set(destination, entry.id, entry.doc, false)
			}
			return batch.Commit(ctx)
		})
		if err != nil {
			if _, ok := domainerrors.GetError(err); ok {
				return nil, err
			}
			return nil, domainerrors.NewMigration("copy failed", err).
				With("source", source).With("destination", destination)
		}
		result.Processed += len(page)
		if len(page) < pageSize {
			s.logger.Info().Str("source", source).Str("destination", destination).
				Int("copied", result.Processed).Msg("collection copied")
			return result, nil
		}
		lastID = page[len(page)-1].id
	}
}

// ValidateMigration scans the collection read-only and reports which
// documents do not conform to the {data, refs} convention.
func (s *Service) ValidateMigration(ctx context.Context, collection string) (*models.ValidationReport, error) {
	if err := validate.CollectionPath(collection); err != nil {
		return nil, err
	}

	report := &models.ValidationReport{}
	var lastID string
	for {
		var page []pageEntry
		err := s.executor.Do(ctx, "migration.validate", func(ctx context.Context) error {
			db, err := s.conn.Handle(ctx)
			if err != nil {
				return err
			}
			got, err := s.readPage(ctx, db, collection, lastID)
			if err != nil {
				return err
			}
			page = got
			return nil
		})
		if err != nil {
			if _, ok := domainerrors.GetError(err); ok {
				return nil, err
			}
			return nil, domainerrors.NewMigration("validation scan failed", err).
				With("collection", collection)
		}

		for _, entry := range page {
			report.Total++
			problems := conformance(entry.doc)
			if len(problems) == 0 {
				report.Valid++
				continue
			}
			report.Invalid = append(report.Invalid, models.DocumentValidation{ID: entry.id, Errors: problems})
		}
		if len(page) < pageSize {
			return report, nil
		}
		lastID = page[len(page)-1].id
	}
}

type pageEntry struct {
	id  string
	doc docdb.Document
}

// readPage reads one ID-ordered page starting after lastID.
func (s *Service) readPage(ctx context.Context, db docdb.Database, collection, lastID string) ([]pageEntry, error) {
	q := db.Collection(collection).Query().OrderBy(docdb.FieldID, false).Limit(pageSize)
	if lastID != "" {
		q = q.StartAfter(lastID)
	}
	cursor, err := q.Documents(ctx)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var page []pageEntry
	for cursor.Next(ctx) {
		id, doc := cursor.Current()
		page = append(page, pageEntry{id: id, doc: doc})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return page, nil
}

// scan walks the collection in ID-ordered pages, computes a field update per
// document, and commits each page's updates in one batch. When patch is
// true the transform's result is applied as a partial update; otherwise it
// replaces the document.
func (s *Service) scan(ctx context.Context, operation, collection string, transform Transform, patch bool) (*models.MigrationResult, error) {
	if err := validate.CollectionPath(collection); err != nil {
		return nil, err
	}

	result := &models.MigrationResult{}
	var lastID string
	for {
		var page []pageEntry
		var processed []string
		var failed []domainerrors.ItemFailure
		err := s.executor.Do(ctx, operation, func(ctx context.Context) error {
			db, err := s.conn.Handle(ctx)
			if err != nil {
				return err
			}
			got, err := s.readPage(ctx, db, collection, lastID)
			if err != nil {
				return err
			}
			page = got
			processed = processed[:0]
			failed = failed[:0]
			if len(page) == 0 {
				return nil
			}

			batch := db.Batch()
			staged := 0
			for _, entry := range page {
				next, err := transform(entry.id, entry.doc)
				if err != nil {
					failed = append(failed, domainerrors.ItemFailure{ID: entry.id, Err: err.Error()})
					continue
				}
				if next == nil {
					processed = append(processed, entry.id)
					continue
				}
				cleaned := next
				if !patch {
					if cleaned, err = sanitize.Clean(next); err != nil {
						failed = append(failed, domainerrors.ItemFailure{ID: entry.id, Err: err.Error()})
						continue
					}
				}
				if patch {
					batch.Update(collection, entry.id, cleaned)
				} else {
					batch.Set(collection, entry.id, cleaned, false)
				}
				processed = append(processed, entry.id)
				staged++
			}
			if staged == 0 {
				return nil
			}
			return batch.Commit(ctx)
		})
		if err != nil {
			if _, ok := domainerrors.GetError(err); ok {
				return nil, err
			}
			return nil, domainerrors.NewMigration("migration scan failed", err).
				With("collection", collection)
		}

		result.Processed += len(processed)
		result.Failed = append(result.Failed, failed...)
		if len(page) < pageSize {
			if len(result.Failed) > 0 {
				s.logger.Warn().Str("collection", collection).
					Int("processed", result.Processed).Int("failed", len(result.Failed)).
					Msg("migration finished with failures")
			}
			return result, nil
		}
		lastID = page[len(page)-1].id
	}
}

// partition splits a flat document into the relational shape. It reports
// changed=false when the document already conforms.
func partition(doc docdb.Document, refKeys []string) (docdb.Document, bool) {
	_, hasData := doc[models.FieldData].(map[string]any)
	_, hasRefs := doc[models.FieldRefs].(map[string]any)
	if hasData && hasRefs {
		return nil, false
	}

	isRef := make(map[string]bool, len(refKeys))
	for _, key := range refKeys {
		isRef[key] = true
	}

	data := docdb.Document{}
	refs := docdb.Document{}
	for key, value := range doc {
		if key == models.FieldCreatedAt || key == models.FieldUpdatedAt {
			continue
		}
		if str, ok := value.(string); ok && isRef[key] {
			refs[key] = str
			continue
		}
		data[key] = value
	}

	converted := docdb.Document{
		models.FieldData:      data,
		models.FieldRefs:      refs,
		models.FieldUpdatedAt: docdb.ServerTimestamp,
	}
	if created, ok := doc[models.FieldCreatedAt]; ok {
		converted[models.FieldCreatedAt] = created
	} else {
		converted[models.FieldCreatedAt] = docdb.ServerTimestamp
	}
	return converted, true
}

// conformance lists the ways a document violates the relational convention.
func conformance(doc docdb.Document) []string {
	var problems []string
	data, ok := doc[models.FieldData]
	if !ok {
		problems = append(problems, "missing data field")
	} else if _, isMap := data.(map[string]any); !isMap {
		problems = append(problems, "data is not a map")
	}
	refs, ok := doc[models.FieldRefs]
	if !ok {
		problems = append(problems, "missing refs field")
	} else if refsMap, isMap := refs.(map[string]any); !isMap {
		problems = append(problems, "refs is not a map")
	} else {
		for key, value := range refsMap {
			if _, isStr := value.(string); !isStr {
				problems = append(problems, "ref "+key+" is not a string")
			}
		}
	}
	if _, ok := doc[models.FieldCreatedAt]; !ok {
		problems = append(problems, "missing createdAt field")
	}
	return problems
}
