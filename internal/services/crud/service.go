// Package crud provides the basic document operations.
package crud

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

// Service exposes create/read/update/delete operations on plain documents.
type Service struct {
	conn     *connection.Manager
	executor *retry.Executor
	logger   zerolog.Logger
}

// New creates the CRUD service.
func New(conn *connection.Manager, executor *retry.Executor, logger zerolog.Logger) *Service {
	return &Service{
		conn:     conn,
		executor: executor,
		logger:   logger.With().Str("service", "crud").Logger(),
	}
}

// Create inserts a document under an auto-generated ID.
func (s *Service) Create(ctx context.Context, collection string, doc docdb.Document) (string, error) {
	if err := validate.CollectionPath(collection); err != nil {
		return "", err
	}
	cleaned, err := sanitize.Clean(doc)
	if err != nil {
		return "", err
	}

	var id string
	err = s.executor.Do(ctx, "crud.create", func(ctx context.Context) error {
		db, err := s.conn.Handle(ctx)
		if err != nil {
			return err
		}
		created, err := db.Collection(collection).Add(ctx, cleaned)
		if err != nil {
			return err
		}
		id = created
		return nil
	})
	return id, err
}

// Set writes a document under an explicit ID. With merge set, fields absent
// from doc are preserved.
func (s *Service) Set(ctx context.Context, collection, id string, doc docdb.Document, merge bool) error {
	if err := validateTarget(collection, id); err != nil {
		return err
	}
	cleaned, err := sanitize.Clean(doc)
	if err != nil {
		return err
	}

	return s.executor.Do(ctx, "crud.set", func(ctx context.Context) error {
		db, err := s.conn.Handle(ctx)
		if err != nil {
			return err
		}
		return db.Collection(collection).Set(ctx, id, cleaned, merge)
	})
}

// Read returns a document by ID.
func (s *Service) Read(ctx context.Context, collection, id string) (docdb.Document, error) {
	if err := validateTarget(collection, id); err != nil {
		return nil, err
	}

	var doc docdb.Document
	err := s.executor.Do(ctx, "crud.read", func(ctx context.Context) error {
		db, err := s.conn.Handle(ctx)
		if err != nil {
			return err
		}
		got, err := db.Collection(collection).Get(ctx, id)
		if err != nil {
			return err
		}
		doc = got
		return nil
	})
	if err != nil {
		if docdb.IsNotFound(err) {
			return nil, domainerrors.NewNotFound(collection, id)
		}
		return nil, err
	}
	return doc, nil
}

// Update applies field-level changes to an existing document. The document
// is read first; a missing document fails with a not-found error before any
// update is issued.
func (s *Service) Update(ctx context.Context, collection, id string, fields docdb.Document) error {
	if err := validateTarget(collection, id); err != nil {
		return err
	}
	cleaned, err := sanitize.Clean(fields)
	if err != nil {
		return err
	}

	err = s.executor.Do(ctx, "crud.update", func(ctx context.Context) error {
		db, err := s.conn.Handle(ctx)
		if err != nil {
			return err
		}
		col := db.Collection(collection)
		if _, err := col.Get(ctx, id); err != nil {
			return err
		}
		return col.Update(ctx, id, cleaned)
	})
	if docdb.IsNotFound(err) {
		return domainerrors.NewNotFound(collection, id)
	}
	return err
}

// Delete removes a document. Deleting a missing document is a no-op.
func (s *Service) Delete(ctx context.Context, collection, id string) error {
	if err := validateTarget(collection, id); err != nil {
		return err
	}
	return s.executor.Do(ctx, "crud.delete", func(ctx context.Context) error {
		db, err := s.conn.Handle(ctx)
		if err != nil {
			return err
		}
		return db.Collection(collection).Delete(ctx, id)
	})
}

// Exists reports whether a document exists.
func (s *Service) Exists(ctx context.Context, collection, id string) (bool, error) {
	if err := validateTarget(collection, id); err != nil {
		return false, err
	}

	exists := false
	err := s.executor.Do(ctx, "crud.exists", func(ctx context.Context) error {
		db, err := s.conn.Handle(ctx)
		if err != nil {
			return err
		}
		_, err = db.Collection(collection).Get(ctx, id)
		if docdb.IsNotFound(err) {
			exists = false
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// Upsert creates the document when absent, updates it otherwise, and
// reports which happened. The existence read and the write are separate
// operations, so two concurrent upserts of the same ID can both observe
// "absent" and both create.
func (s *Service) Upsert(ctx context.Context, collection, id string, doc docdb.Document) (bool, error) {
	if err := validateTarget(collection, id); err != nil {
		return false, err
	}
	cleaned, err := sanitize.Clean(doc)
	if err != nil {
		return false, err
	}

	created := false
	err = s.executor.Do(ctx, "crud.upsert", func(ctx context.Context) error {
		db, err := s.conn.Handle(ctx)
		if err != nil {
			return err
		}
		col := db.Collection(collection)
		_, err = col.Get(ctx, id)
		switch {
		case docdb.IsNotFound(err):
			created = true
			return col.Set(ctx, id, cleaned, false)
		case err != nil:
			return err
		default:
			created = false
			return col.Update(ctx, id, cleaned)
		}
	})
	return created, err
}

// List returns up to limit documents from the collection. A non-positive
// limit returns everything.
func (s *Service) List(ctx context.Context, collection string, limit int) ([]models.Record, error) {
	if err := validate.CollectionPath(collection); err != nil {
		return nil, err
	}

	var records []models.Record
	err := s.executor.Do(ctx, "crud.list", func(ctx context.Context) error {
		db, err := s.conn.Handle(ctx)
		if err != nil {
			return err
		}
		q := db.Collection(collection).Query()
		if limit > 0 {
			q = q.Limit(limit)
		}
		got, err := collect(ctx, q)
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

// Count returns the number of documents in the collection.
func (s *Service) Count(ctx context.Context, collection string) (int64, error) {
	if err := validate.CollectionPath(collection); err != nil {
		return 0, err
	}

	var count int64
	err := s.executor.Do(ctx, "crud.count", func(ctx context.Context) error {
		db, err := s.conn.Handle(ctx)
		if err != nil {
			return err
		}
		got, err := db.Collection(collection).Query().Count(ctx)
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

// FindOne returns the first document matching a single filter. A not-found
// error is returned when nothing matches.
func (s *Service) FindOne(ctx context.Context, collection, field, op string, value any) (*models.Record, error) {
	if err := validate.CollectionPath(collection); err != nil {
		return nil, err
	}
	if err := validate.FieldName(field); err != nil {
		return nil, err
	}

	var record *models.Record
	err := s.executor.Do(ctx, "crud.findOne", func(ctx context.Context) error {
		db, err := s.conn.Handle(ctx)
		if err != nil {
			return err
		}
		got, err := collect(ctx, db.Collection(collection).Query().Where(field, op, value).Limit(1))
		if err != nil {
			return err
		}
		if len(got) > 0 {
			record = &got[0]
		} else {
			record = nil
		}
		return nil
	})
	if err != nil {
		return nil, queryError(collection, err)
	}
	if record == nil {
		return nil, domainerrors.New(domainerrors.KindNotFound, "no document matched").
			With("collection", collection).With("field", field)
	}
	return record, nil
}

// collect drains a query into records.
func collect(ctx context.Context, q docdb.Query) ([]models.Record, error) {
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
// (retries-exhausted in particular) untouched.
func queryError(collection string, err error) error {
	if _, ok := domainerrors.GetError(err); ok {
		return err
	}
	return domainerrors.NewQuery(collection, err)
}

func validateTarget(collection, id string) error {
	if err := validate.CollectionPath(collection); err != nil {
		return err
	}
	return validate.DocumentID(id)
}
