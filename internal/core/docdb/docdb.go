// Package docdb defines the document database interface.
package docdb

import (
	"context"
)

// Document is the schemaless document payload: a string-keyed map whose
// values are nil, bool, int64, float64, string, []byte, time.Time, []any,
// Document, or one of the sentinel write values from this package.
type Document = map[string]any

// MaxBatchWrites is the maximum number of write operations the database
// accepts in a single batch commit.
const MaxBatchWrites = 500

// FieldID is the pseudo field name that addresses the document ID in query
// clauses, for filtering and ordering on the ID itself.
const FieldID = "_id"

// Comparison operators accepted by Query.Where.
const (
	OpEqual          = "=="
	OpNotEqual       = "!="
	OpLessThan       = "<"
	OpLessOrEqual    = "<="
	OpGreaterThan    = ">"
	OpGreaterOrEqual = ">="
	OpArrayContains  = "array-contains"
	OpIn             = "in"
)

// Cursor iterates over query results.
type Cursor interface {
	// Next advances the cursor to the next document.
	Next(ctx context.Context) bool

	// Current returns the ID and payload of the current document.
	Current() (string, Document)

	// Err returns any cursor error.
	Err() error

	// Close closes the cursor.
	Close(ctx context.Context) error
}

// Query is an immutable query builder; each call returns a derived query.
type Query interface {
	// Where adds a filter clause.
	Where(field, op string, value any) Query

	// OrderBy adds an ordering clause.
	OrderBy(field string, descending bool) Query

	// Limit caps the number of returned documents.
	Limit(n int) Query

	// StartAfter positions the cursor after the given order-field values.
	StartAfter(values ...any) Query

	// StartAt positions the cursor at the given order-field values.
	StartAt(values ...any) Query

	// EndAt bounds the results at the given order-field values.
	EndAt(values ...any) Query

	// EndBefore bounds the results before the given order-field values.
	EndBefore(values ...any) Query

	// Documents executes the query and returns a cursor.
	Documents(ctx context.Context) (Cursor, error)

	// Count returns the server-side count of matching documents.
	Count(ctx context.Context) (int64, error)
}

// Collection exposes document operations within one collection.
type Collection interface {
	// Get reads a document by ID. A missing document yields a NOT_FOUND
	// coded error.
	Get(ctx context.Context, id string) (Document, error)

	// Add inserts a document under an auto-generated ID and returns it.
	Add(ctx context.Context, doc Document) (string, error)

	// Set writes a document under the given ID. With merge set, existing
	// fields not present in doc are preserved.
	Set(ctx context.Context, id string, doc Document, merge bool) error

	// Update applies field-level changes to an existing document. Keys may
	// be dotted paths ("data.text"); values may be sentinel write values.
	// Fails with a NOT_FOUND coded error if the document does not exist.
	Update(ctx context.Context, id string, fields Document) error

	// Delete removes a document. Deleting a missing document is a no-op.
	Delete(ctx context.Context, id string) error

	// Query starts a query over the collection.
	Query() Query
}

// WriteBatch accumulates writes committed together. Operations address
// collections by path so one batch may span collections.
type WriteBatch interface {
	// Create stages an insert that fails if the document already exists.
	Create(collection, id string, doc Document)

	// Set stages a set.
	Set(collection, id string, doc Document, merge bool)

	// Update stages a field-level update of an existing document.
	Update(collection, id string, fields Document)

	// Delete stages a delete.
	Delete(collection, id string)

	// Len reports the number of staged writes.
	Len() int

	// Commit applies all staged writes.
	Commit(ctx context.Context) error
}

// Tx is the handle passed to a transaction callback. All reads must happen
// before the first write. Conflict detection and retry belong to the
// implementation, not the caller.
type Tx interface {
	// Get reads a document within the transaction.
	Get(collection, id string) (Document, error)

	// Set stages a set within the transaction.
	Set(collection, id string, doc Document, merge bool) error

	// Update stages a field-level update within the transaction.
	Update(collection, id string, fields Document) error

	// Delete stages a delete within the transaction.
	Delete(collection, id string) error
}

// Database exposes collections, batches and transactions.
type Database interface {
	// Collection returns a collection by path.
	Collection(path string) Collection

	// Batch starts an empty write batch.
	Batch() WriteBatch

	// RunTransaction executes fn inside a transaction. If fn returns an
	// error the transaction is not committed.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error

	// ListCollectionNames lists all collection names.
	ListCollectionNames(ctx context.Context) ([]string, error)
}
