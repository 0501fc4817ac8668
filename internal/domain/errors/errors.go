// Package errors provides the domain error kinds shared across services.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a domain error. Callers switch on the kind, never on
// concrete error types.
type Kind string

// Error kinds.
const (
	KindConfiguration       Kind = "CONFIGURATION_ERROR"
	KindConnection          Kind = "CONNECTION_ERROR"
	KindNotFound            Kind = "DOCUMENT_NOT_FOUND"
	KindQuery               Kind = "QUERY_ERROR"
	KindTransaction         Kind = "TRANSACTION_ERROR"
	KindBatch               Kind = "BATCH_OPERATION_ERROR"
	KindValidation          Kind = "VALIDATION_ERROR"
	KindMigration           Kind = "MIGRATION_ERROR"
	KindRetriesExhausted    Kind = "RETRIES_EXHAUSTED"
	KindIncompatibleRuntime Kind = "INCOMPATIBLE_RUNTIME"
	KindCache               Kind = "CACHE_ERROR"
)

// Field is one key/value pair of error context.
type Field struct {
	Key   string
	Value any
}

// ItemFailure records a single failed item within a batch or migration.
type ItemFailure struct {
	ID  string `json:"id"`
	Err string `json:"error"`
}

// Error is the domain error carried by every failure this system raises.
type Error struct {
	Kind    Kind
	Message string
	Context []Field
	Err     error

	// Attempts is set on retries-exhausted errors.
	Attempts int

	// Failed is set on batch and migration errors that carry per-item
	// failures.
	Failed []ItemFailure
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Context) > 0 {
		parts := make([]string, 0, len(e.Context))
		for _, f := range e.Context {
			parts = append(parts, fmt.Sprintf("%s=%v", f.Key, f.Value))
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// With appends a context field and returns the error for chaining.
func (e *Error) With(key string, value any) *Error {
	e.Context = append(e.Context, Field{Key: key, Value: value})
	return e
}

// New creates a domain error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a domain error of the given kind wrapping a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NewConfiguration creates a configuration error.
func NewConfiguration(message string, err error) *Error {
	return Wrap(KindConfiguration, message, err)
}

// NewConnection creates a connection error.
func NewConnection(message string, err error) *Error {
	return Wrap(KindConnection, message, err)
}

// NewNotFound creates a document-not-found error.
func NewNotFound(collection, id string) *Error {
	e := New(KindNotFound, "document not found")
	return e.With("collection", collection).With("id", id)
}

// NewQuery creates a query error.
func NewQuery(collection string, err error) *Error {
	return Wrap(KindQuery, "query failed", err).With("collection", collection)
}

// NewTransaction creates a transaction error.
func NewTransaction(message string, err error) *Error {
	return Wrap(KindTransaction, message, err)
}

// NewBatch creates a batch-operation error carrying per-item failures.
func NewBatch(message string, failed []ItemFailure) *Error {
	e := New(KindBatch, message)
	e.Failed = failed
	return e
}

// NewValidation creates a validation error.
func NewValidation(message string) *Error {
	return New(KindValidation, message)
}

// NewMigration creates a migration error.
func NewMigration(message string, err error) *Error {
	return Wrap(KindMigration, message, err)
}

// NewRetriesExhausted creates a retries-exhausted error wrapping the final
// underlying cause.
func NewRetriesExhausted(operation string, attempts int, err error) *Error {
	e := Wrap(KindRetriesExhausted, fmt.Sprintf("operation %q failed after %d attempts", operation, attempts), err)
	e.Attempts = attempts
	return e.With("operation", operation).With("attempts", attempts)
}

// NewIncompatibleRuntime creates an incompatible-runtime error.
func NewIncompatibleRuntime(runtime string) *Error {
	return New(KindIncompatibleRuntime, "execution environment is not supported by the database client").
		With("runtime", runtime)
}

// NewCache creates a cache error.
func NewCache(message string, err error) *Error {
	return Wrap(KindCache, message, err)
}

// GetError extracts the domain error from err.
func GetError(err error) (*Error, bool) {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr, true
	}
	return nil, false
}

// KindOf returns the kind of a domain error, or the empty kind.
func KindOf(err error) Kind {
	if domainErr, ok := GetError(err); ok {
		return domainErr.Kind
	}
	return ""
}

// Is reports whether err is a domain error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsNotFound checks if the error is a document-not-found error.
func IsNotFound(err error) bool {
	return Is(err, KindNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return Is(err, KindValidation)
}

// IsRetriesExhausted checks if the error is a retries-exhausted error.
func IsRetriesExhausted(err error) bool {
	return Is(err, KindRetriesExhausted)
}
