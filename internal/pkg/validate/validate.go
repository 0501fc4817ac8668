// Package validate checks collection paths and document identifiers before
// any request reaches the database.
package validate

import (
	"strings"

	domainerrors "github.com/docbridge/docbridge/internal/domain/errors"
)

// CollectionPath validates a collection path: non-empty, no leading or
// trailing separator, no empty segments.
func CollectionPath(path string) error {
	if path == "" {
		return domainerrors.NewValidation("collection path must not be empty")
	}
	if strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return domainerrors.NewValidation("collection path must not start or end with a separator").
			With("path", path)
	}
	if strings.Contains(path, "//") {
		return domainerrors.NewValidation("collection path must not contain empty segments").
			With("path", path)
	}
	return nil
}

// DocumentID validates a document identifier: non-empty, no separator.
func DocumentID(id string) error {
	if id == "" {
		return domainerrors.NewValidation("document id must not be empty")
	}
	if strings.Contains(id, "/") {
		return domainerrors.NewValidation("document id must not contain a separator").
			With("id", id)
	}
	return nil
}

// FieldName validates a field name used in updates and queries.
func FieldName(field string) error {
	if field == "" {
		return domainerrors.NewValidation("field name must not be empty")
	}
	return nil
}

// RefKey validates a relation key.
func RefKey(key string) error {
	if key == "" {
		return domainerrors.NewValidation("ref key must not be empty")
	}
	if strings.Contains(key, ".") {
		return domainerrors.NewValidation("ref key must not contain a dot").
			With("key", key)
	}
	return nil
}
