// Package sanitize prepares document payloads for writing: it deep-copies
// the payload, drops nil-valued fields, and rejects cyclic structures.
package sanitize

import (
	"reflect"

	"github.com/docbridge/docbridge/internal/core/docdb"
	domainerrors "github.com/docbridge/docbridge/internal/domain/errors"
)

// Clean returns a deep copy of doc with nil-valued map entries removed. A
// cycle anywhere in the nested map/slice structure yields a validation
// error. Sentinel write values pass through untouched.
func Clean(doc docdb.Document) (docdb.Document, error) {
	if doc == nil {
		return docdb.Document{}, nil
	}
	visited := make(map[uintptr]struct{})
	cleaned, err := cleanValue(doc, visited)
	if err != nil {
		return nil, err
	}
	return cleaned.(docdb.Document), nil
}

func cleanValue(v any, visited map[uintptr]struct{}) (any, error) {
	switch typed := v.(type) {
	case map[string]any:
		return cleanDocument(typed, visited)
	case []any:
		return cleanSlice(typed, visited)
	default:
		return v, nil
	}
}

func cleanDocument(m map[string]any, visited map[uintptr]struct{}) (docdb.Document, error) {
	ptr := reflect.ValueOf(m).Pointer()
	if _, seen := visited[ptr]; seen {
		return nil, domainerrors.NewValidation("document contains a circular reference")
	}
	visited[ptr] = struct{}{}
	defer delete(visited, ptr)

	out := make(docdb.Document, len(m))
	for key, value := range m {
		if value == nil {
			continue
		}
		cleaned, err := cleanValue(value, visited)
		if err != nil {
			return nil, err
		}
		out[key] = cleaned
	}
	return out, nil
}

func cleanSlice(s []any, visited map[uintptr]struct{}) ([]any, error) {
	if len(s) > 0 {
		ptr := reflect.ValueOf(s).Pointer()
		if _, seen := visited[ptr]; seen {
			return nil, domainerrors.NewValidation("document contains a circular reference")
		}
		visited[ptr] = struct{}{}
		defer delete(visited, ptr)
	}

	out := make([]any, 0, len(s))
	for _, value := range s {
		cleaned, err := cleanValue(value, visited)
		if err != nil {
			return nil, err
		}
		out = append(out, cleaned)
	}
	return out, nil
}
