// Package memory provides the in-memory collection operations.
package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docbridge/docbridge/internal/core/docdb"
)

// collection implements docdb.Collection.
type collection struct {
	client *Client
	path   string
}

// Get reads a document by ID.
func (c *collection) Get(ctx context.Context, id string) (docdb.Document, error) {
	c.client.mu.Lock()
	defer c.client.mu.Unlock()
	if err := c.client.checkFailure(); err != nil {
		return nil, err
	}
	return c.getLocked(id)
}

func (c *collection) getLocked(id string) (docdb.Document, error) {
	docs := c.client.col(c.path, false)
	doc, ok := docs[id]
	if !ok {
		return nil, docdb.Errorf(docdb.CodeNotFound, "document %s/%s does not exist", c.path, id)
	}
	return copyDocument(doc), nil
}

// Add inserts a document under an auto-generated ID.
func (c *collection) Add(ctx context.Context, doc docdb.Document) (string, error) {
	c.client.mu.Lock()
	defer c.client.mu.Unlock()
	if err := c.client.checkFailure(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	c.setLocked(id, doc, false)
	return id, nil
}

// Set writes a document under the given ID.
func (c *collection) Set(ctx context.Context, id string, doc docdb.Document, merge bool) error {
	c.client.mu.Lock()
	defer c.client.mu.Unlock()
	if err := c.client.checkFailure(); err != nil {
		return err
	}
	c.setLocked(id, doc, merge)
	return nil
}

func (c *collection) setLocked(id string, doc docdb.Document, merge bool) {
	docs := c.client.col(c.path, true)
	var target docdb.Document
	if merge {
		if existing, ok := docs[id]; ok {
			target = copyDocument(existing)
		}
	}
	if target == nil {
		target = docdb.Document{}
	}
	for key, value := range doc {
		applyField(target, key, value, c.client.now)
	}
	docs[id] = target
}

// createLocked inserts a document, failing if the ID is taken.
func (c *collection) createLocked(id string, doc docdb.Document) error {
	docs := c.client.col(c.path, true)
	if _, ok := docs[id]; ok {
		return docdb.Errorf(docdb.CodeAlreadyExists, "document %s/%s already exists", c.path, id)
	}
	c.setLocked(id, doc, false)
	return nil
}

// Update applies field-level changes to an existing document.
func (c *collection) Update(ctx context.Context, id string, fields docdb.Document) error {
	c.client.mu.Lock()
	defer c.client.mu.Unlock()
	if err := c.client.checkFailure(); err != nil {
		return err
	}
	return c.updateLocked(id, fields)
}

func (c *collection) updateLocked(id string, fields docdb.Document) error {
	docs := c.client.col(c.path, false)
	existing, ok := docs[id]
	if !ok {
		return docdb.Errorf(docdb.CodeNotFound, "document %s/%s does not exist", c.path, id)
	}
	target := copyDocument(existing)
	for key, value := range fields {
		applyField(target, key, value, c.client.now)
	}
	docs[id] = target
	return nil
}

// Delete removes a document. Missing documents are a no-op.
func (c *collection) Delete(ctx context.Context, id string) error {
	c.client.mu.Lock()
	defer c.client.mu.Unlock()
	if err := c.client.checkFailure(); err != nil {
		return err
	}
	c.deleteLocked(id)
	return nil
}

func (c *collection) deleteLocked(id string) {
	if docs := c.client.col(c.path, false); docs != nil {
		delete(docs, id)
	}
}

// Query starts a query over the collection.
func (c *collection) Query() docdb.Query {
	return &query{client: c.client, path: c.path}
}

// applyField resolves sentinel values and dotted paths onto target.
func applyField(target docdb.Document, path string, value any, now func() time.Time) {
	parent := target
	segments := strings.Split(path, ".")
	for _, segment := range segments[:len(segments)-1] {
		child, ok := parent[segment].(docdb.Document)
		if !ok {
			if m, isMap := parent[segment].(map[string]any); isMap {
				child = m
			} else {
				child = docdb.Document{}
			}
			parent[segment] = child
		}
		parent = child
	}
	leaf := segments[len(segments)-1]

	switch typed := value.(type) {
	case docdb.IncrementValue:
		parent[leaf] = toFloat(parent[leaf]) + typed.Amount
	case docdb.ArrayUnionValue:
		parent[leaf] = arrayUnion(parent[leaf], typed.Elements)
	case docdb.ArrayRemoveValue:
		parent[leaf] = arrayRemove(parent[leaf], typed.Elements)
	default:
		if docdb.IsServerTimestamp(value) {
			parent[leaf] = now()
			return
		}
		if docdb.IsDeleteField(value) {
			delete(parent, leaf)
			return
		}
		if nested, ok := value.(docdb.Document); ok {
			parent[leaf] = copyDocument(nested)
			return
		}
		parent[leaf] = copyValue(value)
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

func arrayUnion(current any, elements []any) []any {
	arr, _ := current.([]any)
	out := make([]any, len(arr))
	copy(out, arr)
	for _, element := range elements {
		found := false
		for _, existing := range out {
			if compareValues(existing, element) == 0 {
				found = true
				break
			}
		}
		if !found {
			out = append(out, copyValue(element))
		}
	}
	return out
}

func arrayRemove(current any, elements []any) []any {
	arr, _ := current.([]any)
	out := make([]any, 0, len(arr))
	for _, existing := range arr {
		remove := false
		for _, element := range elements {
			if compareValues(existing, element) == 0 {
				remove = true
				break
			}
		}
		if !remove {
			out = append(out, existing)
		}
	}
	return out
}

// copyDocument deep-copies a document so callers never alias stored state.
func copyDocument(doc docdb.Document) docdb.Document {
	out := make(docdb.Document, len(doc))
	for key, value := range doc {
		out[key] = copyValue(value)
	}
	return out
}

func copyValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return copyDocument(typed)
	case []any:
		out := make([]any, len(typed))
		for i, element := range typed {
			out[i] = copyValue(element)
		}
		return out
	default:
		return v
	}
}
