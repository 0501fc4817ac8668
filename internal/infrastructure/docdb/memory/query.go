// Package memory provides the in-memory query evaluation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docbridge/docbridge/internal/core/docdb"
)

type filterClause struct {
	field string
	op    string
	value any
}

type orderClause struct {
	field      string
	descending bool
}

type boundary struct {
	values    []any
	inclusive bool
}

// query implements docdb.Query. Builder methods copy the receiver so
// derived queries never mutate their parent.
type query struct {
	client  *Client
	path    string
	filters []filterClause
	orders  []orderClause
	limit   int
	start   *boundary
	end     *boundary
}

func (q *query) clone() *query {
	out := *q
	out.filters = append([]filterClause(nil), q.filters...)
	out.orders = append([]orderClause(nil), q.orders...)
	return &out
}

// Where adds a filter clause.
func (q *query) Where(field, op string, value any) docdb.Query {
	out := q.clone()
	out.filters = append(out.filters, filterClause{field: field, op: op, value: value})
	return out
}

// OrderBy adds an ordering clause.
func (q *query) OrderBy(field string, descending bool) docdb.Query {
	out := q.clone()
	out.orders = append(out.orders, orderClause{field: field, descending: descending})
	return out
}

// Limit caps the number of returned documents.
func (q *query) Limit(n int) docdb.Query {
	out := q.clone()
	out.limit = n
	return out
}

// StartAfter positions the cursor after the given order-field values.
func (q *query) StartAfter(values ...any) docdb.Query {
	out := q.clone()
	out.start = &boundary{values: values}
	return out
}

// StartAt positions the cursor at the given order-field values.
func (q *query) StartAt(values ...any) docdb.Query {
	out := q.clone()
	out.start = &boundary{values: values, inclusive: true}
	return out
}

// EndAt bounds the results at the given order-field values.
func (q *query) EndAt(values ...any) docdb.Query {
	out := q.clone()
	out.end = &boundary{values: values, inclusive: true}
	return out
}

// EndBefore bounds the results before the given order-field values.
func (q *query) EndBefore(values ...any) docdb.Query {
	out := q.clone()
	out.end = &boundary{values: values}
	return out
}

// Documents executes the query and returns a cursor over a snapshot.
func (q *query) Documents(ctx context.Context) (docdb.Cursor, error) {
	results, err := q.evaluate()
	if err != nil {
		return nil, err
	}
	return &cursor{results: results, index: -1}, nil
}

// Count returns the number of matching documents, ignoring the limit.
func (q *query) Count(ctx context.Context) (int64, error) {
	counting := q.clone()
	counting.limit = 0
	results, err := counting.evaluate()
	if err != nil {
		return 0, err
	}
	return int64(len(results)), nil
}

type snapshot struct {
	id  string
	doc docdb.Document
}

func (q *query) evaluate() ([]snapshot, error) {
	q.client.mu.Lock()
	defer q.client.mu.Unlock()
	if err := q.client.checkFailure(); err != nil {
		return nil, err
	}

	docs := q.client.col(q.path, false)
	results := make([]snapshot, 0, len(docs))
	for id, doc := range docs {
		match, err := q.matches(id, doc)
		if err != nil {
			return nil, err
		}
		if match {
			results = append(results, snapshot{id: id, doc: copyDocument(doc)})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return q.less(results[i], results[j])
	})

	if q.start != nil {
		results = q.cut(results, q.start, true)
	}
	if q.end != nil {
		results = q.cut(results, q.end, false)
	}
	if q.limit > 0 && len(results) > q.limit {
		results = results[:q.limit]
	}
	return results, nil
}

func (q *query) matches(id string, doc docdb.Document) (bool, error) {
	for _, f := range q.filters {
		value, present := lookupSnapshotField(id, doc, f.field)
		switch f.op {
		case docdb.OpEqual:
			if !present || compareValues(value, f.value) != 0 {
				return false, nil
			}
		case docdb.OpNotEqual:
			if !present || compareValues(value, f.value) == 0 {
				return false, nil
			}
		case docdb.OpLessThan:
			if !present || compareValues(value, f.value) >= 0 {
				return false, nil
			}
		case docdb.OpLessOrEqual:
			if !present || compareValues(value, f.value) > 0 {
				return false, nil
			}
		case docdb.OpGreaterThan:
			if !present || compareValues(value, f.value) <= 0 {
				return false, nil
			}
		case docdb.OpGreaterOrEqual:
			if !present || compareValues(value, f.value) < 0 {
				return false, nil
			}
		case docdb.OpArrayContains:
			arr, ok := value.([]any)
			if !present || !ok {
				return false, nil
			}
			found := false
			for _, element := range arr {
				if compareValues(element, f.value) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		case docdb.OpIn:
			candidates, ok := f.value.([]any)
			if !ok {
				return false, docdb.Errorf(docdb.CodeInvalidArgument, "operator %q requires a list value", f.op)
			}
			if !present {
				return false, nil
			}
			found := false
			for _, candidate := range candidates {
				if compareValues(value, candidate) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		default:
			return false, docdb.Errorf(docdb.CodeInvalidArgument, "unsupported operator %q", f.op)
		}
	}
	return true, nil
}

// less orders snapshots by the order clauses, breaking ties by ID.
func (q *query) less(a, b snapshot) bool {
	for _, o := range q.orders {
		av, _ := lookupSnapshotField(a.id, a.doc, o.field)
		bv, _ := lookupSnapshotField(b.id, b.doc, o.field)
		cmp := compareValues(av, bv)
		if cmp == 0 {
			continue
		}
		if o.descending {
			return cmp > 0
		}
		return cmp < 0
	}
	return a.id < b.id
}

// cut applies a start or end boundary against the order-field values.
func (q *query) cut(results []snapshot, b *boundary, isStart bool) []snapshot {
	out := make([]snapshot, 0, len(results))
	for _, s := range results {
		cmp := q.compareBoundary(s, b.values)
		keep := false
		switch {
		case isStart && b.inclusive:
			keep = cmp >= 0
		case isStart:
			keep = cmp > 0
		case b.inclusive:
			keep = cmp <= 0
		default:
			keep = cmp < 0
		}
		if keep {
			out = append(out, s)
		}
	}
	return out
}

func (q *query) compareBoundary(s snapshot, values []any) int {
	for i, value := range values {
		if i >= len(q.orders) {
			break
		}
		o := q.orders[i]
		fieldValue, _ := lookupSnapshotField(s.id, s.doc, o.field)
		cmp := compareValues(fieldValue, value)
		if o.descending {
			cmp = -cmp
		}
		if cmp != 0 {
			return cmp
		}
	}
	return 0
}

// lookupSnapshotField resolves a field path, treating the ID pseudo field
// as the document ID.
func lookupSnapshotField(id string, doc docdb.Document, path string) (any, bool) {
	if path == docdb.FieldID {
		return id, true
	}
	return lookupField(doc, path)
}

// lookupField resolves a dotted field path against nested maps.
func lookupField(doc docdb.Document, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var current any = doc
	for _, segment := range segments {
		m, ok := current.(docdb.Document)
		if !ok {
			if plain, isMap := current.(map[string]any); isMap {
				m = plain
			} else {
				return nil, false
			}
		}
		value, present := m[segment]
		if !present {
			return nil, false
		}
		current = value
	}
	return current, true
}

// compareValues totally orders the document value model: numerics together,
// then by type, then by value.
func compareValues(a, b any) int {
	an, aNum := asNumber(a)
	bn, bNum := asNumber(b)
	if aNum && bNum {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}

	at, aTime := a.(time.Time)
	bt, bTime := b.(time.Time)
	if aTime && bTime {
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		default:
			return 0
		}
	}

	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return strings.Compare(as, bs)
	}

	ab, aBool := a.(bool)
	bb, bBool := b.(bool)
	if aBool && bBool {
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	}

	// Mixed or unordered types: fall back to a stable representation.
	return strings.Compare(fmt.Sprintf("%T:%v", a, a), fmt.Sprintf("%T:%v", b, b))
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// cursor iterates a snapshot slice.
type cursor struct {
	results []snapshot
	index   int
}

// Next advances the cursor.
func (c *cursor) Next(ctx context.Context) bool {
	if c.index+1 >= len(c.results) {
		return false
	}
	c.index++
	return true
}

// Current returns the ID and payload of the current document.
func (c *cursor) Current() (string, docdb.Document) {
	s := c.results[c.index]
	return s.id, s.doc
}

// Err returns any cursor error.
func (c *cursor) Err() error {
	return nil
}

// Close closes the cursor.
func (c *cursor) Close(ctx context.Context) error {
	return nil
}
