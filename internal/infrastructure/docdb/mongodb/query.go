// Package mongodb provides the query translation into MongoDB filters.
package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

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

// query implements docdb.Query on a MongoDB collection. Cursor boundaries
// are translated into range clauses on the order fields (keyset
// pagination).
type query struct {
	coll    *mongo.Collection
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

func (q *query) buildFilter() (bson.M, error) {
	conditions := make([]bson.M, 0, len(q.filters)+2)
	for _, f := range q.filters {
		var clause bson.M
		switch f.op {
		case docdb.OpEqual:
			clause = bson.M{f.field: bson.M{"$eq": f.value}}
		case docdb.OpNotEqual:
			clause = bson.M{f.field: bson.M{"$ne": f.value}}
		case docdb.OpLessThan:
			clause = bson.M{f.field: bson.M{"$lt": f.value}}
		case docdb.OpLessOrEqual:
			clause = bson.M{f.field: bson.M{"$lte": f.value}}
		case docdb.OpGreaterThan:
			clause = bson.M{f.field: bson.M{"$gt": f.value}}
		case docdb.OpGreaterOrEqual:
			clause = bson.M{f.field: bson.M{"$gte": f.value}}
		case docdb.OpArrayContains:
			// Equality against an array field matches membership.
			clause = bson.M{f.field: bson.M{"$eq": f.value}}
		case docdb.OpIn:
			clause = bson.M{f.field: bson.M{"$in": f.value}}
		default:
			return nil, docdb.Errorf(docdb.CodeInvalidArgument, "unsupported operator %q", f.op)
		}
		conditions = append(conditions, clause)
	}

	if boundaryClause := q.boundaryFilter(q.start, true); boundaryClause != nil {
		conditions = append(conditions, boundaryClause)
	}
	if boundaryClause := q.boundaryFilter(q.end, false); boundaryClause != nil {
		conditions = append(conditions, boundaryClause)
	}

	switch len(conditions) {
	case 0:
		return bson.M{}, nil
	case 1:
		return conditions[0], nil
	default:
		return bson.M{"$and": conditions}, nil
	}
}

// boundaryFilter translates a cursor boundary into a range clause on the
// first order field. Boundaries without an order clause are ignored.
func (q *query) boundaryFilter(b *boundary, isStart bool) bson.M {
	if b == nil || len(b.values) == 0 || len(q.orders) == 0 {
		return nil
	}
	o := q.orders[0]
	op := "$gt"
	switch {
	case isStart && b.inclusive:
		op = "$gte"
	case !isStart && b.inclusive:
		op = "$lte"
	case !isStart:
		op = "$lt"
	}
	if o.descending {
		switch op {
		case "$gt":
			op = "$lt"
		case "$gte":
			op = "$lte"
		case "$lt":
			op = "$gt"
		case "$lte":
			op = "$gte"
		}
	}
	return bson.M{o.field: bson.M{op: b.values[0]}}
}

// Documents executes the query and returns a cursor.
func (q *query) Documents(ctx context.Context) (docdb.Cursor, error) {
	filter, err := q.buildFilter()
	if err != nil {
		return nil, err
	}

	findOpts := options.Find()
	if len(q.orders) > 0 {
		sortDoc := bson.D{}
		for _, o := range q.orders {
			direction := 1
			if o.descending {
				direction = -1
			}
			sortDoc = append(sortDoc, bson.E{Key: o.field, Value: direction})
		}
		findOpts.SetSort(sortDoc)
	}
	if q.limit > 0 {
		findOpts.SetLimit(int64(q.limit))
	}

	raw, err := q.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, mapError(err, "query")
	}
	return &cursor{cursor: raw}, nil
}

// Count returns the server-side count of matching documents.
func (q *query) Count(ctx context.Context) (int64, error) {
	filter, err := q.buildFilter()
	if err != nil {
		return 0, err
	}
	count, err := q.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, mapError(err, "count")
	}
	return count, nil
}

// cursor wraps a MongoDB cursor, normalizing each document.
type cursor struct {
	cursor  *mongo.Cursor
	current docdb.Document
	id      string
	err     error
}

// Next advances the cursor.
func (c *cursor) Next(ctx context.Context) bool {
	if !c.cursor.Next(ctx) {
		return false
	}
	var raw bson.M
	if err := c.cursor.Decode(&raw); err != nil {
		c.err = mapError(err, "decode")
		return false
	}
	doc := normalizeDocument(raw)
	if id, ok := doc["_id"].(string); ok {
		c.id = id
	} else {
		c.id = ""
	}
	delete(doc, "_id")
	c.current = doc
	return true
}

// Current returns the ID and payload of the current document.
func (c *cursor) Current() (string, docdb.Document) {
	return c.id, c.current
}

// Err returns any cursor error.
func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	if err := c.cursor.Err(); err != nil {
		return mapError(err, "cursor")
	}
	return nil
}

// Close closes the cursor.
func (c *cursor) Close(ctx context.Context) error {
	return c.cursor.Close(ctx)
}
