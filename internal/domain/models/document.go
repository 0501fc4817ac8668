// Package models holds the document shapes and operation results shared by
// the services.
package models

import (
	"time"

	"github.com/docbridge/docbridge/internal/core/docdb"
)

// Record is a document read back from the database.
type Record struct {
	ID   string         `json:"id"`
	Data docdb.Document `json:"data"`
}

// RelationalRecord is a document stored in the relational convention:
// user payload under data, foreign-key-style string pointers under refs,
// and server-maintained timestamps.
type RelationalRecord struct {
	ID        string            `json:"id"`
	Data      docdb.Document    `json:"data"`
	Refs      map[string]string `json:"refs"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Field names of the relational document shape.
const (
	FieldData      = "data"
	FieldRefs      = "refs"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Filter is one query clause.
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// QueryOptions combines every query knob for QueryWithOptions.
type QueryOptions struct {
	Filters    []Filter `json:"filters"`
	OrderBy    string   `json:"orderBy"`
	Descending bool     `json:"descending"`
	Limit      int      `json:"limit"`
	StartAfter []any    `json:"startAfter"`
	StartAt    []any    `json:"startAt"`
	EndAt      []any    `json:"endAt"`
	EndBefore  []any    `json:"endBefore"`
}

// Page is one page of a paginated query.
type Page struct {
	Records []Record `json:"records"`
	HasMore bool     `json:"hasMore"`
}

// RelationalPage is one page of a paginated relational query.
type RelationalPage struct {
	Records []RelationalRecord `json:"records"`
	HasMore bool               `json:"hasMore"`
}
