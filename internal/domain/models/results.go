// Package models holds the operation result shapes.
package models

import (
	domainerrors "github.com/docbridge/docbridge/internal/domain/errors"
)

// BatchResult reports the outcome of a chunked batch operation. Partial
// failure is a normal return: Success is false and Failed is populated, but
// no error is raised unless every item failed.
type BatchResult struct {
	Success bool                       `json:"success"`
	Count   int                        `json:"count"`
	IDs     []string                   `json:"ids,omitempty"`
	Failed  []domainerrors.ItemFailure `json:"failed,omitempty"`
}

// Toggle actions.
const (
	ToggleCreated = "created"
	ToggleDeleted = "deleted"
)

// ToggleResult reports what a relation toggle did.
type ToggleResult struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

// FindOrCreateResult reports a relational lookup-or-create.
type FindOrCreateResult struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// CASResult reports a compare-and-swap. On mismatch Swapped is false and
// CurrentValue carries the stored value.
type CASResult struct {
	Swapped      bool `json:"swapped"`
	CurrentValue any  `json:"currentValue,omitempty"`
}

// MigrationResult reports a collection-scan migration. Per-document
// failures accumulate in Failed without aborting the scan.
type MigrationResult struct {
	Processed int                        `json:"processed"`
	Failed    []domainerrors.ItemFailure `json:"failed,omitempty"`
}

// DocumentValidation is the per-document outcome of a validation scan.
type DocumentValidation struct {
	ID     string   `json:"id"`
	Errors []string `json:"errors"`
}

// ValidationReport tallies a read-only migration validation.
type ValidationReport struct {
	Total   int                  `json:"total"`
	Valid   int                  `json:"valid"`
	Invalid []DocumentValidation `json:"invalid,omitempty"`
}
