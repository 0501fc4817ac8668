// Package transaction implements atomic multi-document operations on top of
// the backend transaction primitive.
package transaction

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/docbridge/docbridge/internal/connection"
	"github.com/docbridge/docbridge/internal/core/docdb"
	domainerrors "github.com/docbridge/docbridge/internal/domain/errors"
	"github.com/docbridge/docbridge/internal/domain/models"
	"github.com/docbridge/docbridge/internal/pkg/retry"
	"github.com/docbridge/docbridge/internal/pkg/sanitize"
	"github.com/docbridge/docbridge/internal/pkg/validate"
)

// Service exposes the transactional operations.
type Service struct {
	conn     *connection.Manager
	executor *retry.Executor
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates the transaction service.
func New(conn *connection.Manager, executor *retry.Executor, logger zerolog.Logger) *Service {
	return &Service{
		conn:     conn,
		executor: executor,
		logger:   logger.With().Str("service", "transaction").Logger(),
		now:      time.Now,
	}
}

// SetClock overrides the timestamp source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Run executes fn inside a transaction. Errors returned by fn abort the
// transaction and surface unchanged.
func (s *Service) Run(ctx context.Context, fn func(tx docdb.Tx) error) error {
	if fn == nil {
		return domainerrors.NewValidation("transaction function is required")
	}
	err := s.executor.Do(ctx, "transaction.run", func(ctx context.Context) error {
		db, err := s.conn.Handle(ctx)
		if err != nil {
			return err
		}
		return db.RunTransaction(ctx, fn)
	})
	if err != nil {
		if _, ok := domainerrors.GetError(err); ok {
			return err
		}
		return domainerrors.NewTransaction("transaction failed", err)
	}
	return nil
}

// Increment atomically adds delta to a numeric field and returns the new
// value. A missing document or field starts from zero.
func (s *Service) Increment(ctx context.Context, collection, id, field string, delta float64) (float64, error) {
	if err := validateTarget(collection, id, field); err != nil {
		return 0, err
	}

	var value float64
	err := s.Run(ctx, func(tx docdb.Tx) error {
		current, err := s.readNumber(tx, collection, id, field)
		if err != nil {
			return err
		}
		value = current + delta
		return tx.Set(collection, id, docdb.Document{field: value}, true)
	})
	return value, err
}

// Decrement atomically subtracts delta from a numeric field and returns the
// new value. The transaction fails without writing when the result would
// fall below floor.
func (s *Service) Decrement(ctx context.Context, collection, id, field string, delta, floor float64) (float64, error) {
	if err := validateTarget(collection, id, field); err != nil {
		return 0, err
	}

	var value float64
	err := s.Run(ctx, func(tx docdb.Tx) error {
		current, err := s.readNumber(tx, collection, id, field)
		if err != nil {
			return err
		}
		next := current - delta
		if next < floor {
			return domainerrors.NewTransaction("decrement would fall below floor", nil).
				With("collection", collection).With("id", id).With("field", field).
				With("current", current).With("delta", delta).With("floor", floor)
		}
		value = next
		return tx.Set(collection, id, docdb.Document{field: value}, true)
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

// Transfer atomically moves amount from one document's field to another's.
// The source must hold at least the amount; both sides carry the same
// transfer timestamp.
func (s *Service) Transfer(ctx context.Context, collection, fromID, toID, field string, amount float64) error {
	if err := validateTarget(collection, fromID, field); err != nil {
		return err
	}
	if err := validate.DocumentID(toID); err != nil {
		return err
	}
	if amount <= 0 {
		return domainerrors.NewValidation("transfer amount must be positive").With("amount", amount)
	}
	if fromID == toID {
		return domainerrors.NewValidation("transfer source and destination are the same").With("id", fromID)
	}

	return s.Run(ctx, func(tx docdb.Tx) error {
		fromValue, err := s.readNumber(tx, collection, fromID, field)
		if err != nil {
			return err
		}
		toValue, err := s.readNumber(tx, collection, toID, field)
		if err != nil {
			return err
		}
		if fromValue < amount {
			return domainerrors.New(domainerrors.KindTransaction, "insufficient balance").
				With("collection", collection).With("id", fromID).
				With("balance", fromValue).With("amount", amount)
		}

		at := s.now()
		if err := tx.Set(collection, fromID, docdb.Document{field: fromValue - amount, "transferredAt": at}, true); err != nil {
			return err
		}
		return tx.Set(collection, toID, docdb.Document{field: toValue + amount, "transferredAt": at}, true)
	})
}

// ConditionalUpdate applies fields only when condition approves the current
// document. It returns whether the update was applied.
func (s *Service) ConditionalUpdate(ctx context.Context, collection, id string, condition func(docdb.Document) bool, fields docdb.Document) (bool, error) {
	if err := validateTarget(collection, id, ""); err != nil {
		return false, err
	}
	if condition == nil {
		return false, domainerrors.NewValidation("condition function is required")
	}
	cleaned, err := sanitize.Clean(fields)
	if err != nil {
		return false, err
	}

	applied := false
	err = s.Run(ctx, func(tx docdb.Tx) error {
		doc, err := tx.Get(collection, id)
		if err != nil {
			if docdb.IsNotFound(err) {
				return domainerrors.NewNotFound(collection, id)
			}
			return err
		}
		applied = false
		if !condition(doc) {
			return nil
		}
		if err := tx.Update(collection, id, cleaned); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// ReadModifyWrite reads the document, passes it to modify, and writes back
// whatever modify returns, all atomically. Returning nil from modify leaves
// the document unchanged.
func (s *Service) ReadModifyWrite(ctx context.Context, collection, id string, modify func(docdb.Document) (docdb.Document, error)) error {
	if err := validateTarget(collection, id, ""); err != nil {
		return err
	}
	if modify == nil {
		return domainerrors.NewValidation("modify function is required")
	}

	return s.Run(ctx, func(tx docdb.Tx) error {
		doc, err := tx.Get(collection, id)
		if err != nil {
			if docdb.IsNotFound(err) {
				return domainerrors.NewNotFound(collection, id)
			}
			return err
		}
		next, err := modify(doc)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		cleaned, err := sanitize.Clean(next)
		if err != nil {
			return err
		}
		return tx.Set(collection, id, cleaned, false)
	})
}

// CompareAndSwap sets field to newValue only when its current value equals
// expected. On mismatch Swapped is false and CurrentValue reports what was
// found; the document is untouched.
func (s *Service) CompareAndSwap(ctx context.Context, collection, id, field string, expected, newValue any) (*models.CASResult, error) {
	if err := validateTarget(collection, id, field); err != nil {
		return nil, err
	}

	result := &models.CASResult{}
	err := s.Run(ctx, func(tx docdb.Tx) error {
		doc, err := tx.Get(collection, id)
		if err != nil {
			if docdb.IsNotFound(err) {
				return domainerrors.NewNotFound(collection, id)
			}
			return err
		}
		current := doc[field]
		if !valuesEqual(current, expected) {
			result.Swapped = false
			result.CurrentValue = current
			return nil
		}
		if err := tx.Set(collection, id, docdb.Document{field: newValue}, true); err != nil {
			return err
		}
		result.Swapped = true
		result.CurrentValue = newValue
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// readNumber reads a numeric field inside a transaction, treating a missing
// document or field as zero.
func (s *Service) readNumber(tx docdb.Tx, collection, id, field string) (float64, error) {
	doc, err := tx.Get(collection, id)
	if err != nil {
		if docdb.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	raw, ok := doc[field]
	if !ok || raw == nil {
		return 0, nil
	}
	value, ok := asNumber(raw)
	if !ok {
		return 0, domainerrors.NewValidation("field is not numeric").
			With("collection", collection).With("id", id).With("field", field).
			With("type", fmt.Sprintf("%T", raw))
	}
	return value, nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// valuesEqual compares with numeric coercion so int64(3) matches 3.0.
func valuesEqual(a, b any) bool {
	if an, ok := asNumber(a); ok {
		if bn, ok := asNumber(b); ok {
			return an == bn
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func validateTarget(collection, id, field string) error {
	if err := validate.CollectionPath(collection); err != nil {
		return err
	}
	if err := validate.DocumentID(id); err != nil {
		return err
	}
	if field != "" {
		return validate.FieldName(field)
	}
	return nil
}
