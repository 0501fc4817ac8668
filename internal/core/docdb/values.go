// Package docdb provides the sentinel write values.
package docdb

// serverTimestamp is the sentinel asking the database to write its own
// timestamp for the field.
type serverTimestamp struct{}

// deleteField is the sentinel asking the database to remove the field.
type deleteField struct{}

// IncrementValue asks the database to atomically add Amount to the current
// numeric value of the field.
type IncrementValue struct {
	Amount float64
}

// ArrayUnionValue asks the database to append the given elements to the
// array field, skipping elements already present.
type ArrayUnionValue struct {
	Elements []any
}

// ArrayRemoveValue asks the database to remove the given elements from the
// array field.
type ArrayRemoveValue struct {
	Elements []any
}

var (
	// ServerTimestamp marks a field to be set to the server's time.
	ServerTimestamp = serverTimestamp{}

	// DeleteField marks a field for removal on update.
	DeleteField = deleteField{}
)

// Increment builds an atomic numeric increment sentinel.
func Increment(amount float64) IncrementValue {
	return IncrementValue{Amount: amount}
}

// ArrayUnion builds an array-union sentinel.
func ArrayUnion(elements ...any) ArrayUnionValue {
	return ArrayUnionValue{Elements: elements}
}

// ArrayRemove builds an array-remove sentinel.
func ArrayRemove(elements ...any) ArrayRemoveValue {
	return ArrayRemoveValue{Elements: elements}
}

// IsServerTimestamp reports whether v is the server-timestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// IsDeleteField reports whether v is the field-deletion sentinel.
func IsDeleteField(v any) bool {
	_, ok := v.(deleteField)
	return ok
}
