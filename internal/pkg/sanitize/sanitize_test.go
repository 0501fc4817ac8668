package sanitize_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbridge/docbridge/internal/core/docdb"
	domainerrors "github.com/docbridge/docbridge/internal/domain/errors"
	"github.com/docbridge/docbridge/internal/pkg/sanitize"
)

func TestClean_DropsNilFields(t *testing.T) {
	cleaned, err := sanitize.Clean(docdb.Document{
		"name":   "ada",
		"gone":   nil,
		"nested": map[string]any{"keep": 1, "drop": nil},
	})
	require.NoError(t, err)

	assert.Equal(t, "ada", cleaned["name"])
	_, has := cleaned["gone"]
	assert.False(t, has)
	nested := cleaned["nested"].(docdb.Document)
	assert.Equal(t, 1, nested["keep"])
	_, has = nested["drop"]
	assert.False(t, has)
}

func TestClean_DeepCopies(t *testing.T) {
	original := docdb.Document{
		"tags":   []any{"a", "b"},
		"nested": map[string]any{"k": "v"},
	}
	cleaned, err := sanitize.Clean(original)
	require.NoError(t, err)

	cleaned["tags"].([]any)[0] = "mutated"
	cleaned["nested"].(docdb.Document)["k"] = "mutated"

	assert.Equal(t, "a", original["tags"].([]any)[0])
	assert.Equal(t, "v", original["nested"].(map[string]any)["k"])
}

func TestClean_NilDocument(t *testing.T) {
	cleaned, err := sanitize.Clean(nil)
	require.NoError(t, err)
	assert.NotNil(t, cleaned)
	assert.Empty(t, cleaned)
}

func TestClean_SentinelsPassThrough(t *testing.T) {
	cleaned, err := sanitize.Clean(docdb.Document{
		"stamp": docdb.ServerTimestamp,
		"count": docdb.Increment(1),
	})
	require.NoError(t, err)

	assert.True(t, docdb.IsServerTimestamp(cleaned["stamp"]))
	assert.Equal(t, docdb.Increment(1), cleaned["count"])
}

func TestClean_RejectsMapCycle(t *testing.T) {
	doc := docdb.Document{}
	doc["self"] = doc

	_, err := sanitize.Clean(doc)
	assert.True(t, domainerrors.IsValidation(err))
}

func TestClean_RejectsSliceCycle(t *testing.T) {
	inner := map[string]any{}
	s := []any{inner}
	inner["loop"] = s
	doc := docdb.Document{"items": s}

	_, err := sanitize.Clean(doc)
	assert.True(t, domainerrors.IsValidation(err))
}

func TestClean_SharedSubtreeIsNotACycle(t *testing.T) {
	shared := map[string]any{"v": 1}
	doc := docdb.Document{"a": shared, "b": shared}

	cleaned, err := sanitize.Clean(doc)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned["a"].(docdb.Document)["v"])
	assert.Equal(t, 1, cleaned["b"].(docdb.Document)["v"])
}
