package validate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	domainerrors "github.com/docbridge/docbridge/internal/domain/errors"
	"github.com/docbridge/docbridge/internal/pkg/validate"
)

func TestCollectionPath(t *testing.T) {
	assert.NoError(t, validate.CollectionPath("users"))
	assert.NoError(t, validate.CollectionPath("tenants/acme/users"))

	assert.True(t, domainerrors.IsValidation(validate.CollectionPath("")))
	assert.True(t, domainerrors.IsValidation(validate.CollectionPath("/users")))
	assert.True(t, domainerrors.IsValidation(validate.CollectionPath("users/")))
	assert.True(t, domainerrors.IsValidation(validate.CollectionPath("tenants//users")))
}

func TestDocumentID(t *testing.T) {
	assert.NoError(t, validate.DocumentID("abc-123"))

	assert.True(t, domainerrors.IsValidation(validate.DocumentID("")))
	assert.True(t, domainerrors.IsValidation(validate.DocumentID("a/b")))
}

func TestFieldName(t *testing.T) {
	assert.NoError(t, validate.FieldName("name"))
	assert.NoError(t, validate.FieldName("data.nested"))

	assert.True(t, domainerrors.IsValidation(validate.FieldName("")))
}

func TestRefKey(t *testing.T) {
	assert.NoError(t, validate.RefKey("userId"))

	assert.True(t, domainerrors.IsValidation(validate.RefKey("")))
	assert.True(t, domainerrors.IsValidation(validate.RefKey("user.id")))
}
