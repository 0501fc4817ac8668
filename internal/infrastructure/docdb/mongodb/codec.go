// Package mongodb provides the translation between the docdb value model
// and BSON: sentinel write values into update operators, and BSON wrapper
// types back into plain Go values on read.
package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/docbridge/docbridge/internal/core/docdb"
)

// buildUpdateOperators turns a fields map (possibly holding sentinel values
// and dotted paths) into a MongoDB update document. With flatten set,
// nested maps become dotted paths so the write merges instead of replacing
// whole subtrees.
func buildUpdateOperators(fields docdb.Document, flatten bool) bson.M {
	set := bson.M{}
	unset := bson.M{}
	inc := bson.M{}
	addToSet := bson.M{}
	pullAll := bson.M{}
	currentDate := bson.M{}

	var walk func(prefix string, doc docdb.Document)
	walk = func(prefix string, doc docdb.Document) {
		for key, value := range doc {
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			switch typed := value.(type) {
			case docdb.IncrementValue:
				inc[path] = typed.Amount
			case docdb.ArrayUnionValue:
				addToSet[path] = bson.M{"$each": typed.Elements}
			case docdb.ArrayRemoveValue:
				pullAll[path] = typed.Elements
			default:
				if docdb.IsServerTimestamp(value) {
					currentDate[path] = true
					continue
				}
				if docdb.IsDeleteField(value) {
					unset[path] = ""
					continue
				}
				if nested, ok := asDocument(value); ok && flatten {
					walk(path, nested)
					continue
				}
				set[path] = encodeValue(value)
			}
		}
	}
	walk("", fields)

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	if len(addToSet) > 0 {
		update["$addToSet"] = addToSet
	}
	if len(pullAll) > 0 {
		update["$pullAll"] = pullAll
	}
	if len(currentDate) > 0 {
		update["$currentDate"] = currentDate
	}
	if len(update) == 0 {
		// MongoDB rejects empty update documents; unsetting a field that
		// never exists touches nothing.
		update["$unset"] = bson.M{"__noop__": ""}
	}
	return update
}

// resolveForReplace resolves sentinel values client-side for full-document
// writes, where update operators are not available. Server timestamps
// degrade to the client clock here.
func resolveForReplace(doc docdb.Document) bson.M {
	out := bson.M{}
	for key, value := range doc {
		switch typed := value.(type) {
		case docdb.IncrementValue:
			out[key] = typed.Amount
		case docdb.ArrayUnionValue:
			out[key] = typed.Elements
		case docdb.ArrayRemoveValue:
			// Removing from a document being fully replaced leaves nothing.
			out[key] = []any{}
		default:
			if docdb.IsServerTimestamp(value) {
				out[key] = time.Now().UTC()
				continue
			}
			if docdb.IsDeleteField(value) {
				continue
			}
			if nested, ok := asDocument(value); ok {
				out[key] = resolveForReplace(nested)
				continue
			}
			out[key] = encodeValue(value)
		}
	}
	return out
}

func asDocument(v any) (docdb.Document, bool) {
	switch typed := v.(type) {
	case map[string]any:
		return typed, true
	default:
		return nil, false
	}
}

func encodeValue(v any) any {
	switch typed := v.(type) {
	case []any:
		out := make([]any, len(typed))
		for i, element := range typed {
			out[i] = encodeValue(element)
		}
		return out
	default:
		return v
	}
}

// normalizeDocument recursively converts BSON wrapper types into the plain
// docdb value model.
func normalizeDocument(raw bson.M) docdb.Document {
	out := make(docdb.Document, len(raw))
	for key, value := range raw {
		out[key] = normalizeValue(value)
	}
	return out
}

func normalizeValue(v any) any {
	switch typed := v.(type) {
	case primitive.DateTime:
		return typed.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(typed.T), 0).UTC()
	case primitive.ObjectID:
		return typed.Hex()
	case primitive.Decimal128:
		return typed.String()
	case primitive.A:
		out := make([]any, len(typed))
		for i, element := range typed {
			out[i] = normalizeValue(element)
		}
		return out
	case bson.M:
		return normalizeDocument(typed)
	case bson.D:
		m := make(docdb.Document, len(typed))
		for _, element := range typed {
			m[element.Key] = normalizeValue(element.Value)
		}
		return m
	case time.Time:
		return typed.UTC()
	default:
		return v
	}
}

// mapError converts driver errors into coded docdb errors.
func mapError(err error, operation string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return docdb.NewError(docdb.CodeNotFound, operation+" matched no document", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) {
		return docdb.NewError(docdb.CodeDeadlineExceeded, operation+" timed out", err)
	}
	if mongo.IsDuplicateKeyError(err) {
		return docdb.NewError(docdb.CodeAlreadyExists, operation+" hit a duplicate key", err)
	}
	if mongo.IsNetworkError(err) {
		return docdb.NewError(docdb.CodeUnavailable, operation+" failed to reach the server", err)
	}

	var labeled mongo.ServerError
	if errors.As(err, &labeled) {
		if labeled.HasErrorLabel("TransientTransactionError") || labeled.HasErrorLabel("UnknownTransactionCommitResult") {
			return docdb.NewError(docdb.CodeAborted, operation+" aborted", err)
		}
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Code {
		case 50: // MaxTimeMSExpired
			return docdb.NewError(docdb.CodeDeadlineExceeded, operation+" timed out", err)
		case 13: // Unauthorized
			return docdb.NewError(docdb.CodePermissionDenied, operation+" not authorized", err)
		}
	}

	return docdb.NewError(docdb.CodeInternal, operation+" failed", err)
}
