// Package mongodb provides the write batch built on bulk writes.
package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/docbridge/docbridge/internal/core/docdb"
)

type stagedWrite struct {
	collection string
	model      mongo.WriteModel
}

// writeBatch implements docdb.WriteBatch. Commit groups staged writes by
// collection and issues one ordered BulkWrite per group, so atomicity holds
// within a collection only.
type writeBatch struct {
	db     *mongo.Database
	writes []stagedWrite
}

// Create stages an insert that fails if the document already exists.
func (b *writeBatch) Create(collection, id string, doc docdb.Document) {
	payload := resolveForReplace(doc)
	payload["_id"] = id
	b.writes = append(b.writes, stagedWrite{
		collection: collection,
		model:      mongo.NewInsertOneModel().SetDocument(payload),
	})
}

// Set stages a set.
func (b *writeBatch) Set(collection, id string, doc docdb.Document, merge bool) {
	var model mongo.WriteModel
	if merge {
		model = mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": id}).
			SetUpdate(buildUpdateOperators(doc, true)).
			SetUpsert(true)
	} else {
		model = mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": id}).
			SetReplacement(resolveForReplace(doc)).
			SetUpsert(true)
	}
	b.writes = append(b.writes, stagedWrite{collection: collection, model: model})
}

// Update stages a field-level update of an existing document.
func (b *writeBatch) Update(collection, id string, fields docdb.Document) {
	b.writes = append(b.writes, stagedWrite{
		collection: collection,
		model: mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": id}).
			SetUpdate(buildUpdateOperators(fields, false)),
	})
}

// Delete stages a delete.
func (b *writeBatch) Delete(collection, id string) {
	b.writes = append(b.writes, stagedWrite{
		collection: collection,
		model:      mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": id}),
	})
}

// Len reports the number of staged writes.
func (b *writeBatch) Len() int {
	return len(b.writes)
}

// Commit applies all staged writes.
func (b *writeBatch) Commit(ctx context.Context) error {
	if len(b.writes) == 0 {
		return nil
	}
	if len(b.writes) > docdb.MaxBatchWrites {
		return docdb.Errorf(docdb.CodeInvalidArgument, "batch holds %d writes, limit is %d", len(b.writes), docdb.MaxBatchWrites)
	}

	grouped := make(map[string][]mongo.WriteModel)
	order := make([]string, 0)
	for _, w := range b.writes {
		if _, seen := grouped[w.collection]; !seen {
			order = append(order, w.collection)
		}
		grouped[w.collection] = append(grouped[w.collection], w.model)
	}

	opts := options.BulkWrite().SetOrdered(true)
	for _, name := range order {
		if _, err := b.db.Collection(name).BulkWrite(ctx, grouped[name], opts); err != nil {
			return mapError(err, "batch commit")
		}
	}
	return nil
}
