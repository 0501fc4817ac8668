// Package mongodb provides transactions built on driver sessions.
package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/docbridge/docbridge/internal/core/docdb"
)

// RunTransaction executes fn inside a session transaction. The driver
// retries transient aborts and unknown commit results on its own; fn may
// therefore run more than once and must be side-effect free outside its
// transaction writes.
func (d *database) RunTransaction(ctx context.Context, fn func(tx docdb.Tx) error) error {
	session, err := d.client.StartSession()
	if err != nil {
		return mapError(err, "start session")
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		return nil, fn(&txn{db: d.db, ctx: sessCtx})
	})
	if err != nil {
		// Callback errors pass through untouched so failures raised inside
		// the transaction body keep their classification.
		if isDriverError(err) {
			return mapError(err, "transaction")
		}
		return err
	}
	return nil
}

func isDriverError(err error) bool {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return true
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) || mongo.IsDuplicateKeyError(err) {
		return true
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return true
	}
	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) {
		return true
	}
	var bulkErr mongo.BulkWriteException
	return errors.As(err, &bulkErr)
}

// txn implements docdb.Tx over a session context.
type txn struct {
	db  *mongo.Database
	ctx mongo.SessionContext
}

// Get reads a document within the transaction.
func (t *txn) Get(col, id string) (docdb.Document, error) {
	var raw bson.M
	err := t.db.Collection(col).FindOne(t.ctx, bson.M{"_id": id}).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return nil, docdb.Errorf(docdb.CodeNotFound, "document %s/%s does not exist", col, id)
	}
	if err != nil {
		return nil, mapError(err, "transaction get")
	}
	doc := normalizeDocument(raw)
	delete(doc, "_id")
	return doc, nil
}

// Set stages a set within the transaction.
func (t *txn) Set(col, id string, doc docdb.Document, merge bool) error {
	if merge {
		update := buildUpdateOperators(doc, true)
		opts := options.Update().SetUpsert(true)
		if _, err := t.db.Collection(col).UpdateOne(t.ctx, bson.M{"_id": id}, update, opts); err != nil {
			return mapError(err, "transaction set")
		}
		return nil
	}
	payload := resolveForReplace(doc)
	opts := options.Replace().SetUpsert(true)
	if _, err := t.db.Collection(col).ReplaceOne(t.ctx, bson.M{"_id": id}, payload, opts); err != nil {
		return mapError(err, "transaction set")
	}
	return nil
}

// Update stages a field-level update within the transaction.
func (t *txn) Update(col, id string, fields docdb.Document) error {
	update := buildUpdateOperators(fields, false)
	result, err := t.db.Collection(col).UpdateOne(t.ctx, bson.M{"_id": id}, update)
	if err != nil {
		return mapError(err, "transaction update")
	}
	if result.MatchedCount == 0 {
		return docdb.Errorf(docdb.CodeNotFound, "document %s/%s does not exist", col, id)
	}
	return nil
}

// Delete stages a delete within the transaction.
func (t *txn) Delete(col, id string) error {
	if _, err := t.db.Collection(col).DeleteOne(t.ctx, bson.M{"_id": id}); err != nil {
		return mapError(err, "transaction delete")
	}
	return nil
}
