// Package mongodb provides the MongoDB collection and query operations.
package mongodb

import (
	"context"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/docbridge/docbridge/internal/core/docdb"
)

// database implements the docdb.Database interface for MongoDB.
type database struct {
	client *mongo.Client
	db     *mongo.Database
}

// Collection returns a collection by path.
func (d *database) Collection(path string) docdb.Collection {
	return &collection{coll: d.db.Collection(path)}
}

// Batch starts an empty write batch.
func (d *database) Batch() docdb.WriteBatch {
	return &writeBatch{db: d.db}
}

// ListCollectionNames lists all collection names in the database.
func (d *database) ListCollectionNames(ctx context.Context) ([]string, error) {
	names, err := d.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, mapError(err, "list collections")
	}
	return names, nil
}

// collection implements the docdb.Collection interface for MongoDB.
// Documents are stored with their fields at the top level and a string _id.
type collection struct {
	coll *mongo.Collection
}

// Get reads a document by ID.
func (c *collection) Get(ctx context.Context, id string) (docdb.Document, error) {
	var raw bson.M
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return nil, docdb.Errorf(docdb.CodeNotFound, "document %s/%s does not exist", c.coll.Name(), id)
	}
	if err != nil {
		return nil, mapError(err, "get")
	}
	doc := normalizeDocument(raw)
	delete(doc, "_id")
	return doc, nil
}

// Add inserts a document under an auto-generated ID.
func (c *collection) Add(ctx context.Context, doc docdb.Document) (string, error) {
	id := uuid.NewString()
	payload := resolveForReplace(doc)
	payload["_id"] = id
	if _, err := c.coll.InsertOne(ctx, payload); err != nil {
		return "", mapError(err, "add")
	}
	return id, nil
}

// Set writes a document under the given ID.
func (c *collection) Set(ctx context.Context, id string, doc docdb.Document, merge bool) error {
	if merge {
		update := buildUpdateOperators(doc, true)
		opts := options.Update().SetUpsert(true)
		if _, err := c.coll.UpdateOne(ctx, bson.M{"_id": id}, update, opts); err != nil {
			return mapError(err, "set")
		}
		return nil
	}

	payload := resolveForReplace(doc)
	opts := options.Replace().SetUpsert(true)
	if _, err := c.coll.ReplaceOne(ctx, bson.M{"_id": id}, payload, opts); err != nil {
		return mapError(err, "set")
	}
	return nil
}

// Update applies field-level changes to an existing document.
func (c *collection) Update(ctx context.Context, id string, fields docdb.Document) error {
	update := buildUpdateOperators(fields, false)
	result, err := c.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return mapError(err, "update")
	}
	if result.MatchedCount == 0 {
		return docdb.Errorf(docdb.CodeNotFound, "document %s/%s does not exist", c.coll.Name(), id)
	}
	return nil
}

// Delete removes a document. Missing documents are a no-op.
func (c *collection) Delete(ctx context.Context, id string) error {
	if _, err := c.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return mapError(err, "delete")
	}
	return nil
}

// Query starts a query over the collection.
func (c *collection) Query() docdb.Query {
	return &query{coll: c.coll}
}
