// Package memory provides the in-memory write batch.
package memory

import (
	"context"

	"github.com/docbridge/docbridge/internal/core/docdb"
)

type batchOpKind int

const (
	opCreate batchOpKind = iota
	opSet
	opSetMerge
	opUpdate
	opDelete
)

type batchOp struct {
	kind       batchOpKind
	collection string
	id         string
	doc        docdb.Document
}

// writeBatch implements docdb.WriteBatch. Commit validates every staged
// write before applying any, so a batch is all-or-nothing.
type writeBatch struct {
	client *Client
	ops    []batchOp
}

// Create stages an insert that fails if the document already exists.
func (b *writeBatch) Create(collection, id string, doc docdb.Document) {
	b.ops = append(b.ops, batchOp{kind: opCreate, collection: collection, id: id, doc: copyDocument(doc)})
}

// Set stages a set.
func (b *writeBatch) Set(collection, id string, doc docdb.Document, merge bool) {
	kind := opSet
	if merge {
		kind = opSetMerge
	}
	b.ops = append(b.ops, batchOp{kind: kind, collection: collection, id: id, doc: copyDocument(doc)})
}

// Update stages a field-level update of an existing document.
func (b *writeBatch) Update(collection, id string, fields docdb.Document) {
	b.ops = append(b.ops, batchOp{kind: opUpdate, collection: collection, id: id, doc: copyDocument(fields)})
}

// Delete stages a delete.
func (b *writeBatch) Delete(collection, id string) {
	b.ops = append(b.ops, batchOp{kind: opDelete, collection: collection, id: id})
}

// Len reports the number of staged writes.
func (b *writeBatch) Len() int {
	return len(b.ops)
}

// Commit applies all staged writes atomically.
func (b *writeBatch) Commit(ctx context.Context) error {
	if len(b.ops) > docdb.MaxBatchWrites {
		return docdb.Errorf(docdb.CodeInvalidArgument, "batch holds %d writes, limit is %d", len(b.ops), docdb.MaxBatchWrites)
	}

	b.client.mu.Lock()
	defer b.client.mu.Unlock()
	if err := b.client.checkFailure(); err != nil {
		return err
	}

	// Validate before applying anything.
	for _, op := range b.ops {
		docs := b.client.col(op.collection, false)
		_, exists := docs[op.id]
		switch op.kind {
		case opCreate:
			if exists {
				return docdb.Errorf(docdb.CodeAlreadyExists, "document %s/%s already exists", op.collection, op.id)
			}
		case opUpdate:
			if !exists {
				return docdb.Errorf(docdb.CodeNotFound, "document %s/%s does not exist", op.collection, op.id)
			}
		}
	}

	for _, op := range b.ops {
		col := &collection{client: b.client, path: op.collection}
		switch op.kind {
		case opCreate, opSet:
			col.setLocked(op.id, op.doc, false)
		case opSetMerge:
			col.setLocked(op.id, op.doc, true)
		case opUpdate:
			if err := col.updateLocked(op.id, op.doc); err != nil {
				return err
			}
		case opDelete:
			col.deleteLocked(op.id)
		}
	}
	return nil
}
