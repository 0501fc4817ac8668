// Package memory provides the in-memory transaction support.
package memory

import (
	"context"

	"github.com/docbridge/docbridge/internal/core/docdb"
)

// RunTransaction executes fn with writes staged until fn returns nil.
// Transactions are serialized under the client lock, so a committed
// transaction is never interleaved with other operations.
func (d *database) RunTransaction(ctx context.Context, fn func(tx docdb.Tx) error) error {
	d.client.mu.Lock()
	defer d.client.mu.Unlock()
	if err := d.client.checkFailure(); err != nil {
		return err
	}

	t := &txn{client: d.client}
	if err := fn(t); err != nil {
		return err
	}
	return t.commit()
}

type txnWrite struct {
	op batchOp
}

// txn implements docdb.Tx. Reads see staged writes from the same
// transaction.
type txn struct {
	client *Client
	writes []txnWrite
}

// Get reads a document within the transaction.
func (t *txn) Get(path, id string) (docdb.Document, error) {
	// Later staged writes shadow earlier ones and the store.
	for i := len(t.writes) - 1; i >= 0; i-- {
		w := t.writes[i].op
		if w.collection != path || w.id != id {
			continue
		}
		switch w.kind {
		case opDelete:
			return nil, docdb.Errorf(docdb.CodeNotFound, "document %s/%s does not exist", path, id)
		case opSet, opCreate:
			return copyDocument(w.doc), nil
		}
	}
	col := &collection{client: t.client, path: path}
	return col.getLocked(id)
}

// Set stages a set within the transaction.
func (t *txn) Set(collection, id string, doc docdb.Document, merge bool) error {
	kind := opSet
	if merge {
		kind = opSetMerge
	}
	t.writes = append(t.writes, txnWrite{op: batchOp{kind: kind, collection: collection, id: id, doc: copyDocument(doc)}})
	return nil
}

// Update stages a field-level update within the transaction.
func (t *txn) Update(collection, id string, fields docdb.Document) error {
	t.writes = append(t.writes, txnWrite{op: batchOp{kind: opUpdate, collection: collection, id: id, doc: copyDocument(fields)}})
	return nil
}

// Delete stages a delete within the transaction.
func (t *txn) Delete(collection, id string) error {
	t.writes = append(t.writes, txnWrite{op: batchOp{kind: opDelete, collection: collection, id: id}})
	return nil
}

// commit applies staged writes in order. Caller holds the client lock.
func (t *txn) commit() error {
	for _, w := range t.writes {
		op := w.op
		col := &collection{client: t.client, path: op.collection}
		switch op.kind {
		case opCreate:
			if err := col.createLocked(op.id, op.doc); err != nil {
				return err
			}
		case opSet:
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
