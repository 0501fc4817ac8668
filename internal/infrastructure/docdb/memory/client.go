// Package memory provides an in-process implementation of the docdb
// interfaces. It backs package tests and local development, mirroring the
// semantics of the production backend: coded errors, sentinel write values,
// dotted field paths, query evaluation and serialized transactions.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/docbridge/docbridge/internal/core/docdb"
)

// Client implements docdb.Client backed by process memory.
type Client struct {
	mu          sync.Mutex
	collections map[string]map[string]docdb.Document
	closed      bool

	// failures is a queue of coded errors returned by upcoming operations,
	// used by tests to simulate transient backend failures.
	failures []docdb.Code

	// now is the clock used for server timestamps; replaceable in tests.
	now func() time.Time

	db *database
}

// NewClient creates an empty in-memory client.
func NewClient() *Client {
	c := &Client{
		collections: make(map[string]map[string]docdb.Document),
		now:         time.Now,
	}
	c.db = &database{client: c}
	return c
}

// Database returns the database interface.
func (c *Client) Database() docdb.Database {
	return c.db
}

// Ping verifies the client has not been closed.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return docdb.Errorf(docdb.CodeUnavailable, "client is closed")
	}
	return nil
}

// Close closes the client. Further operations fail with UNAVAILABLE.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// FailNext arranges for the next n operations to fail with the given code.
func (c *Client) FailNext(code docdb.Code, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.failures = append(c.failures, code)
	}
}

// SetClock replaces the server-timestamp clock.
func (c *Client) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// checkFailure pops one injected failure, if any. Caller holds the lock.
func (c *Client) checkFailure() error {
	if c.closed {
		return docdb.Errorf(docdb.CodeUnavailable, "client is closed")
	}
	if len(c.failures) == 0 {
		return nil
	}
	code := c.failures[0]
	c.failures = c.failures[1:]
	return docdb.Errorf(code, "injected failure")
}

// col returns the named collection map, creating it when asked. Caller
// holds the lock.
func (c *Client) col(path string, create bool) map[string]docdb.Document {
	docs, ok := c.collections[path]
	if !ok && create {
		docs = make(map[string]docdb.Document)
		c.collections[path] = docs
	}
	return docs
}

// database implements docdb.Database.
type database struct {
	client *Client
}

// Collection returns a collection by path.
func (d *database) Collection(path string) docdb.Collection {
	return &collection{client: d.client, path: path}
}

// Batch starts an empty write batch.
func (d *database) Batch() docdb.WriteBatch {
	return &writeBatch{client: d.client}
}

// ListCollectionNames lists all non-empty collection names, sorted.
func (d *database) ListCollectionNames(ctx context.Context) ([]string, error) {
	d.client.mu.Lock()
	defer d.client.mu.Unlock()
	if err := d.client.checkFailure(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(d.client.collections))
	for name, docs := range d.client.collections {
		if len(docs) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
