// Package adapter assembles one database instance: a connection manager, a
// retry executor, and the operation services built on them. Services are
// constructed lazily and shared; the adapter is safe for concurrent use.
package adapter

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/docbridge/docbridge/internal/connection"
	"github.com/docbridge/docbridge/internal/core/cache"
	domainerrors "github.com/docbridge/docbridge/internal/domain/errors"
	"github.com/docbridge/docbridge/internal/pkg/retry"
	"github.com/docbridge/docbridge/internal/services/batch"
	"github.com/docbridge/docbridge/internal/services/cached"
	"github.com/docbridge/docbridge/internal/services/crud"
	"github.com/docbridge/docbridge/internal/services/migration"
	"github.com/docbridge/docbridge/internal/services/query"
	"github.com/docbridge/docbridge/internal/services/relational"
	"github.com/docbridge/docbridge/internal/services/transaction"
)

// Config assembles one instance.
type Config struct {
	// Factory opens the backend client. Required.
	Factory connection.Factory

	// Pool configures the connection manager.
	Pool connection.Options

	// RetryEnabled wires the retry executor; when false every operation
	// runs exactly once.
	RetryEnabled bool

	// Retry tunes the backoff schedule. Nil takes the defaults.
	Retry *retry.Config

	// CacheStore enables the cached-read service when set.
	CacheStore cache.Cache

	// Cached tunes the cached-read service. Ignored without a CacheStore.
	Cached cached.Config
}

// Adapter is the façade over one database instance.
type Adapter struct {
	name     string
	conn     *connection.Manager
	executor *retry.Executor
	logger   zerolog.Logger

	cacheStore cache.Cache
	cachedCfg  cached.Config

	crudOnce sync.Once
	crudSvc  *crud.Service

	relationalOnce sync.Once
	relationalSvc  *relational.Service

	queryOnce sync.Once
	querySvc  *query.Service

	batchOnce sync.Once
	batchSvc  *batch.Service

	transactionOnce sync.Once
	transactionSvc  *transaction.Service

	migrationOnce sync.Once
	migrationSvc  *migration.Service

	cachedOnce sync.Once
	cachedSvc  *cached.Service
}

// New creates an adapter. The backend connection is opened lazily on first
// use; call Connect to open it eagerly.
func New(name string, cfg Config, logger zerolog.Logger) (*Adapter, error) {
	instanceLogger := logger.With().Str("instance", name).Logger()
	conn, err := connection.New(cfg.Factory, cfg.Pool, instanceLogger)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		name:       name,
		conn:       conn,
		executor:   retry.New(cfg.RetryEnabled, cfg.Retry, instanceLogger),
		logger:     instanceLogger,
		cacheStore: cfg.CacheStore,
		cachedCfg:  cfg.Cached,
	}, nil
}

// Name returns the instance name.
func (a *Adapter) Name() string { return a.name }

// Connect opens the backend connection eagerly.
func (a *Adapter) Connect(ctx context.Context) error {
	_, err := a.conn.Initialize(ctx)
	return err
}

// CRUD returns the document CRUD service.
func (a *Adapter) CRUD() *crud.Service {
	a.crudOnce.Do(func() {
		a.crudSvc = crud.New(a.conn, a.executor, a.logger)
	})
	return a.crudSvc
}

// Relational returns the {data, refs} convention service.
func (a *Adapter) Relational() *relational.Service {
	a.relationalOnce.Do(func() {
		a.relationalSvc = relational.New(a.conn, a.executor, a.logger)
	})
	return a.relationalSvc
}

// Query returns the query service.
func (a *Adapter) Query() *query.Service {
	a.queryOnce.Do(func() {
		a.querySvc = query.New(a.conn, a.executor, a.logger)
	})
	return a.querySvc
}

// Batch returns the bulk write service.
func (a *Adapter) Batch() *batch.Service {
	a.batchOnce.Do(func() {
		a.batchSvc = batch.New(a.conn, a.executor, a.logger)
	})
	return a.batchSvc
}

// Transaction returns the transactional operation service.
func (a *Adapter) Transaction() *transaction.Service {
	a.transactionOnce.Do(func() {
		a.transactionSvc = transaction.New(a.conn, a.executor, a.logger)
	})
	return a.transactionSvc
}

// Migration returns the migration service.
func (a *Adapter) Migration() *migration.Service {
	a.migrationOnce.Do(func() {
		a.migrationSvc = migration.New(a.conn, a.executor, a.logger)
	})
	return a.migrationSvc
}

// Cached returns the cached-read service, or an error when the instance
// has no cache store configured.
func (a *Adapter) Cached() (*cached.Service, error) {
	if a.cacheStore == nil {
		return nil, domainerrors.NewConfiguration("instance has no cache store configured", nil).
			With("instance", a.name)
	}
	a.cachedOnce.Do(func() {
		a.cachedSvc = cached.New(a.CRUD(), a.cacheStore, a.cachedCfg, a.logger)
	})
	return a.cachedSvc, nil
}

// Metrics returns the connection metrics snapshot.
func (a *Adapter) Metrics() connection.Metrics {
	return a.conn.Metrics()
}

// State returns the connection lifecycle state.
func (a *Adapter) State() connection.State {
	return a.conn.State()
}

// HealthCheck verifies the backend is reachable.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	return a.conn.Ping(ctx)
}

// Close shuts down the connection and, when this instance owns a cache
// store, the cache. Safe to call more than once.
func (a *Adapter) Close(ctx context.Context) error {
	err := a.conn.Close(ctx)
	if a.cacheStore != nil {
		if cacheErr := a.cacheStore.Close(); cacheErr != nil && err == nil {
			err = domainerrors.NewCache("failed to close cache store", cacheErr).
				With("instance", a.name)
		}
	}
	return err
}
