// Package cached layers a read-through cache over the CRUD service. Reads
// are served from the cache when possible; every mutation routed through
// this service invalidates the affected key. Cache failures on the read
// path are logged and fall back to the database; only serialization and
// invalidation failures surface as errors.
package cached

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/docbridge/docbridge/internal/core/cache"
	"github.com/docbridge/docbridge/internal/core/docdb"
	domainerrors "github.com/docbridge/docbridge/internal/domain/errors"
	"github.com/docbridge/docbridge/internal/pkg/encryption"
	"github.com/docbridge/docbridge/internal/services/crud"
)

// DefaultKeyPrefix namespaces cache keys when no prefix is configured.
const DefaultKeyPrefix = "docbridge"

// Config tunes the cached-read layer.
type Config struct {
	// KeyPrefix namespaces every cache key.
	KeyPrefix string

	// TTL is the cache entry lifetime. Zero means the cache default.
	TTL time.Duration

	// Encryptor, when set, seals payloads before they reach the cache.
	Encryptor encryption.Encryptor
}

// Service is the cached CRUD facade.
type Service struct {
	crud   *crud.Service
	store  cache.Cache
	cfg    Config
	logger zerolog.Logger
}

// New creates the cached service over a CRUD service and a cache store.
func New(crudSvc *crud.Service, store cache.Cache, cfg Config, logger zerolog.Logger) *Service {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return &Service{
		crud:   crudSvc,
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("service", "cached").Logger(),
	}
}

// Read returns the document from the cache when present, otherwise from the
// database, populating the cache on the way out.
func (s *Service) Read(ctx context.Context, collection, id string) (docdb.Document, error) {
	key := cache.Key(s.cfg.KeyPrefix, collection, id)
	if doc, ok := s.lookup(ctx, key); ok {
		return doc, nil
	}

	doc, err := s.crud.Read(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, key, doc)
	return doc, nil
}

// Create inserts the document and primes the cache with it.
func (s *Service) Create(ctx context.Context, collection string, doc docdb.Document) (string, error) {
	id, err := s.crud.Create(ctx, collection, doc)
	if err != nil {
		return "", err
	}
	s.fill(ctx, cache.Key(s.cfg.KeyPrefix, collection, id), doc)
	return id, nil
}

// Set writes the document and invalidates its cache entry. The entry is not
// re-primed: merges and server-resolved sentinel values make the written
// payload differ from the stored document.
func (s *Service) Set(ctx context.Context, collection, id string, doc docdb.Document, merge bool) error {
	if err := s.crud.Set(ctx, collection, id, doc, merge); err != nil {
		return err
	}
	return s.invalidate(ctx, collection, id)
}

// Update patches the document and invalidates its cache entry.
func (s *Service) Update(ctx context.Context, collection, id string, fields docdb.Document) error {
	if err := s.crud.Update(ctx, collection, id, fields); err != nil {
		return err
	}
	return s.invalidate(ctx, collection, id)
}

// Delete removes the document and its cache entry.
func (s *Service) Delete(ctx context.Context, collection, id string) error {
	if err := s.crud.Delete(ctx, collection, id); err != nil {
		return err
	}
	return s.invalidate(ctx, collection, id)
}

// Invalidate drops one document's cache entry.
func (s *Service) Invalidate(ctx context.Context, collection, id string) error {
	return s.invalidate(ctx, collection, id)
}

// InvalidateCollection drops every cached entry of the collection and
// returns the number removed.
func (s *Service) InvalidateCollection(ctx context.Context, collection string) (int64, error) {
	removed, err := s.store.DeletePattern(ctx, cache.CollectionPattern(s.cfg.KeyPrefix, collection))
	if err != nil {
		return 0, domainerrors.NewCache("failed to invalidate collection", err).
			With("collection", collection)
	}
	return removed, nil
}

// lookup tries the cache. Any failure is logged and treated as a miss.
func (s *Service) lookup(ctx context.Context, key string) (docdb.Document, bool) {
	payload, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache read failed, falling back to database")
		return nil, false
	}
	if payload == nil {
		return nil, false
	}
	if s.cfg.Encryptor != nil {
		payload, err = s.cfg.Encryptor.Decrypt(string(payload))
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("cache payload decryption failed, falling back to database")
			return nil, false
		}
	}

	var doc docdb.Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache payload decode failed, falling back to database")
		return nil, false
	}
	return doc, true
}

// fill writes a document into the cache. Failures are logged, never
// surfaced: the caller already holds the authoritative document.
func (s *Service) fill(ctx context.Context, key string, doc docdb.Document) {
	payload, err := json.Marshal(doc)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache payload encode failed")
		return
	}
	if s.cfg.Encryptor != nil {
		sealed, err := s.cfg.Encryptor.Encrypt(payload)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("cache payload encryption failed")
			return
		}
		payload = []byte(sealed)
	}
	if err := s.store.Set(ctx, key, payload, s.cfg.TTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func (s *Service) invalidate(ctx context.Context, collection, id string) error {
	if _, err := s.store.Delete(ctx, cache.Key(s.cfg.KeyPrefix, collection, id)); err != nil {
		return domainerrors.NewCache("failed to invalidate cache entry", err).
			With("collection", collection).With("id", id)
	}
	return nil
}
