// Package registry manages named adapter instances. There is no package
// global: callers construct a Registry and pass it around.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/docbridge/docbridge/internal/adapter"
	"github.com/docbridge/docbridge/internal/connection"
	domainerrors "github.com/docbridge/docbridge/internal/domain/errors"
)

// DefaultInstanceName is the instance used when callers do not name one.
const DefaultInstanceName = "default"

// Registry holds named adapter instances. Safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	instances   map[string]*adapter.Adapter
	defaultName string
	logger      zerolog.Logger
}

// New creates an empty registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		instances:   make(map[string]*adapter.Adapter),
		defaultName: DefaultInstanceName,
		logger:      logger.With().Str("component", "registry").Logger(),
	}
}

// CreateInstance builds and registers a named instance. Creating a name
// that already exists logs a warning and returns the existing instance
// untouched. The first instance registered becomes the default until
// SetDefault overrides it.
func (r *Registry) CreateInstance(name string, cfg adapter.Config) (*adapter.Adapter, error) {
	if name == "" {
		return nil, domainerrors.NewValidation("instance name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.instances[name]; ok {
		r.logger.Warn().Str("instance", name).Msg("instance already exists, returning existing")
		return existing, nil
	}

	instance, err := adapter.New(name, cfg, r.logger)
	if err != nil {
		return nil, err
	}
	if len(r.instances) == 0 {
		r.defaultName = name
	}
	r.instances[name] = instance
	r.logger.Info().Str("instance", name).Msg("instance registered")
	return instance, nil
}

// GetInstance returns the named instance. The unknown-name error lists the
// registered names.
func (r *Registry) GetInstance(name string) (*adapter.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	instance, ok := r.instances[name]
	if !ok {
		return nil, domainerrors.New(domainerrors.KindNotFound, "instance not registered").
			With("instance", name).With("available", r.instanceNamesLocked())
	}
	return instance, nil
}

// GetDefault returns the default instance.
func (r *Registry) GetDefault() (*adapter.Adapter, error) {
	r.mu.RLock()
	name := r.defaultName
	r.mu.RUnlock()
	return r.GetInstance(name)
}

// SetDefault changes which instance GetDefault returns. The instance must
// already be registered.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[name]; !ok {
		return domainerrors.New(domainerrors.KindNotFound, "instance not registered").
			With("instance", name)
	}
	r.defaultName = name
	return nil
}

// HasInstance reports whether the name is registered.
func (r *Registry) HasInstance(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.instances[name]
	return ok
}

// InstanceNames returns the registered names, sorted.
func (r *Registry) InstanceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instanceNamesLocked()
}

// instanceNamesLocked is InstanceNames for callers already holding the lock.
func (r *Registry) instanceNamesLocked() []string {
	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered instances.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// CloseInstance closes and removes the named instance.
func (r *Registry) CloseInstance(ctx context.Context, name string) error {
	r.mu.Lock()
	instance, ok := r.instances[name]
	if ok {
		delete(r.instances, name)
	}
	r.mu.Unlock()
	if !ok {
		return domainerrors.New(domainerrors.KindNotFound, "instance not registered").
			With("instance", name)
	}
	return instance.Close(ctx)
}

// CloseAll closes every instance concurrently and empties the registry.
// The first close error is returned; the remaining instances still close.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	instances := r.instances
	r.instances = make(map[string]*adapter.Adapter)
	r.mu.Unlock()

	var wg sync.WaitGroup
	errs := make(chan error, len(instances))
	for name, instance := range instances {
		wg.Add(1)
		go func(name string, instance *adapter.Adapter) {
			defer wg.Done()
			if err := instance.Close(ctx); err != nil {
				r.logger.Error().Err(err).Str("instance", name).Msg("failed to close instance")
				errs <- err
			}
		}(name, instance)
	}
	wg.Wait()
	close(errs)
	return <-errs
}

// AllMetrics returns the connection metrics of every instance.
func (r *Registry) AllMetrics() map[string]connection.Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	metrics := make(map[string]connection.Metrics, len(r.instances))
	for name, instance := range r.instances {
		metrics[name] = instance.Metrics()
	}
	return metrics
}

// InstanceMetrics returns the named instance's connection metrics.
func (r *Registry) InstanceMetrics(name string) (connection.Metrics, error) {
	instance, err := r.GetInstance(name)
	if err != nil {
		return connection.Metrics{}, err
	}
	return instance.Metrics(), nil
}

// HealthCheck pings every instance and reports per-instance outcomes. The
// aggregate is healthy only when every instance is.
func (r *Registry) HealthCheck(ctx context.Context) (bool, map[string]error) {
	r.mu.RLock()
	instances := make(map[string]*adapter.Adapter, len(r.instances))
	for name, instance := range r.instances {
		instances[name] = instance
	}
	r.mu.RUnlock()

	healthy := true
	results := make(map[string]error, len(instances))
	for name, instance := range instances {
		err := instance.HealthCheck(ctx)
		results[name] = err
		if err != nil {
			healthy = false
		}
	}
	return healthy, results
}

// Reset closes every instance and restores the default name. Intended for
// tests.
func (r *Registry) Reset(ctx context.Context) error {
	err := r.CloseAll(ctx)
	r.mu.Lock()
	r.defaultName = DefaultInstanceName
	r.mu.Unlock()
	return err
}
