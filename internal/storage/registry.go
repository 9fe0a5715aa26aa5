package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"roomgraph/internal/common/errors"
)

// Registry maps DATABASE_TYPE names to the factories building each store
type Registry struct {
	mu        sync.RWMutex
	factories map[string]StorageFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]StorageFactory)}
}

// Register adds factory under its type, replacing any previous one
func (r *Registry) Register(factory StorageFactory) {
	r.mu.Lock()
	r.factories[factory.GetType()] = factory
	r.mu.Unlock()
}

// Create builds the store config names
func (r *Registry) Create(config StorageConfig) (Store, error) {
	r.mu.RLock()
	factory, ok := r.factories[config.GetType()]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.ConfigError(fmt.Sprintf("storage type %s not registered (available: %s)",
			config.GetType(), strings.Join(r.GetAvailableTypes(), ", ")))
	}
	return factory.Create(config)
}

// GetAvailableTypes lists the registered types, sorted
func (r *Registry) GetAvailableTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for name := range r.factories {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

func (r *Registry) IsRegistered(storageType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[storageType]
	return ok
}
