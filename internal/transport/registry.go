package transport

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps transport type names to factories
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(transportType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[transportType] = factory
}

func (r *Registry) Create(transportType string, config Config) (Transport, error) {
	r.mu.RLock()
	factory, exists := r.factories[transportType]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("transport type %s not registered", transportType)
	}
	return factory.Create(config)
}

// GetAvailableTypes returns the registered type names, sorted
func (r *Registry) GetAvailableTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (r *Registry) IsRegistered(transportType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[transportType]
	return exists
}
