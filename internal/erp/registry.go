package erp

import (
	"fmt"
	"sync"
)

// Registry manages all registered order snapshot providers
type Registry struct {
	mu        sync.RWMutex
	providers map[string]OrderSnapshotProvider
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]OrderSnapshotProvider),
	}
}

// Register registers a new provider
func (r *Registry) Register(provider OrderSnapshotProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	code := provider.Code()
	if code == "" {
		return fmt.Errorf("provider code cannot be empty")
	}

	if _, exists := r.providers[code]; exists {
		return fmt.Errorf("provider %s is already registered", code)
	}

	r.providers[code] = provider
	return nil
}

// Get returns a provider by its code
func (r *Registry) Get(code string) (OrderSnapshotProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[code]
	if !exists {
		return nil, fmt.Errorf("provider %s not found", code)
	}

	return provider, nil
}

// List returns all registered providers
func (r *Registry) List() []OrderSnapshotProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]OrderSnapshotProvider, 0, len(r.providers))
	for _, provider := range r.providers {
		providers = append(providers, provider)
	}

	return providers
}

// Has checks if a provider is registered
func (r *Registry) Has(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.providers[code]
	return exists
}
