package carriers

import (
	"sync"
)

// Registry holds the configured tracking provider per carrier code. The
// tracking engine is carrier-agnostic: it only ever asks the registry for
// a provider and treats a miss as "no integration configured".
type Registry struct {
	mu        sync.RWMutex
	providers map[string]TrackingProvider
}

// NewRegistry creates an empty provider registry
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]TrackingProvider)}
}

// Register adds a provider under its carrier code, replacing any previous one
func (r *Registry) Register(provider TrackingProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[NormalizeCarrier(provider.Carrier())] = provider
}

// Lookup returns the provider for a carrier code, or false when no
// integration is configured for that carrier
func (r *Registry) Lookup(carrierCode string) (TrackingProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[NormalizeCarrier(carrierCode)]
	return provider, ok
}

// NewSimulatedRegistry returns a registry with simulated providers for the
// standard carriers, for development without live carrier credentials
func NewSimulatedRegistry() *Registry {
	registry := NewRegistry()
	for _, code := range []string{"usps", "ups", "fedex", "dhl"} {
		registry.Register(NewSimulatedProvider(code))
	}
	return registry
}
