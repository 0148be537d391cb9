package providers

import (
	"fmt"
	"sync"

	"github.com/richinex/codeweave/llm"
)

// Registry holds one provider per vendor. It is built once at startup and
// read concurrently afterwards.
type Registry struct {
	mu        sync.RWMutex
	providers map[llm.ProviderID]Provider
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[llm.ProviderID]Provider),
	}
}

// Register adds a provider.
// Returns error if a provider with the same identity already exists.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[p.ID()]; exists {
		return fmt.Errorf("provider '%s' already registered", p.Name())
	}
	r.providers[p.ID()] = p
	return nil
}

// Get resolves a provider by display name or alias.
func (r *Registry) Get(name string) (Provider, error) {
	id, err := llm.ParseProviderID(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return r.ByID(id)
}

// ByID returns the provider registered for id.
func (r *Registry) ByID(id llm.ProviderID) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not registered", ErrUnknownProvider, id)
	}
	return p, nil
}

// List returns the registered providers in declaration order.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Provider
	for _, id := range llm.AllProviders() {
		if p, ok := r.providers[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Names returns the display names of the registered providers.
func (r *Registry) Names() []string {
	var names []string
	for _, p := range r.List() {
		names = append(names, p.Name())
	}
	return names
}

// Wait blocks until every provider's transfers have ended.
func (r *Registry) Wait() {
	for _, p := range r.List() {
		p.Wait()
	}
}

// WithDefaults creates a registry with every built-in vendor. Each provider
// gets its own transport configured from opts.
func WithDefaults(opts ...Option) (*Registry, error) {
	registry := NewRegistry()

	builtins := []Provider{
		NewOllama(opts...),
		NewOpenAI(opts...),
		NewClaude(opts...),
		NewGoogleAI(opts...),
		NewMistral(opts...),
		NewLlamaCpp(opts...),
		NewOpenRouter(opts...),
		NewOpenAICompatibleServer(opts...),
	}

	for _, p := range builtins {
		if err := registry.Register(p); err != nil {
			return nil, fmt.Errorf("failed to register default providers: %w", err)
		}
	}

	return registry, nil
}
