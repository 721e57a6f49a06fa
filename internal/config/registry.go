package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/callsentry/callsentry/pkg/provider/authenticity"
	"github.com/callsentry/callsentry/pkg/provider/risk"
	"github.com/callsentry/callsentry/pkg/provider/stt"
)

// ErrProviderNotRegistered means the config names a provider no factory was
// registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry resolves provider names from the config file into constructed
// providers. One factory map per provider kind; a later registration under
// the same name replaces the earlier one. Concurrency-safe.
type Registry struct {
	mu           sync.RWMutex
	stt          map[string]func(ProviderEntry) (stt.Provider, error)
	authenticity map[string]func(ProviderEntry) (authenticity.Provider, error)
	risk         map[string]func(ProviderEntry) (risk.Provider, error)
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		stt:          make(map[string]func(ProviderEntry) (stt.Provider, error)),
		authenticity: make(map[string]func(ProviderEntry) (authenticity.Provider, error)),
		risk:         make(map[string]func(ProviderEntry) (risk.Provider, error)),
	}
}

// RegisterSTT adds a transcription provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterAuthenticity adds a voice-authenticity provider factory under name.
func (r *Registry) RegisterAuthenticity(name string, factory func(ProviderEntry) (authenticity.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authenticity[name] = factory
}

// RegisterRisk adds a dialogue-risk provider factory under name.
func (r *Registry) RegisterRisk(name string, factory func(ProviderEntry) (risk.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.risk[name] = factory
}

// CreateSTT runs the factory registered under entry.Name, reporting
// [ErrProviderNotRegistered] for unknown names.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAuthenticity runs the factory registered under entry.Name.
func (r *Registry) CreateAuthenticity(entry ProviderEntry) (authenticity.Provider, error) {
	r.mu.RLock()
	factory, ok := r.authenticity[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: authenticity/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateRisk runs the factory registered under entry.Name.
func (r *Registry) CreateRisk(entry ProviderEntry) (risk.Provider, error) {
	r.mu.RLock()
	factory, ok := r.risk[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: risk/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
