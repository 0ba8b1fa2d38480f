package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/interpres-live/interpres/pkg/provider/synth"
	"github.com/interpres-live/interpres/pkg/provider/translate"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	translators map[string]func(ProviderEntry) (translate.Provider, error)
	synthesizer map[string]func(ProviderEntry) (synth.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		translators: make(map[string]func(ProviderEntry) (translate.Provider, error)),
		synthesizer: make(map[string]func(ProviderEntry) (synth.Provider, error)),
	}
}

// RegisterTranslator registers a translation provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranslator(name string, factory func(ProviderEntry) (translate.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translators[name] = factory
}

// RegisterSynthesizer registers a synthesis provider factory under name.
func (r *Registry) RegisterSynthesizer(name string, factory func(ProviderEntry) (synth.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synthesizer[name] = factory
}

// CreateTranslator instantiates a translation provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateTranslator(entry ProviderEntry) (translate.Provider, error) {
	r.mu.RLock()
	factory, ok := r.translators[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: translator/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSynthesizer instantiates a synthesis provider using the factory
// registered under entry.Name.
func (r *Registry) CreateSynthesizer(entry ProviderEntry) (synth.Provider, error) {
	r.mu.RLock()
	factory, ok := r.synthesizer[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: synthesizer/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
