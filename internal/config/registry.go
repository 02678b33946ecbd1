package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/npcvoice/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested engine name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds an engine from its configuration entry.
type Factory func(ProviderEntry) (tts.Provider, error)

// Registry maps engine names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu  sync.RWMutex
	tts map[string]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{tts: make(map[string]Factory)}
}

// Register registers an engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// Names returns the registered engine names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tts))
	for name := range r.tts {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Create instantiates the engine registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) Create(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create tts/%q: %w", entry.Name, err)
	}
	return p, nil
}
