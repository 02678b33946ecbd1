// Package engine keeps the named TTS engines a process can render with and
// binds a character's primary and secondary engine into one provider.
package engine

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/npcvoice/internal/resilience"
	"github.com/MrWong99/npcvoice/pkg/provider/tts"
)

// ErrUnknownEngine is returned when a character names an engine that is not
// configured.
var ErrUnknownEngine = errors.New("engine: unknown engine")

type pair struct{ primary, secondary string }

// Set is a registry of named engines. The empty name refers to the default
// engine. It is safe for concurrent use.
type Set struct {
	mu       sync.Mutex
	engines  map[string]tts.Provider
	def      string
	fallback resilience.FallbackConfig
	bound    map[pair]*resilience.TTSFallback
}

// NewSet returns an empty Set whose default engine is defaultName. cfg
// configures the circuit breakers of bound failover pairs.
func NewSet(defaultName string, cfg resilience.FallbackConfig) *Set {
	return &Set{
		engines:  make(map[string]tts.Provider),
		def:      defaultName,
		fallback: cfg,
		bound:    make(map[pair]*resilience.TTSFallback),
	}
}

// Add registers p under name.
func (s *Set) Add(name string, p tts.Provider) error {
	if name == "" {
		return errors.New("engine: name must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.engines[name]; ok {
		return fmt.Errorf("engine: %q registered twice", name)
	}
	s.engines[name] = p
	return nil
}

// Default returns the name the empty engine name resolves to.
func (s *Set) Default() string { return s.def }

// Names returns the registered engine names, sorted.
func (s *Set) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.engines))
	for name := range s.engines {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Get returns the engine registered under name.
func (s *Set) Get(name string) (tts.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(name)
}

func (s *Set) getLocked(name string) (tts.Provider, error) {
	if name == "" {
		name = s.def
	}
	p, ok := s.engines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
	return p, nil
}

// Bind returns the provider a character renders with. Without a distinct
// secondary engine this is the primary itself; otherwise it is a failover
// wrapper that is created once per pair so breaker state survives between
// lines.
func (s *Set) Bind(primary, secondary string) (tts.Provider, error) {
	if primary == "" {
		primary = s.def
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getLocked(primary)
	if err != nil {
		return nil, err
	}
	if secondary == "" || secondary == primary {
		return p, nil
	}
	key := pair{primary, secondary}
	if fb, ok := s.bound[key]; ok {
		return fb, nil
	}
	sec, err := s.getLocked(secondary)
	if err != nil {
		return nil, err
	}
	fb := resilience.NewTTSFallback(p, primary, s.fallback)
	fb.AddFallback(secondary, sec)
	s.bound[key] = fb
	return fb, nil
}
