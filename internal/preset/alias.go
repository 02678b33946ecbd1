package preset

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
)

// AliasStore maps NPC groups to preset names. It is append-only: unmapped
// groups get a durable entry on first lookup and existing entries are never
// overwritten.
type AliasStore struct {
	file     *cachedFile[map[string]string]
	presets  *PresetStore
	fallback string
}

// AliasOption configures an [AliasStore].
type AliasOption func(*AliasStore)

// WithFallbackAlias sets the alias recorded for groups that have no preset of
// their own. The default is [GenericRandomAny].
func WithFallbackAlias(alias string) AliasOption {
	return func(s *AliasStore) {
		if alias != "" {
			s.fallback = alias
		}
	}
}

// NewAliasStore returns a store backed by path. presets decides whether a new
// group maps onto itself or onto the fallback alias.
func NewAliasStore(path string, presets *PresetStore, opts ...AliasOption) *AliasStore {
	decode := func(data []byte) (map[string]string, error) {
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("preset: decode aliases: %w", err)
		}
		if m == nil {
			m = map[string]string{}
		}
		return m, nil
	}
	s := &AliasStore{
		file:     newCachedFile(path, decode, func() map[string]string { return map[string]string{} }),
		presets:  presets,
		fallback: GenericRandomAny,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Fallback returns the alias used for groups without a preset.
func (s *AliasStore) Fallback() string { return s.fallback }

// AliasFor returns the alias of group.
//
// An unmapped group is recorded before returning: it maps to itself when a
// preset of that name exists, otherwise to the fallback alias. If recording
// fails the alias is still returned together with the error. An empty group
// resolves to the fallback alias without being recorded.
func (s *AliasStore) AliasFor(group string) (string, error) {
	if group == "" {
		return s.fallback, nil
	}

	f := s.file
	f.mu.Lock()
	defer f.mu.Unlock()

	loadErr := f.refreshLocked(false)
	if alias, ok := f.value[group]; ok {
		return alias, nil
	}

	alias := s.fallback
	if s.presets != nil && s.presets.Has(group) {
		alias = group
	} else {
		slog.Warn("preset: unmapped group, recording fallback alias", "group", group, "alias", alias)
	}
	if loadErr != nil {
		// Never replace an unreadable alias file.
		return alias, loadErr
	}

	next := maps.Clone(f.value)
	if next == nil {
		next = map[string]string{}
	}
	next[group] = alias
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return alias, fmt.Errorf("preset: encode aliases: %w", err)
	}
	if err := f.storeLocked(data, next); err != nil {
		return alias, err
	}
	return alias, nil
}

// Lookup returns the alias recorded for name, or name itself when a preset
// of that name exists. Unlike [AliasStore.AliasFor] it never records
// anything and never falls back.
func (s *AliasStore) Lookup(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	m, err := s.file.get()
	if err != nil {
		slog.Error("preset: load aliases, using last good copy", "path", s.file.filePath(), "err", err)
	}
	if alias, ok := m[name]; ok {
		return alias, true
	}
	if s.presets != nil && s.presets.Has(name) {
		return name, true
	}
	return "", false
}

// Aliases returns a copy of the full alias table.
func (s *AliasStore) Aliases() map[string]string {
	m, err := s.file.get()
	if err != nil {
		slog.Error("preset: load aliases, using last good copy", "path", s.file.filePath(), "err", err)
	}
	return maps.Clone(m)
}

// Reload re-reads the alias file even if its modification time did not
// change.
func (s *AliasStore) Reload() error {
	return s.file.reload()
}

// SetPath switches the store to a different file and reloads it.
func (s *AliasStore) SetPath(path string) error {
	return s.file.setPath(path)
}

// Path returns the backing file path.
func (s *AliasStore) Path() string { return s.file.filePath() }
