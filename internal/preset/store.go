package preset

import (
	"log/slog"
	"maps"
	"slices"
)

// Built-in preset names. They are available even without a preset file.
const (
	GenericRandomAny    = "generic_random_any"
	GenericRandomMale   = "generic_random_male"
	GenericRandomFemale = "generic_random_female"
)

// Base-config keys with a meaning outside the engine itself.
const (
	// VoiceKey holds the primary engine's voice identifier.
	VoiceKey = "voice"

	// SecondaryVoiceKey holds the voice identifier used when rendering fails
	// over to the secondary engine.
	SecondaryVoiceKey = "voice_secondary"
)

// Defaults returns the built-in presets. Their engine is empty, so they use
// whatever engine is configured as default.
func Defaults() map[string]Preset {
	mk := func(name, gender string) Preset {
		return Preset{
			Name:       name,
			BaseConfig: []Entry{{Key: VoiceKey, Value: Directive{Mode: ModeRandom, Gender: gender}}},
		}
	}
	return map[string]Preset{
		GenericRandomAny:    mk(GenericRandomAny, GenderAny),
		GenericRandomMale:   mk(GenericRandomMale, "male"),
		GenericRandomFemale: mk(GenericRandomFemale, "female"),
	}
}

// PresetStore serves presets from a JSON file. Built-in [Defaults] are
// always present; the file adds to them and may override them by name.
type PresetStore struct {
	file *cachedFile[map[string]Preset]
}

// NewPresetStore returns a store backed by path. The file is not read until
// first use.
func NewPresetStore(path string) *PresetStore {
	decode := func(data []byte) (map[string]Preset, error) {
		fromFile, err := DecodeFile(data)
		if err != nil {
			return nil, err
		}
		all := Defaults()
		maps.Copy(all, fromFile)
		return all, nil
	}
	return &PresetStore{file: newCachedFile(path, decode, Defaults)}
}

func (s *PresetStore) current() map[string]Preset {
	m, err := s.file.get()
	if err != nil {
		slog.Error("preset: load presets, using last good copy", "path", s.file.filePath(), "err", err)
	}
	return m
}

// Preset returns a copy of the named preset.
func (s *PresetStore) Preset(name string) (Preset, bool) {
	p, ok := s.current()[name]
	if !ok {
		return Preset{}, false
	}
	return p.Clone(), true
}

// Has reports whether a preset with the given name exists.
func (s *PresetStore) Has(name string) bool {
	_, ok := s.current()[name]
	return ok
}

// Names returns every preset name in sorted order.
func (s *PresetStore) Names() []string {
	return slices.Sorted(maps.Keys(s.current()))
}

// Reload re-reads the preset file even if its modification time did not
// change.
func (s *PresetStore) Reload() error {
	return s.file.reload()
}

// SetPath switches the store to a different file and reloads it.
func (s *PresetStore) SetPath(path string) error {
	return s.file.setPath(path)
}

// Path returns the backing file path.
func (s *PresetStore) Path() string { return s.file.filePath() }
