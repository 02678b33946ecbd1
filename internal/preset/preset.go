// Package preset holds voice presets and the group alias table that maps NPC
// groups onto them.
//
// Both are JSON files. They are read lazily, cached, and re-read only when the
// file's modification time changes. Missing files are not an error: built-in
// defaults apply until a file appears.
package preset

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Entry is one ordered base-config pair.
type Entry struct {
	Key   string
	Value Value
}

// Setting is one ordered effect parameter. Numeric values are stored in
// their decimal string form.
type Setting struct {
	Param string
	Value string
}

// EffectSpec names an effect and its ordered settings.
type EffectSpec struct {
	Name     string
	Settings []Setting
}

// Preset is a voice configuration template. Presets are never modified by
// resolution; [Preset.Clone] returns an independent copy.
type Preset struct {
	Name string

	// Engine is the primary TTS engine. Empty means the configured default.
	Engine string

	// EngineSecondary is an optional failover engine.
	EngineSecondary string

	BaseConfig []Entry
	Effects    []EffectSpec
}

// Clone returns a deep copy of p.
func (p Preset) Clone() Preset {
	out := p
	out.BaseConfig = slices.Clone(p.BaseConfig)
	out.Effects = make([]EffectSpec, len(p.Effects))
	for i, e := range p.Effects {
		out.Effects[i] = EffectSpec{Name: e.Name, Settings: slices.Clone(e.Settings)}
	}
	return out
}

// HasDirectives reports whether any base-config value is still a [Directive].
func (p Preset) HasDirectives() bool {
	for _, e := range p.BaseConfig {
		if _, ok := e.Value.(Directive); ok {
			return true
		}
	}
	return false
}

// filePreset is the on-disk form. Ordered maps are encoded as arrays of
// [key, value] pairs.
type filePreset struct {
	Engine          string              `json:"engine,omitempty"`
	EngineSecondary string              `json:"engine_secondary,omitempty"`
	BaseConfig      [][]json.RawMessage `json:"base_config"`
	Effects         [][]json.RawMessage `json:"effects"`
}

// DecodeFile parses a preset file: a JSON object keyed by preset name.
func DecodeFile(data []byte) (map[string]Preset, error) {
	var raw map[string]filePreset
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("preset: decode: %w", err)
	}
	out := make(map[string]Preset, len(raw))
	for name, fp := range raw {
		p, err := fp.toPreset(name)
		if err != nil {
			return nil, fmt.Errorf("preset: %q: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

func (fp filePreset) toPreset(name string) (Preset, error) {
	p := Preset{Name: name, Engine: fp.Engine, EngineSecondary: fp.EngineSecondary}
	for i, pair := range fp.BaseConfig {
		if len(pair) != 2 {
			return Preset{}, fmt.Errorf("base_config[%d]: want [key, value]", i)
		}
		var key string
		if err := json.Unmarshal(pair[0], &key); err != nil {
			return Preset{}, fmt.Errorf("base_config[%d] key: %w", i, err)
		}
		v, err := decodeValue(pair[1])
		if err != nil {
			return Preset{}, fmt.Errorf("base_config[%d] %q: %w", i, key, err)
		}
		p.BaseConfig = append(p.BaseConfig, Entry{Key: key, Value: v})
	}
	for i, pair := range fp.Effects {
		if len(pair) != 2 {
			return Preset{}, fmt.Errorf("effects[%d]: want [name, settings]", i)
		}
		var spec EffectSpec
		if err := json.Unmarshal(pair[0], &spec.Name); err != nil {
			return Preset{}, fmt.Errorf("effects[%d] name: %w", i, err)
		}
		var settings [][]json.RawMessage
		if err := json.Unmarshal(pair[1], &settings); err != nil {
			return Preset{}, fmt.Errorf("effects[%d] %q settings: %w", i, spec.Name, err)
		}
		for j, s := range settings {
			if len(s) != 2 {
				return Preset{}, fmt.Errorf("effects[%d] %q setting %d: want [param, value]", i, spec.Name, j)
			}
			var param string
			if err := json.Unmarshal(s[0], &param); err != nil {
				return Preset{}, fmt.Errorf("effects[%d] %q setting %d: %w", i, spec.Name, j, err)
			}
			val, err := decodeSetting(s[1])
			if err != nil {
				return Preset{}, fmt.Errorf("effects[%d] %q %q: %w", i, spec.Name, param, err)
			}
			spec.Settings = append(spec.Settings, Setting{Param: param, Value: val})
		}
		p.Effects = append(p.Effects, spec)
	}
	return p, nil
}

// EncodeFile renders presets in the file format accepted by [DecodeFile].
func EncodeFile(presets map[string]Preset) ([]byte, error) {
	raw := make(map[string]any, len(presets))
	for _, name := range slices.Sorted(maps.Keys(presets)) {
		p := presets[name]
		base := make([][]any, 0, len(p.BaseConfig))
		for _, e := range p.BaseConfig {
			base = append(base, []any{e.Key, encodeValue(e.Value)})
		}
		effects := make([][]any, 0, len(p.Effects))
		for _, e := range p.Effects {
			settings := make([][]string, 0, len(e.Settings))
			for _, s := range e.Settings {
				settings = append(settings, []string{s.Param, s.Value})
			}
			effects = append(effects, []any{e.Name, settings})
		}
		raw[name] = map[string]any{
			"engine":           p.Engine,
			"engine_secondary": p.EngineSecondary,
			"base_config":      base,
			"effects":          effects,
		}
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("preset: encode: %w", err)
	}
	return data, nil
}
