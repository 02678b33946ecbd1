package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/npcvoice/internal/npcstore"
	"github.com/MrWong99/npcvoice/internal/preset"
	"github.com/MrWong99/npcvoice/pkg/provider/tts"
	"github.com/MrWong99/npcvoice/pkg/types"
)

// ErrUnsupportedDirective marks a directive whose mode is not
// [preset.ModeRandom]. The affected entry is skipped.
var ErrUnsupportedDirective = errors.New("voice: unsupported directive")

// ErrNoVoices is returned when an engine offers no voice to pick from.
var ErrNoVoices = errors.New("voice: engine offers no voices")

// Lister returns the voices available for a base-config key. Keys other than
// [preset.SecondaryVoiceKey] list the primary engine.
type Lister func(ctx context.Context, key string) ([]tts.VoiceProfile, error)

// Resolution is the outcome of [Resolve].
type Resolution struct {
	// BaseConfig holds only concrete values, in preset order.
	BaseConfig []npcstore.ConfigEntry

	// Skipped lists entries dropped because of an unsupported directive. Each
	// error wraps [ErrUnsupportedDirective].
	Skipped []error
}

// Resolve turns every base-config value of p into a concrete string.
//
// hint, when it names a gender, overrides the directive's own gender. A
// random directive with gender "any" picks from every voice; otherwise the
// voices are filtered by gender, falling back to all voices when none match.
// pick(n) must return an index in [0, n). p itself is not modified.
//
// Lister errors and engines without voices abort resolution.
func Resolve(ctx context.Context, p preset.Preset, hint string, list Lister, pick func(n int) int) (Resolution, error) {
	var res Resolution
	listed := make(map[string][]tts.VoiceProfile)

	for _, e := range p.BaseConfig {
		switch v := e.Value.(type) {
		case preset.Concrete:
			res.BaseConfig = append(res.BaseConfig, npcstore.ConfigEntry{Key: e.Key, Value: string(v)})

		case preset.Directive:
			if v.Mode != preset.ModeRandom {
				err := fmt.Errorf("%w: preset %q key %q: mode %q", ErrUnsupportedDirective, p.Name, e.Key, v.Mode)
				slog.Error("voice: skipping base-config entry", "preset", p.Name, "key", e.Key, "err", err)
				res.Skipped = append(res.Skipped, err)
				continue
			}

			voices, ok := listed[e.Key]
			if !ok {
				var err error
				if voices, err = list(ctx, e.Key); err != nil {
					return Resolution{}, fmt.Errorf("voice: list voices for %q: %w", e.Key, err)
				}
				listed[e.Key] = voices
			}

			gender := directiveGender(v.Gender, hint)
			candidates := tts.FilterByGender(voices, gender)
			if len(candidates) == 0 {
				slog.Warn("voice: no voice matches gender, picking from all voices",
					"preset", p.Name, "key", e.Key, "gender", gender)
				candidates = voices
			}
			if len(candidates) == 0 {
				return Resolution{}, fmt.Errorf("%w: preset %q key %q", ErrNoVoices, p.Name, e.Key)
			}
			chosen := candidates[pick(len(candidates))]
			res.BaseConfig = append(res.BaseConfig, npcstore.ConfigEntry{Key: e.Key, Value: chosen.ID})

		default:
			return Resolution{}, fmt.Errorf("voice: preset %q key %q: unexpected value %T", p.Name, e.Key, e.Value)
		}
	}
	return res, nil
}

// directiveGender returns the gender a directive filters by. A recognised
// hint wins; otherwise the directive's own gender applies, where "any" or
// anything unrecognised means no filtering.
func directiveGender(directive, hint string) types.Gender {
	if g, ok := types.ParseGender(hint); ok {
		return g
	}
	if directive == preset.GenderAny {
		return types.GenderNeuter
	}
	g, _ := types.ParseGender(directive)
	return g
}

// effectsOf converts preset effects to their persisted form, preserving order.
func effectsOf(specs []preset.EffectSpec) []npcstore.Effect {
	out := make([]npcstore.Effect, 0, len(specs))
	for _, s := range specs {
		e := npcstore.Effect{Name: s.Name}
		for _, st := range s.Settings {
			e.Settings = append(e.Settings, npcstore.Setting{Key: st.Param, Value: st.Value})
		}
		out = append(out, e)
	}
	return out
}
