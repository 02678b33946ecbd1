// Package voice assigns voice configurations to characters.
//
// An [Assigner] turns a preset into a character's persisted configuration:
// it follows the alias table to a preset, resolves random voice directives
// against the bound engines and replaces the character's base config and
// effect chain in one transaction. New characters are onboarded through
// their identity: display name to group, group to alias, alias to preset.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/MrWong99/npcvoice/internal/engine"
	"github.com/MrWong99/npcvoice/internal/identity"
	"github.com/MrWong99/npcvoice/internal/npcstore"
	"github.com/MrWong99/npcvoice/internal/preset"
	"github.com/MrWong99/npcvoice/pkg/provider/tts"
	"github.com/MrWong99/npcvoice/pkg/types"
)

// ErrNoPreset is reported when neither an alias nor a preset exists for the
// requested name. The character keeps its prior configuration.
var ErrNoPreset = errors.New("voice: no preset available")

// Result describes a successful assignment.
type Result struct {
	Character npcstore.Character

	// Preset is the preset that was applied, after alias resolution.
	Preset string

	// Config is what was persisted.
	Config npcstore.Config

	// Skipped lists base-config entries dropped during resolution.
	Skipped []error
}

// Assigner applies presets to characters.
type Assigner struct {
	store      npcstore.Store
	aliases    *preset.AliasStore
	presets    *preset.PresetStore
	engines    *engine.Set
	identities *identity.Resolver

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures an [Assigner].
type Option func(*Assigner)

// WithRand sets the random source used to pick voices.
func WithRand(r *rand.Rand) Option {
	return func(a *Assigner) { a.rng = r }
}

// WithIdentities sets the identity resolver used by [Assigner.Onboard].
// Without it every new character is treated as an unknown identity.
func WithIdentities(r *identity.Resolver) Option {
	return func(a *Assigner) { a.identities = r }
}

// New creates an Assigner.
func New(store npcstore.Store, aliases *preset.AliasStore, presets *preset.PresetStore, engines *engine.Set, opts ...Option) *Assigner {
	a := &Assigner{
		store:   store,
		aliases: aliases,
		presets: presets,
		engines: engines,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ApplyPreset resolves presetName through the alias table and applies the
// preset to the character called name, creating the character if needed.
// presetName must be an existing alias or preset name; unknown names are not
// recorded in the alias table.
//
// genderHint, if it mentions "female" or "male", overrides the gender of
// every random directive. A missing preset returns [ErrNoPreset]. On any error
// the character's configuration is unchanged.
func (a *Assigner) ApplyPreset(ctx context.Context, name, presetName, genderHint string) (Result, error) {
	alias, ok := a.aliases.Lookup(presetName)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrNoPreset, presetName)
	}
	ch, _, err := a.store.EnsureCharacter(ctx, name, types.CategoryNPC)
	if err != nil {
		return Result{}, fmt.Errorf("voice: apply preset: %w", err)
	}
	return a.apply(ctx, ch, presetName, alias, genderHint)
}

// Onboard returns the character called name, creating it with category if
// it does not exist. A newly created character gets the preset of its
// identity's group with the identity's gender as hint. Assignment failures
// are logged, not returned: the character then renders with the default
// engine until a preset is applied.
func (a *Assigner) Onboard(ctx context.Context, name string, category types.Category) (npcstore.Character, error) {
	ch, created, err := a.store.EnsureCharacter(ctx, name, category)
	if err != nil {
		return npcstore.Character{}, fmt.Errorf("voice: onboard %q: %w", name, err)
	}
	if !created {
		return ch, nil
	}

	id, known := a.identities.Resolve(name)
	if !known {
		slog.Debug("voice: no identity for new character", "character", name)
	}
	hint := ""
	if id.Gender != types.GenderNeuter {
		hint = string(id.Gender)
	}
	alias, err := a.aliases.AliasFor(id.Group)
	if err != nil {
		// The alias is still usable; only recording it failed.
		slog.Warn("voice: record alias", "group", id.Group, "alias", alias, "err", err)
	}
	res, err := a.apply(ctx, ch, id.Group, alias, hint)
	if err != nil {
		slog.Warn("voice: could not assign preset to new character", "character", name, "group", id.Group, "err", err)
		return ch, nil
	}
	slog.Info("voice: onboarded character", "character", name, "group", id.Group, "preset", res.Preset, "engine", res.Config.Engine)
	return res.Character, nil
}

func (a *Assigner) apply(ctx context.Context, ch npcstore.Character, presetName, alias, genderHint string) (Result, error) {
	p, ok := a.presets.Preset(alias)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q (alias %q)", ErrNoPreset, presetName, alias)
	}

	primary := p.Engine
	if primary == "" {
		primary = a.engines.Default()
	}
	list := func(ctx context.Context, key string) ([]tts.VoiceProfile, error) {
		name := primary
		if key == preset.SecondaryVoiceKey && p.EngineSecondary != "" {
			name = p.EngineSecondary
		}
		e, err := a.engines.Get(name)
		if err != nil {
			return nil, err
		}
		return e.ListVoices(ctx)
	}

	resolved, err := Resolve(ctx, p, genderHint, list, a.pick)
	if err != nil {
		return Result{}, err
	}
	cfg := npcstore.Config{
		Engine:          primary,
		EngineSecondary: p.EngineSecondary,
		BaseConfig:      resolved.BaseConfig,
		Effects:         effectsOf(p.Effects),
	}
	if err := a.store.ReplaceConfig(ctx, ch.ID, cfg); err != nil {
		return Result{}, fmt.Errorf("voice: apply preset %q to %q: %w", alias, ch.Name, err)
	}
	ch.Engine, ch.EngineSecondary = cfg.Engine, cfg.EngineSecondary
	return Result{Character: ch, Preset: alias, Config: cfg, Skipped: resolved.Skipped}, nil
}

func (a *Assigner) pick(n int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rng.IntN(n)
}
