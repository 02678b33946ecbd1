package voice_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/npcvoice/internal/effects"
	"github.com/MrWong99/npcvoice/internal/engine"
	"github.com/MrWong99/npcvoice/internal/identity"
	"github.com/MrWong99/npcvoice/internal/npcstore"
	"github.com/MrWong99/npcvoice/internal/preset"
	"github.com/MrWong99/npcvoice/internal/resilience"
	"github.com/MrWong99/npcvoice/internal/voice"
	ttsmock "github.com/MrWong99/npcvoice/pkg/provider/tts/mock"
	"github.com/MrWong99/npcvoice/pkg/types"
)

const presetsJSON = `{
  "Nemesis": {
    "engine": "polly",
    "engine_secondary": "piper",
    "base_config": [
      ["voice", {"directive": "random", "gender": "any"}],
      ["voice_secondary", "('random', 'any')"],
      ["speed_factor", "0.9"]
    ],
    "effects": [
      ["PitchShift", [["semitones", -3]]],
      ["Chorus", [["rate_hz", 1.5], ["mix", 0.3]]],
      ["Gain", []]
    ]
  },
  "oracle": {
    "engine": "polly",
    "base_config": [
      ["voice", {"directive": "sequential", "gender": "female"}],
      ["speed_factor", "1.1"]
    ],
    "effects": []
  }
}`

func gendered(id, gender string) types.VoiceProfile {
	return types.VoiceProfile{ID: id, Metadata: map[string]string{"gender": gender}}
}

var pollyVoices = []types.VoiceProfile{
	gendered("Hans", "male"),
	gendered("Brian", "male"),
	gendered("Marlene", "female"),
	gendered("Vicki", "female"),
}

var piperVoices = []types.VoiceProfile{gendered("p225", "female"), gendered("p226", "male")}

type fixture struct {
	store     *npcstore.SQLiteStore
	assigner  *voice.Assigner
	polly     *ttsmock.Provider
	piper     *ttsmock.Provider
	aliasPath string
}

func newFixture(t *testing.T, aliases string, opts ...voice.Option) *fixture {
	t.Helper()
	dir := t.TempDir()

	presetPath := filepath.Join(dir, "presets.json")
	if err := os.WriteFile(presetPath, []byte(presetsJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	aliasPath := filepath.Join(dir, "aliases.json")
	if aliases != "" {
		if err := os.WriteFile(aliasPath, []byte(aliases), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	presets := preset.NewPresetStore(presetPath)
	aliasStore := preset.NewAliasStore(aliasPath, presets)

	store, err := npcstore.OpenSQLite(filepath.Join(dir, "npcvoice.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	f := &fixture{
		store:     store,
		polly:     &ttsmock.Provider{ListVoicesResult: pollyVoices},
		piper:     &ttsmock.Provider{ListVoicesResult: piperVoices},
		aliasPath: aliasPath,
	}
	engines := engine.NewSet("polly", resilience.FallbackConfig{})
	if err := engines.Add("polly", f.polly); err != nil {
		t.Fatal(err)
	}
	if err := engines.Add("piper", f.piper); err != nil {
		t.Fatal(err)
	}
	opts = append([]voice.Option{voice.WithRand(rand.New(rand.NewPCG(1, 2)))}, opts...)
	f.assigner = voice.New(store, aliasStore, presets, engines, opts...)
	return f
}

func idsOf(voices []types.VoiceProfile) []string {
	out := make([]string, len(voices))
	for i, v := range voices {
		out[i] = v.ID
	}
	return out
}

func TestApplyPreset_PersistsResolvedConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	ctx := context.Background()

	res, err := f.assigner.ApplyPreset(ctx, "Colonel", "Nemesis", "")
	if err != nil {
		t.Fatalf("ApplyPreset: %v", err)
	}
	if res.Preset != "Nemesis" || len(res.Skipped) != 0 {
		t.Errorf("result = %+v", res)
	}

	ch, err := f.store.Character(ctx, "Colonel")
	if err != nil {
		t.Fatalf("Character: %v", err)
	}
	if ch.Engine != "polly" || ch.EngineSecondary != "piper" || ch.Category != types.CategoryNPC {
		t.Errorf("character = %+v", ch)
	}

	base, err := f.store.BaseConfig(ctx, ch.ID)
	if err != nil {
		t.Fatalf("BaseConfig: %v", err)
	}
	if len(base) != 3 {
		t.Fatalf("base config = %v", base)
	}
	if base[0].Key != "voice" || !slices.Contains(idsOf(pollyVoices), base[0].Value) {
		t.Errorf("voice = %+v, want a polly voice", base[0])
	}
	if base[1].Key != "voice_secondary" || !slices.Contains(idsOf(piperVoices), base[1].Value) {
		t.Errorf("voice_secondary = %+v, want a piper voice", base[1])
	}
	if base[2] != (npcstore.ConfigEntry{Key: "speed_factor", Value: "0.9"}) {
		t.Errorf("speed_factor = %+v", base[2])
	}

	stored, err := f.store.Effects(ctx, ch.ID)
	if err != nil {
		t.Fatalf("Effects: %v", err)
	}
	var names []string
	for _, e := range stored {
		names = append(names, e.Name)
	}
	if !slices.Equal(names, []string{"PitchShift", "Chorus", "Gain"}) {
		t.Errorf("effect order = %v", names)
	}
	wantChorus := []npcstore.Setting{{Key: "rate_hz", Value: "1.5"}, {Key: "mix", Value: "0.3"}}
	if !reflect.DeepEqual(stored[1].Settings, wantChorus) {
		t.Errorf("chorus settings = %v, want %v", stored[1].Settings, wantChorus)
	}

	// Applying a preset by name leaves the alias table alone.
	if _, err := os.Stat(f.aliasPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("alias file written by ApplyPreset: %v", err)
	}
}

func TestApplyPreset_EffectSettingsReachEffects(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	ctx := context.Background()
	res, err := f.assigner.ApplyPreset(ctx, "Colonel", "Nemesis", "")
	if err != nil {
		t.Fatalf("ApplyPreset: %v", err)
	}
	cfg, err := f.store.Snapshot(ctx, res.Character.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	want := []struct {
		effect string
		params map[string]float64
	}{
		{"PitchShift", map[string]float64{"semitones": -3}},
		{"Chorus", map[string]float64{"rate_hz": 1.5, "mix": 0.3}},
		{"Gain", nil},
	}
	if len(cfg.Effects) != len(want) {
		t.Fatalf("effects = %+v, want %d", cfg.Effects, len(want))
	}
	for i, w := range want {
		stored := cfg.Effects[i]
		settings := make([]effects.Setting, len(stored.Settings))
		for j, st := range stored.Settings {
			settings[j] = effects.Setting{Param: st.Key, Value: st.Value}
		}
		fx, skipped, err := effects.Build(stored.Name, settings)
		if err != nil || len(skipped) != 0 {
			t.Fatalf("Build(%s) = %v, skipped %v", stored.Name, err, skipped)
		}
		if fx.Name() != w.effect {
			t.Errorf("effect %d = %s, want %s", i, fx.Name(), w.effect)
		}
		for param, v := range w.params {
			if got, ok := fx.Value(param); !ok || got != v {
				t.Errorf("%s.%s = %v (%v), want %v", w.effect, param, got, ok, v)
			}
		}
	}
}

func TestApplyPreset_ReapplyNeverLeavesDirectives(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	ctx := context.Background()
	for range 20 {
		res, err := f.assigner.ApplyPreset(ctx, "Colonel", "generic_random_any", "")
		if err != nil {
			t.Fatalf("ApplyPreset: %v", err)
		}
		got, _ := npcstore.Lookup(res.Config.BaseConfig, preset.VoiceKey)
		if !slices.Contains(idsOf(pollyVoices), got) {
			t.Fatalf("voice = %q, want a concrete polly voice", got)
		}
		if _, isDirective := preset.ParseValue(got).(preset.Directive); isDirective {
			t.Fatalf("persisted a raw directive %q", got)
		}
	}

	ch, _ := f.store.Character(ctx, "Colonel")
	base, _ := f.store.BaseConfig(ctx, ch.ID)
	if len(base) != 1 {
		t.Errorf("re-apply should overwrite, got %v", base)
	}
}

func TestApplyPreset_GenderHint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		preset string
		hint   string
		want   []string
	}{
		{"generic_random_male", "", []string{"Hans", "Brian"}},
		{"generic_random_female", "", []string{"Marlene", "Vicki"}},
		{"generic_random_male", "a Female elf", []string{"Marlene", "Vicki"}},
		{"generic_random_any", "MALE", []string{"Hans", "Brian"}},
		{"generic_random_female", "unknown", []string{"Marlene", "Vicki"}},
	}
	for _, tt := range tests {
		t.Run(tt.preset+"/"+tt.hint, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, "")
			for range 10 {
				res, err := f.assigner.ApplyPreset(context.Background(), "Colonel", tt.preset, tt.hint)
				if err != nil {
					t.Fatalf("ApplyPreset: %v", err)
				}
				got, _ := npcstore.Lookup(res.Config.BaseConfig, preset.VoiceKey)
				if !slices.Contains(tt.want, got) {
					t.Fatalf("voice = %q, want one of %v", got, tt.want)
				}
			}
		})
	}
}

func TestApplyPreset_UnsupportedDirectiveSkipsEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	res, err := f.assigner.ApplyPreset(context.Background(), "Seer", "oracle", "")
	if err != nil {
		t.Fatalf("ApplyPreset: %v", err)
	}
	if len(res.Skipped) != 1 || !errors.Is(res.Skipped[0], voice.ErrUnsupportedDirective) {
		t.Fatalf("skipped = %v", res.Skipped)
	}
	want := []npcstore.ConfigEntry{{Key: "speed_factor", Value: "1.1"}}
	if !reflect.DeepEqual(res.Config.BaseConfig, want) {
		t.Errorf("base config = %v, want %v", res.Config.BaseConfig, want)
	}
}

func TestApplyPreset_NoPresetKeepsConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"Dwarves": "missing_preset"}`)
	ctx := context.Background()
	if _, err := f.assigner.ApplyPreset(ctx, "Gimli", "Nemesis", ""); err != nil {
		t.Fatalf("ApplyPreset: %v", err)
	}

	_, err := f.assigner.ApplyPreset(ctx, "Gimli", "Dwarves", "")
	if !errors.Is(err, voice.ErrNoPreset) {
		t.Fatalf("err = %v, want ErrNoPreset", err)
	}
	ch, _ := f.store.Character(ctx, "Gimli")
	base, _ := f.store.BaseConfig(ctx, ch.ID)
	if len(base) != 3 || ch.Engine != "polly" {
		t.Errorf("prior configuration lost: %+v %v", ch, base)
	}
}

func TestApplyPreset_UnknownNameKeepsConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"Dwarves": "Nemesis"}`)
	ctx := context.Background()
	if _, err := f.assigner.ApplyPreset(ctx, "Brokk", "Dwarves", ""); err != nil {
		t.Fatalf("ApplyPreset: %v", err)
	}
	ch, _ := f.store.Character(ctx, "Brokk")
	before, _ := f.store.BaseConfig(ctx, ch.ID)

	// A typo must neither fall back to a generic voice nor become an alias.
	res, err := f.assigner.ApplyPreset(ctx, "Brokk", "Nemsis", "")
	if !errors.Is(err, voice.ErrNoPreset) {
		t.Fatalf("err = %v (preset %q), want ErrNoPreset", err, res.Preset)
	}
	after, _ := f.store.BaseConfig(ctx, ch.ID)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("config changed: %v -> %v", before, after)
	}
	if ch, _ = f.store.Character(ctx, "Brokk"); ch.Engine != "polly" || ch.EngineSecondary != "piper" {
		t.Errorf("engines changed: %+v", ch)
	}
	data, err := os.ReadFile(f.aliasPath)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "Nemsis") {
		t.Errorf("alias file recorded the unknown name: %s", data)
	}

	if _, err := f.assigner.ApplyPreset(ctx, "Nobody", "Nemsis", ""); !errors.Is(err, voice.ErrNoPreset) {
		t.Fatalf("err = %v, want ErrNoPreset", err)
	}
	if _, err := f.store.Character(ctx, "Nobody"); err == nil {
		t.Error("unknown preset created a character")
	}
}

func TestApplyPreset_ListVoicesFailureKeepsConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	ctx := context.Background()
	if _, err := f.assigner.ApplyPreset(ctx, "Colonel", "Nemesis", ""); err != nil {
		t.Fatalf("ApplyPreset: %v", err)
	}
	ch, _ := f.store.Character(ctx, "Colonel")
	before, _ := f.store.BaseConfig(ctx, ch.ID)

	f.polly.ListVoicesErr = errors.New("throttled")
	if _, err := f.assigner.ApplyPreset(ctx, "Colonel", "generic_random_male", ""); err == nil {
		t.Fatal("expected an error")
	}
	after, _ := f.store.BaseConfig(ctx, ch.ID)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("config changed on failure: %v -> %v", before, after)
	}
}

func TestOnboard(t *testing.T) {
	t.Parallel()

	male := identity.GenderMale
	ids := identity.NewResolver(identity.Dataset{
		"Colonel": {Gender: &male, GroupName: "Nemesis", Description: "Commander of the guard"},
	})
	f := newFixture(t, "", voice.WithIdentities(ids))
	ctx := context.Background()

	ch, err := f.assigner.Onboard(ctx, "Colonel", types.CategoryNPC)
	if err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	if ch.Engine != "polly" || ch.EngineSecondary != "piper" {
		t.Errorf("character = %+v", ch)
	}
	base, _ := f.store.BaseConfig(ctx, ch.ID)
	v, _ := npcstore.Lookup(base, preset.VoiceKey)
	if v != "Hans" && v != "Brian" {
		t.Errorf("voice = %q, want a male voice from the identity's gender", v)
	}
	sec, _ := npcstore.Lookup(base, preset.SecondaryVoiceKey)
	if sec != "p226" {
		t.Errorf("voice_secondary = %q, want the only male piper voice", sec)
	}

	// Known characters are not re-assigned.
	calls := f.polly.ListVoicesCalls()
	if _, err := f.assigner.Onboard(ctx, "Colonel", types.CategoryNPC); err != nil {
		t.Fatalf("second Onboard: %v", err)
	}
	if f.polly.ListVoicesCalls() != calls {
		t.Error("second Onboard re-resolved the preset")
	}
}

func TestOnboard_UnknownIdentityUsesFallback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	ch, err := f.assigner.Onboard(context.Background(), "Stranger", types.CategoryPlayer)
	if err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	if ch.Category != types.CategoryPlayer || ch.Engine != "polly" {
		t.Errorf("character = %+v", ch)
	}
	base, _ := f.store.BaseConfig(context.Background(), ch.ID)
	if v, _ := npcstore.Lookup(base, preset.VoiceKey); !slices.Contains(idsOf(pollyVoices), v) {
		t.Errorf("voice = %q", v)
	}
}

func TestOnboard_AssignmentFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	f.polly.ListVoicesErr = errors.New("down")
	ch, err := f.assigner.Onboard(context.Background(), "Stranger", types.CategoryNPC)
	if err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	if ch.Name != "Stranger" || ch.Engine != "" {
		t.Errorf("character = %+v", ch)
	}
}
