package preset_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/MrWong99/npcvoice/internal/preset"
)

const presetsJSON = `{
  "grumpy_dwarf": {
    "engine": "polly",
    "engine_secondary": "piper",
    "base_config": [["voice", {"directive": "random", "gender": "male"}], ["speed_factor", "0.9"]],
    "effects": [["PitchShift", [["semitones", -3]]], ["Gain", [["gain_db", 2.5]]]]
  },
  "Nemesis": {
    "engine": "mock",
    "base_config": [["voice", "('random', 'female')"], ["style", 3]],
    "effects": []
  }
}`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// bumpMtime moves the file's modification time forward so the change is
// visible even on filesystems with coarse timestamps.
func bumpMtime(t *testing.T, path string, by time.Duration) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	mt := info.ModTime().Add(by)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatal(err)
	}
}

func TestDecodeFile(t *testing.T) {
	t.Parallel()

	presets, err := preset.DecodeFile([]byte(presetsJSON))
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}

	dwarf := presets["grumpy_dwarf"]
	if dwarf.Engine != "polly" || dwarf.EngineSecondary != "piper" {
		t.Errorf("engines = %q/%q", dwarf.Engine, dwarf.EngineSecondary)
	}
	wantBase := []preset.Entry{
		{Key: "voice", Value: preset.Directive{Mode: "random", Gender: "male"}},
		{Key: "speed_factor", Value: preset.Concrete("0.9")},
	}
	if !reflect.DeepEqual(dwarf.BaseConfig, wantBase) {
		t.Errorf("BaseConfig = %#v, want %#v", dwarf.BaseConfig, wantBase)
	}
	wantEffects := []preset.EffectSpec{
		{Name: "PitchShift", Settings: []preset.Setting{{Param: "semitones", Value: "-3"}}},
		{Name: "Gain", Settings: []preset.Setting{{Param: "gain_db", Value: "2.5"}}},
	}
	if !reflect.DeepEqual(dwarf.Effects, wantEffects) {
		t.Errorf("Effects = %#v, want %#v", dwarf.Effects, wantEffects)
	}

	nem := presets["Nemesis"]
	if got := nem.BaseConfig[0].Value; got != (preset.Directive{Mode: "random", Gender: "female"}) {
		t.Errorf("legacy directive = %#v", got)
	}
	if got := nem.BaseConfig[1].Value; got != preset.Concrete("3") {
		t.Errorf("numeric value = %#v, want Concrete(3)", got)
	}
}

func TestDecodeFile_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: `{`},
		{name: "short pair", data: `{"p": {"base_config": [["voice"]]}}`},
		{name: "directive without mode", data: `{"p": {"base_config": [["voice", {"gender": "male"}]]}}`},
		{name: "directive unknown field", data: `{"p": {"base_config": [["voice", {"directive": "random", "pitch": 1}]]}}`},
		{name: "null value", data: `{"p": {"base_config": [["voice", null]]}}`},
		{name: "bad setting", data: `{"p": {"effects": [["Gain", [["gain_db", true]]]]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := preset.DecodeFile([]byte(tt.data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestEncodeFile_RoundTrip(t *testing.T) {
	t.Parallel()

	in, err := preset.DecodeFile([]byte(presetsJSON))
	if err != nil {
		t.Fatal(err)
	}
	data, err := preset.EncodeFile(in)
	if err != nil {
		t.Fatalf("EncodeFile: %v", err)
	}
	out, err := preset.DecodeFile(data)
	if err != nil {
		t.Fatalf("DecodeFile(encoded): %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip mismatch:\n in  %#v\n out %#v", in, out)
	}
}

func TestParseValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want preset.Value
	}{
		{"('random', 'male')", preset.Directive{Mode: "random", Gender: "male"}},
		{"( 'random' , 'any' )", preset.Directive{Mode: "random", Gender: "any"}},
		{"('cycle', 'female')", preset.Directive{Mode: "cycle", Gender: "female"}},
		{"Joanna", preset.Concrete("Joanna")},
		{"(random, male)", preset.Concrete("(random, male)")},
	}
	for _, tt := range tests {
		if got := preset.ParseValue(tt.in); got != tt.want {
			t.Errorf("ParseValue(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestPresetStore_Defaults(t *testing.T) {
	t.Parallel()

	s := preset.NewPresetStore(filepath.Join(t.TempDir(), "missing.json"))
	p, ok := s.Preset(preset.GenericRandomAny)
	if !ok {
		t.Fatal("built-in preset missing")
	}
	if !p.HasDirectives() {
		t.Error("generic_random_any should carry a voice directive")
	}
	if _, ok := s.Preset("grumpy_dwarf"); ok {
		t.Error("unexpected preset without file")
	}
}

func TestPresetStore_MtimeInvalidation(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "presets.json")
	writeFile(t, path, presetsJSON)
	s := preset.NewPresetStore(path)

	if !s.Has("grumpy_dwarf") || !s.Has(preset.GenericRandomMale) {
		t.Fatalf("names = %v", s.Names())
	}

	writeFile(t, path, `{"elf": {"engine": "mock", "base_config": [], "effects": []}}`)
	bumpMtime(t, path, 2*time.Second)

	if s.Has("grumpy_dwarf") {
		t.Error("stale preset served after file changed")
	}
	if !s.Has("elf") {
		t.Error("new preset not picked up")
	}
}

func TestPresetStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "presets.json")
	writeFile(t, path, presetsJSON)
	s := preset.NewPresetStore(path)

	p, _ := s.Preset("grumpy_dwarf")
	p.BaseConfig[0].Value = preset.Concrete("hacked")
	p.Effects[0].Settings[0].Value = "99"

	again, _ := s.Preset("grumpy_dwarf")
	if _, ok := again.BaseConfig[0].Value.(preset.Directive); !ok {
		t.Error("stored preset base config was mutated through a returned copy")
	}
	if again.Effects[0].Settings[0].Value != "-3" {
		t.Error("stored preset effects were mutated through a returned copy")
	}
}

func TestPresetStore_BadFileKeepsLastGood(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "presets.json")
	writeFile(t, path, presetsJSON)
	s := preset.NewPresetStore(path)
	if !s.Has("grumpy_dwarf") {
		t.Fatal("initial load failed")
	}

	writeFile(t, path, `{broken`)
	if err := s.Reload(); err == nil {
		t.Fatal("Reload of malformed file returned nil")
	}
	if !s.Has("grumpy_dwarf") {
		t.Error("last good presets discarded after malformed reload")
	}
}

func TestPresetStore_SetPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	writeFile(t, a, presetsJSON)
	writeFile(t, b, `{"elf": {"base_config": [], "effects": []}}`)

	s := preset.NewPresetStore(a)
	if !s.Has("grumpy_dwarf") {
		t.Fatal("initial load failed")
	}
	if err := s.SetPath(b); err != nil {
		t.Fatalf("SetPath: %v", err)
	}
	if s.Has("grumpy_dwarf") || !s.Has("elf") {
		t.Errorf("names after SetPath = %v", s.Names())
	}
	if s.Path() != b {
		t.Errorf("Path = %q, want %q", s.Path(), b)
	}
}
