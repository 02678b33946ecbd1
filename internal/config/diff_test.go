package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/npcvoice/internal/config"
)

func baseConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Providers.TTS = []config.ProviderEntry{
		{Name: "polly", Options: map[string]any{"region": "eu-west-1"}},
		{Name: "piper", Model: "/models/vctk.onnx"},
	}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(baseConfig(), baseConfig())
	if d.HotReloadable() || len(d.RestartRequired) != 0 {
		t.Errorf("Diff of identical configs = %+v", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug
	new.Paths.Presets = "presets-v2.json"

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v/%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.PresetsChanged || d.AliasesChanged {
		t.Errorf("presets/aliases = %v/%v", d.PresetsChanged, d.AliasesChanged)
	}
	if !d.HotReloadable() || len(d.RestartRequired) != 0 {
		t.Errorf("Diff = %+v", d)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   []string
	}{
		{"store dsn", func(c *config.Config) { c.Store.DSN = "other.db" }, []string{"store"}},
		{"engine option", func(c *config.Config) { c.Providers.TTS[0].Options["region"] = "us-east-1" }, []string{"providers.tts"}},
		{"engine added", func(c *config.Config) {
			c.Providers.TTS = append(c.Providers.TTS, config.ProviderEntry{Name: "mock"})
		}, []string{"providers.tts"}},
		{"queue and playback", func(c *config.Config) {
			c.Queue.Size = 8
			c.Playback.Command = "paplay"
		}, []string{"queue", "playback"}},
		{"clip library", func(c *config.Config) { c.Paths.ClipLibrary = "/srv/clips" }, []string{"paths.clip_library"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			new := baseConfig()
			tt.mutate(new)
			d := config.Diff(baseConfig(), new)
			if !slices.Equal(d.RestartRequired, tt.want) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.want)
			}
			if d.HotReloadable() {
				t.Error("HotReloadable = true")
			}
		})
	}
}
