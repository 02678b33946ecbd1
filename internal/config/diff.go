package config

import (
	"fmt"
	"slices"
)

// ConfigDiff describes what changed between two configs. Only the log level
// and the alias and preset paths can be applied without a restart; every
// other change is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	AliasesChanged bool
	PresetsChanged bool

	// RestartRequired names the changed sections that only take effect after
	// a restart, e.g. "store" or "providers.tts".
	RestartRequired []string
}

// HotReloadable reports whether any change can be applied in place.
func (d ConfigDiff) HotReloadable() bool {
	return d.LogLevelChanged || d.AliasesChanged || d.PresetsChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.AliasesChanged = old.Paths.Aliases != new.Paths.Aliases
	d.PresetsChanged = old.Paths.Presets != new.Paths.Presets

	restart := func(section string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, section)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("paths.identities", old.Paths.Identities != new.Paths.Identities)
	restart("paths.clip_library", old.Paths.ClipLibrary != new.Paths.ClipLibrary)
	restart("paths.work_dir", old.Paths.WorkDir != new.Paths.WorkDir)
	restart("store", old.Store != new.Store)
	restart("providers.tts", !slices.EqualFunc(old.Providers.TTS, new.Providers.TTS, sameEntry))
	restart("voice", old.Voice != new.Voice)
	restart("queue", old.Queue != new.Queue)
	restart("logtail", old.Logtail != new.Logtail)
	restart("playback", old.Playback != new.Playback)

	return d
}

// sameEntry compares two engine entries. Options are compared by their
// string rendering, which is enough to notice an edit.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(w) {
			return false
		}
	}
	return true
}
