package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/npcvoice/internal/logtail"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NPCVOICE_"

// ValidProviderNames lists the engines that ship with npcvoice. Used by
// [Validate] to warn about unrecognised names.
var ValidProviderNames = []string{"elevenlabs", "coqui", "polly", "piper", "mock"}

// envOverrides are the settings that may be supplied through the
// environment. Secrets in particular should not live in the YAML file.
type envOverrides struct {
	LogLevel        string `env:"LOG_LEVEL"`
	ListenAddr      string `env:"LISTEN_ADDR"`
	StoreDriver     string `env:"STORE_DRIVER"`
	StoreDSN        string `env:"STORE_DSN"`
	ClipLibrary     string `env:"CLIP_LIBRARY"`
	WorkDir         string `env:"WORK_DIR"`
	LogDir          string `env:"LOG_DIR"`
	PlaybackCommand string `env:"PLAYBACK_COMMAND"`
	QueueSize       int    `env:"QUEUE_SIZE"`

	// APIKeys is "engine:key" pairs, e.g. "elevenlabs:sk-1,polly:AKIA...".
	APIKeys map[string]string `env:"TTS_API_KEYS"`
}

// Load reads the YAML configuration file at path, applies NPCVOICE_*
// environment overrides and returns the validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := load(f, true)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result. The
// environment is not consulted. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	return load(r, false)
}

func load(r io.Reader, withEnv bool) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if withEnv {
		if err := ApplyEnv(cfg, nil); err != nil {
			return nil, err
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays NPCVOICE_* variables onto cfg. environ replaces the
// process environment when non-nil.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	var o envOverrides
	opts := env.Options{Prefix: EnvPrefix, Environment: environ}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("config: parse environment: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	if o.LogLevel != "" {
		cfg.Server.LogLevel = LogLevel(o.LogLevel)
	}
	set(&cfg.Server.ListenAddr, o.ListenAddr)
	set(&cfg.Store.Driver, o.StoreDriver)
	set(&cfg.Store.DSN, o.StoreDSN)
	set(&cfg.Paths.ClipLibrary, o.ClipLibrary)
	set(&cfg.Paths.WorkDir, o.WorkDir)
	set(&cfg.Logtail.Dir, o.LogDir)
	set(&cfg.Playback.Command, o.PlaybackCommand)
	if o.QueueSize > 0 {
		cfg.Queue.Size = o.QueueSize
	}
	for i := range cfg.Providers.TTS {
		if key, ok := o.APIKeys[cfg.Providers.TTS[i].Name]; ok {
			cfg.Providers.TTS[i].APIKey = key
		}
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Paths.ClipLibrary == "" {
		errs = append(errs, errors.New("paths.clip_library is required"))
	}
	if cfg.Paths.Aliases == "" {
		errs = append(errs, errors.New("paths.aliases is required"))
	}
	if cfg.Paths.Presets == "" {
		errs = append(errs, errors.New("paths.presets is required"))
	}

	switch cfg.Store.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: sqlite, postgres", cfg.Store.Driver))
	}
	if cfg.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}

	if len(cfg.Providers.TTS) == 0 {
		errs = append(errs, errors.New("providers.tts must list at least one engine"))
	}
	seen := make(map[string]int, len(cfg.Providers.TTS))
	for i, e := range cfg.Providers.TTS {
		prefix := fmt.Sprintf("providers.tts[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.tts[%d]", prefix, e.Name, prev))
		}
		seen[e.Name] = i
		if !slices.Contains(ValidProviderNames, e.Name) {
			slog.Warn("unknown tts engine name, may be a typo or third-party engine",
				"name", e.Name,
				"known", ValidProviderNames,
			)
		}
	}

	if def := cfg.Voice.DefaultEngine; def != "" {
		if _, ok := seen[def]; !ok {
			errs = append(errs, fmt.Errorf("voice.default_engine %q is not listed in providers.tts", def))
		}
	}
	if c := cfg.Voice.DefaultCategory; c != "" && !c.IsValid() {
		errs = append(errs, fmt.Errorf("voice.default_category %q is invalid; valid values: npc, player, system", c))
	}

	if cfg.Queue.Size < 0 {
		errs = append(errs, fmt.Errorf("queue.size %d must not be negative", cfg.Queue.Size))
	}
	if cfg.Logtail.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("logtail.poll_interval %s must not be negative", cfg.Logtail.PollInterval))
	}
	if cfg.Logtail.SpeechPattern != "" || cfg.Logtail.AchievementPattern != "" {
		_, err := logtail.NewParser(logtail.Config{
			Speech:             true,
			SpeechPattern:      cfg.Logtail.SpeechPattern,
			Achievements:       true,
			AchievementPattern: cfg.Logtail.AchievementPattern,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
