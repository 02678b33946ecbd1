package app

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/npcvoice/internal/config"
	"github.com/MrWong99/npcvoice/internal/engine"
	"github.com/MrWong99/npcvoice/internal/observe"
	"github.com/MrWong99/npcvoice/internal/resilience"
	"github.com/MrWong99/npcvoice/pkg/provider/tts"
	"github.com/MrWong99/npcvoice/pkg/provider/tts/coqui"
	"github.com/MrWong99/npcvoice/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/npcvoice/pkg/provider/tts/mock"
	"github.com/MrWong99/npcvoice/pkg/provider/tts/piper"
	"github.com/MrWong99/npcvoice/pkg/provider/tts/polly"
	"github.com/MrWong99/npcvoice/pkg/types"
)

// NewRegistry returns a registry holding every engine that ships with
// npcvoice.
func NewRegistry() *config.Registry {
	reg := config.NewRegistry()
	RegisterBuiltinEngines(reg)
	return reg
}

// RegisterBuiltinEngines wires the built-in engine factories into reg. Each
// factory reads the standard entry fields plus its own options.
func RegisterBuiltinEngines(reg *config.Registry) {
	reg.Register("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if f := entry.OptString("output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if entry.BaseURL != "" {
			ws := entry.OptString("ws_url")
			if ws == "" {
				ws = "ws" + strings.TrimPrefix(entry.BaseURL, "http")
			}
			opts = append(opts, elevenlabs.WithBaseURLs(ws, entry.BaseURL))
		}
		if st, sim := entry.OptFloat("stability"), entry.OptFloat("similarity_boost"); st > 0 || sim > 0 {
			opts = append(opts, elevenlabs.WithVoiceSettings(st, sim))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.Register("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.OptString("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if rate := entry.OptInt("sample_rate"); rate > 0 {
			opts = append(opts, coqui.WithOutputSampleRate(rate))
		}
		if s := entry.OptString("timeout"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("coqui: timeout: %w", err)
			}
			opts = append(opts, coqui.WithTimeout(d))
		}
		for id, g := range entry.OptStringMap("voice_genders") {
			opts = append(opts, coqui.WithVoiceGender(id, g))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.Register("polly", func(entry config.ProviderEntry) (tts.Provider, error) {
		return polly.New(polly.Config{
			Region:       entry.OptString("region"),
			Endpoint:     entry.BaseURL,
			AccessKey:    entry.APIKey,
			SecretKey:    entry.OptString("secret_key"),
			Engine:       entry.OptString("engine"),
			LanguageCode: entry.OptString("language_code"),
			SampleRate:   entry.OptInt("sample_rate"),
		})
	})

	reg.Register("piper", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []piper.Option
		if bin := entry.OptString("binary"); bin != "" {
			opts = append(opts, piper.WithBinary(bin))
		}
		if cfgPath := entry.OptString("config"); cfgPath != "" {
			opts = append(opts, piper.WithConfigPath(cfgPath))
		}
		for id, g := range entry.OptStringMap("voice_genders") {
			opts = append(opts, piper.WithVoiceGender(id, g))
		}
		return piper.New(entry.Model, opts...)
	})

	reg.Register("mock", newMockEngine)
}

// newMockEngine builds an offline engine for dry runs: every line renders as
// a short tone and the voices come from the "voices" option (id: gender).
func newMockEngine(entry config.ProviderEntry) (tts.Provider, error) {
	rate := entry.OptInt("sample_rate")
	if rate <= 0 {
		rate = mock.DefaultSampleRate
	}
	genders := entry.OptStringMap("voices")
	voices := make([]types.VoiceProfile, 0, len(genders))
	for _, id := range slices.Sorted(maps.Keys(genders)) {
		voices = append(voices, types.VoiceProfile{
			ID:       id,
			Name:     id,
			Provider: entry.Name,
			Metadata: map[string]string{"gender": strings.ToLower(genders[id])},
		})
	}
	return &mock.Provider{
		Rate:             rate,
		SynthesizeChunks: [][]byte{tone(rate, 440, 300*time.Millisecond)},
		ListVoicesResult: voices,
	}, nil
}

// tone returns d of a sine at freq Hz as 16-bit little-endian PCM.
func tone(rate int, freq float64, d time.Duration) []byte {
	n := int(float64(rate) * d.Seconds())
	out := make([]byte, 2*n)
	for i := range n {
		v := 0.3 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v*math.MaxInt16)))
	}
	return out
}

// BuildEngines creates every configured engine and returns them as a set
// whose default is cfg.DefaultEngine(). Breaker transitions of failover
// pairs are logged and counted.
func BuildEngines(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*engine.Set, error) {
	fb := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				m.RecordBreakerTransition(context.Background(), name, from.String(), to.String())
				slog.Warn("app: engine circuit breaker changed state", "engine", name, "from", from.String(), "to", to.String())
			},
		},
	}
	set := engine.NewSet(cfg.DefaultEngine(), fb)
	for _, entry := range cfg.Providers.TTS {
		p, err := reg.Create(entry)
		if err != nil {
			return nil, fmt.Errorf("app: build engines: %w", err)
		}
		if err := set.Add(entry.Name, p); err != nil {
			return nil, fmt.Errorf("app: build engines: %w", err)
		}
		slog.Debug("app: engine ready", "engine", entry.Name, "sample_rate", p.SampleRate())
	}
	return set, nil
}
