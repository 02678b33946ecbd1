package resilience

import (
	"context"
	"strings"

	"github.com/MrWong99/npcvoice/pkg/audio"
	"github.com/MrWong99/npcvoice/pkg/provider/tts"
)

// FallbackVoiceKey is the VoiceProfile metadata key holding the voice ID to
// use on fallback engines. Without it fallbacks get an empty voice ID and
// speak with their default voice.
const FallbackVoiceKey = "fallback_voice"

type ttsEntry struct {
	provider tts.Provider
	primary  bool
}

// TTSFallback implements [tts.Provider] with failover across several engines.
//
// Synthesis is whole-line: the text channel is collected, then each engine
// renders the complete line until one produces audio. A stream that closes
// without audio counts as a failure. Fallback output is resampled to the
// primary's rate so callers see a single [TTSFallback.SampleRate].
type TTSFallback struct {
	group *FallbackGroup[ttsEntry]
	rate  int
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(ttsEntry{provider: primary, primary: true}, primaryName, cfg),
		rate:  primary.SampleRate(),
	}
}

// AddFallback registers an additional engine.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, ttsEntry{provider: provider})
}

// Names returns the engine names in failover order.
func (f *TTSFallback) Names() []string { return f.group.Names() }

// SampleRate returns the primary engine's rate.
func (f *TTSFallback) SampleRate() int { return f.rate }

// SynthesizeStream collects the text, renders it on the first engine that
// succeeds and emits the PCM as a single chunk. If every engine fails the
// channel closes without data.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	out := make(chan []byte, 1)
	go func() {
		defer close(out)

		var b strings.Builder
		for {
			select {
			case s, ok := <-text:
				if !ok {
					pcm, err := f.synthesize(ctx, b.String(), voice)
					if err == nil {
						out <- pcm
					}
					return
				}
				b.WriteString(s)
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *TTSFallback) synthesize(ctx context.Context, line string, voice tts.VoiceProfile) ([]byte, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, e ttsEntry) ([]byte, error) {
		v := voice
		if !e.primary {
			v.ID = voice.Metadata[FallbackVoiceKey]
		}
		pcm, err := tts.Synthesize(ctx, e.provider, line, v)
		if err != nil {
			return nil, err
		}
		return audio.ResampleMono16(pcm, e.provider.SampleRate(), f.rate), nil
	})
}

// ListVoices returns the voices of the first healthy engine.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, e ttsEntry) ([]tts.VoiceProfile, error) {
		return e.provider.ListVoices(ctx)
	})
}

// CloneVoice creates a new voice profile using the first healthy engine.
func (f *TTSFallback) CloneVoice(ctx context.Context, samples [][]byte) (*tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, e ttsEntry) (*tts.VoiceProfile, error) {
		return e.provider.CloneVoice(ctx, samples)
	})
}
