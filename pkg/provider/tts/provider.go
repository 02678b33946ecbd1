// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs, Amazon
// Polly, a Coqui server, or a local Piper binary) and presents a uniform
// streaming interface. Every provider emits signed 16-bit little-endian mono
// PCM at the sample rate it reports through [Provider.SampleRate].
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/npcvoice/pkg/types"
)

// ErrCloneUnsupported is returned by CloneVoice on providers that cannot
// create voices.
var ErrCloneUnsupported = errors.New("tts: voice cloning not supported")

// ErrNoAudio is returned by [Synthesize] when a provider finished without
// producing any audio.
var ErrNoAudio = errors.New("tts: provider produced no audio")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits raw PCM audio byte slices as they are
	// synthesised.
	//
	// The returned audio channel is closed by the implementation when all
	// text has been synthesised or when ctx is cancelled. The caller must
	// drain the audio channel to avoid blocking the provider's internal
	// goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// encountered during synthesis are signalled by closing the audio channel
	// early.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider.
	// Providers that know a voice's gender set Metadata["gender"].
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)

	// CloneVoice creates a new voice profile from audio samples. Providers
	// without cloning support return [ErrCloneUnsupported].
	CloneVoice(ctx context.Context, samples [][]byte) (*types.VoiceProfile, error)

	// SampleRate returns the rate in Hz of the PCM this provider emits.
	SampleRate() int
}

// Synthesize renders a whole line through p and returns the concatenated
// PCM. It returns ctx.Err() if the context ended during synthesis and
// [ErrNoAudio] if the stream closed without data.
func Synthesize(ctx context.Context, p Provider, text string, voice types.VoiceProfile) ([]byte, error) {
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audioCh, err := p.SynthesizeStream(ctx, textCh, voice)
	if err != nil {
		return nil, err
	}
	var pcm []byte
	for chunk := range audioCh {
		pcm = append(pcm, chunk...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, ErrNoAudio
	}
	return pcm, nil
}
