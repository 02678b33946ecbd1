package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/npcvoice/pkg/audio"
	"github.com/MrWong99/npcvoice/pkg/provider/tts"
	ttsmock "github.com/MrWong99/npcvoice/pkg/provider/tts/mock"
	"github.com/MrWong99/npcvoice/pkg/types"
)

func TestTTSFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 0}, {2, 0}}, Rate: 16000}
	secondary := &ttsmock.Provider{SynthesizeChunks: [][]byte{{9, 9}}}
	fb := NewTTSFallback(primary, "polly", FallbackConfig{})
	fb.AddFallback("piper", secondary)

	pcm, err := tts.Synthesize(context.Background(), fb, "Hail!", types.VoiceProfile{ID: "Brian"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(pcm) != "\x01\x00\x02\x00" {
		t.Errorf("pcm = %v", pcm)
	}
	if fb.SampleRate() != 16000 {
		t.Errorf("SampleRate = %d", fb.SampleRate())
	}
	if len(secondary.Calls()) != 0 {
		t.Errorf("secondary called %d times", len(secondary.Calls()))
	}
	if got := primary.Calls()[0]; got.Voice.ID != "Brian" || got.Texts[0] != "Hail!" {
		t.Errorf("primary call = %+v", got)
	}
}

func TestTTSFallback_FailoverOnStartError(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{SynthesizeErr: errors.New("throttled"), Rate: 16000}
	// One second at 8 kHz must come back as one second at 16 kHz.
	secondary := &ttsmock.Provider{SynthesizeChunks: [][]byte{make([]byte, 16000)}, Rate: 8000}
	fb := NewTTSFallback(primary, "polly", FallbackConfig{})
	fb.AddFallback("piper", secondary)

	voice := types.VoiceProfile{ID: "Brian", Metadata: map[string]string{FallbackVoiceKey: "p225"}}
	pcm, err := tts.Synthesize(context.Background(), fb, "Hail!", voice)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if d := (audio.Format{SampleRate: 16000, Channels: 1}).Duration(len(pcm)); d.Seconds() != 1 {
		t.Errorf("fallback audio lasts %v at the primary rate, want 1s", d)
	}
	if got := secondary.Calls()[0].Voice.ID; got != "p225" {
		t.Errorf("fallback voice = %q, want p225", got)
	}
}

func TestTTSFallback_FailoverOnEmptyStream(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{}
	secondary := &ttsmock.Provider{SynthesizeChunks: [][]byte{{7, 0}}}
	fb := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	fb.AddFallback("coqui", secondary)

	pcm, err := tts.Synthesize(context.Background(), fb, "Hail!", types.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(pcm) != "\x07\x00" {
		t.Errorf("pcm = %v", pcm)
	}
	if secondary.Calls()[0].Voice.ID != "" {
		t.Errorf("fallback without mapping should get the default voice, got %q", secondary.Calls()[0].Voice.ID)
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	t.Parallel()

	fb := NewTTSFallback(&ttsmock.Provider{}, "a", FallbackConfig{})
	fb.AddFallback("b", &ttsmock.Provider{SynthesizeErr: errors.New("down")})
	if _, err := tts.Synthesize(context.Background(), fb, "x", types.VoiceProfile{}); !errors.Is(err, tts.ErrNoAudio) {
		t.Errorf("err = %v, want ErrNoAudio", err)
	}
}

func TestTTSFallback_ListVoices(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{ListVoicesErr: errors.New("down")}
	secondary := &ttsmock.Provider{ListVoicesResult: []types.VoiceProfile{{ID: "p225"}}}
	fb := NewTTSFallback(primary, "a", FallbackConfig{})
	fb.AddFallback("b", secondary)

	voices, err := fb.ListVoices(context.Background())
	if err != nil || len(voices) != 1 || voices[0].ID != "p225" {
		t.Errorf("ListVoices = %v, %v", voices, err)
	}
	if _, err := fb.CloneVoice(context.Background(), nil); !errors.Is(err, ErrAllFailed) || !errors.Is(err, tts.ErrCloneUnsupported) {
		t.Errorf("CloneVoice err = %v", err)
	}
	if names := fb.Names(); len(names) != 2 || names[0] != "a" {
		t.Errorf("Names = %v", names)
	}
}
