package tts_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/npcvoice/pkg/provider/tts"
	"github.com/MrWong99/npcvoice/pkg/provider/tts/mock"
	"github.com/MrWong99/npcvoice/pkg/types"
)

func TestSynthesize(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{SynthesizeChunks: [][]byte{{1, 2}, {3, 4}}}
	pcm, err := tts.Synthesize(context.Background(), p, "Halt!", types.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(pcm) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("pcm = %v", pcm)
	}
	calls := p.Calls()
	if len(calls) != 1 || calls[0].Texts[0] != "Halt!" || calls[0].Voice.ID != "v1" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	if _, err := tts.Synthesize(context.Background(), &mock.Provider{SynthesizeErr: boom}, "x", types.VoiceProfile{}); !errors.Is(err, boom) {
		t.Errorf("start error = %v, want boom", err)
	}
	if _, err := tts.Synthesize(context.Background(), &mock.Provider{}, "x", types.VoiceProfile{}); !errors.Is(err, tts.ErrNoAudio) {
		t.Errorf("empty stream error = %v, want ErrNoAudio", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tts.Synthesize(ctx, &mock.Provider{SynthesizeChunks: [][]byte{{1}}}, "x", types.VoiceProfile{}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled error = %v, want context.Canceled", err)
	}
}

func TestFilterByGender(t *testing.T) {
	t.Parallel()

	voices := []tts.VoiceProfile{
		{ID: "a", Metadata: map[string]string{"gender": "male"}},
		{ID: "b", Metadata: map[string]string{"gender": "Female"}},
		{ID: "c"},
		{ID: "d", Metadata: map[string]string{"gender": "MALE"}},
	}

	tests := []struct {
		g    types.Gender
		want []string
	}{
		{types.GenderMale, []string{"a", "d"}},
		{types.GenderFemale, []string{"b"}},
		{types.GenderNeuter, []string{"a", "b", "c", "d"}},
	}
	for _, tt := range tests {
		got := tts.FilterByGender(voices, tt.g)
		if len(got) != len(tt.want) {
			t.Errorf("FilterByGender(%s) = %d voices, want %d", tt.g, len(got), len(tt.want))
			continue
		}
		for i, v := range got {
			if v.ID != tt.want[i] {
				t.Errorf("FilterByGender(%s)[%d] = %q, want %q", tt.g, i, v.ID, tt.want[i])
			}
		}
	}
}
