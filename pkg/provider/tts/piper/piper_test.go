package piper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/MrWong99/npcvoice/pkg/provider/tts"
	"github.com/MrWong99/npcvoice/pkg/types"
)

const multiSpeaker = `{"dataset":"libritts","audio":{"sample_rate":22050},"speaker_id_map":{"p3922":1,"p1001":0}}`

// writeModel creates a fake model file and its config in dir.
func writeModel(t *testing.T, config string) string {
	t.Helper()
	model := filepath.Join(t.TempDir(), "en_US-test-medium.onnx")
	if err := os.WriteFile(model, []byte("onnx"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(model+".json", []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}
	return model
}

// fakePiper writes a shell script that records its arguments and stdin and
// prints body on stdout. Tests that exec it do not run in parallel, since a
// concurrent fork can hold the script open for writing (ETXTBSY).
func fakePiper(t *testing.T, body string, exit int) (bin, record string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	dir := t.TempDir()
	record = filepath.Join(dir, "record")
	bin = filepath.Join(dir, "piper")
	script := "#!/bin/sh\n" +
		"echo \"$@\" > " + record + "\n" +
		"cat >> " + record + "\n" +
		"printf '" + body + "'\n" +
		"exit " + string(rune('0'+exit)) + "\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return bin, record
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New(filepath.Join(t.TempDir(), "missing.onnx")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing config err = %v", err)
	}
	if _, err := New(writeModel(t, `{"audio":{}}`)); err == nil {
		t.Error("expected error for missing sample rate")
	}
	if _, err := New(writeModel(t, `not json`)); err == nil {
		t.Error("expected error for invalid json")
	}

	p, err := New(writeModel(t, `{"audio":{"sample_rate":16000}}`))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.SampleRate() != 16000 || p.modelName != "en_US-test-medium" {
		t.Errorf("rate %d name %q", p.SampleRate(), p.modelName)
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	p, err := New(writeModel(t, multiSpeaker), WithVoiceGender("p3922", "Female"))
	if err != nil {
		t.Fatal(err)
	}
	voices, _ := p.ListVoices(context.Background())
	if len(voices) != 2 || voices[0].ID != "p1001" || voices[1].ID != "p3922" {
		t.Fatalf("voices = %+v", voices)
	}
	if voices[1].Gender() != types.GenderFemale || voices[0].Metadata["model"] != "libritts" {
		t.Errorf("metadata = %v / %v", voices[0].Metadata, voices[1].Metadata)
	}

	single, _ := New(writeModel(t, `{"audio":{"sample_rate":22050}}`))
	voices, _ = single.ListVoices(context.Background())
	if len(voices) != 1 || voices[0].ID != "en_US-test-medium" {
		t.Errorf("single speaker voices = %+v", voices)
	}
}

func TestSynthesizeStream(t *testing.T) {

	bin, record := fakePiper(t, `\001\002\003\004\005`, 0)
	p, err := New(writeModel(t, multiSpeaker), WithBinary(bin))
	if err != nil {
		t.Fatal(err)
	}

	pcm, err := tts.Synthesize(context.Background(), p, "Stand\nyour ground!", types.VoiceProfile{ID: "p3922", SpeedFactor: 2})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(pcm) != "\x01\x02\x03\x04" {
		t.Errorf("pcm = %v, want 4 aligned bytes", pcm)
	}

	rec, err := os.ReadFile(record)
	if err != nil {
		t.Fatal(err)
	}
	got := string(rec)
	for _, want := range []string{"--output-raw", "--speaker 1", "--length_scale 0.500", "Stand your ground!\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("invocation %q missing %q", got, want)
		}
	}
}

func TestSynthesizeStream_Failures(t *testing.T) {

	bin, _ := fakePiper(t, `\001\002`, 1)
	p, _ := New(writeModel(t, multiSpeaker), WithBinary(bin))

	if _, err := p.SynthesizeStream(context.Background(), make(chan string), types.VoiceProfile{ID: "nobody"}); err == nil {
		t.Error("expected error for unknown speaker")
	}
	if _, err := tts.Synthesize(context.Background(), p, "Hi", types.VoiceProfile{}); !errors.Is(err, tts.ErrNoAudio) {
		t.Errorf("non-zero exit err = %v, want ErrNoAudio", err)
	}

	missing, _ := New(writeModel(t, multiSpeaker), WithBinary(filepath.Join(t.TempDir(), "nope")))
	if _, err := tts.Synthesize(context.Background(), missing, "Hi", types.VoiceProfile{}); !errors.Is(err, tts.ErrNoAudio) {
		t.Errorf("missing binary err = %v, want ErrNoAudio", err)
	}
	if _, err := p.CloneVoice(context.Background(), nil); !errors.Is(err, tts.ErrCloneUnsupported) {
		t.Errorf("CloneVoice err = %v", err)
	}
}
