// Package piper runs the Piper neural TTS binary as a local subprocess.
//
// Each synthesis starts `piper --model M --output-raw`, writes the line to
// its stdin and streams the raw 16-bit mono PCM from stdout. The sample rate
// and the speaker table are read from the model's JSON config.
package piper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/MrWong99/npcvoice/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const defaultBinary = "piper"

// Option configures a Provider.
type Option func(*Provider)

// WithBinary sets the piper executable. Defaults to "piper" on PATH.
func WithBinary(path string) Option {
	return func(p *Provider) { p.binary = path }
}

// WithConfigPath overrides the model config location (default: model + ".json").
func WithConfigPath(path string) Option {
	return func(p *Provider) { p.configPath = path }
}

// WithVoiceGender tags a voice ID with a gender for ListVoices.
func WithVoiceGender(voiceID, gender string) Option {
	return func(p *Provider) {
		if p.genders == nil {
			p.genders = make(map[string]string)
		}
		p.genders[voiceID] = strings.ToLower(gender)
	}
}

// Provider implements tts.Provider with a local piper binary.
type Provider struct {
	binary     string
	model      string
	configPath string
	rate       int
	modelName  string
	// speakers maps speaker name to numeric id for multi-speaker models.
	speakers map[string]int64
	genders  map[string]string
}

// New reads the model config and returns a Provider.
func New(model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("piper: model must not be empty")
	}
	p := &Provider{binary: defaultBinary, model: model, configPath: model + ".json"}
	for _, o := range opts {
		o(p)
	}

	data, err := os.ReadFile(p.configPath)
	if err != nil {
		return nil, fmt.Errorf("piper: read model config: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("piper: model config %s is not valid JSON", p.configPath)
	}
	cfg := gjson.ParseBytes(data)
	p.rate = int(cfg.Get("audio.sample_rate").Int())
	if p.rate <= 0 {
		return nil, fmt.Errorf("piper: model config %s has no audio.sample_rate", p.configPath)
	}
	p.modelName = cfg.Get("dataset").String()
	if p.modelName == "" {
		p.modelName = strings.TrimSuffix(filepath.Base(model), ".onnx")
	}
	cfg.Get("speaker_id_map").ForEach(func(k, v gjson.Result) bool {
		if p.speakers == nil {
			p.speakers = make(map[string]int64)
		}
		p.speakers[k.String()] = v.Int()
		return true
	})
	return p, nil
}

// SampleRate returns the model's native rate.
func (p *Provider) SampleRate() int { return p.rate }

// SynthesizeStream runs piper for the whole line once the text channel
// closes. A non-zero exit closes the stream early.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	args := []string{"--model", p.model, "--config", p.configPath, "--output-raw"}
	if voice.ID != "" && voice.ID != p.modelName {
		id, ok := p.speakers[voice.ID]
		if !ok {
			return nil, fmt.Errorf("piper: unknown speaker %q", voice.ID)
		}
		args = append(args, "--speaker", strconv.FormatInt(id, 10))
	}
	if voice.SpeedFactor > 0 {
		// piper's length scale is the inverse of speed.
		args = append(args, "--length_scale", strconv.FormatFloat(1/voice.SpeedFactor, 'f', 3, 64))
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)

		var parts []string
		for {
			select {
			case s, ok := <-text:
				if !ok {
					p.run(ctx, args, strings.Join(parts, " "), out)
					return
				}
				parts = append(parts, s)
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *Provider) run(ctx context.Context, args []string, line string, out chan<- []byte) {
	// piper reads one utterance per input line.
	line = strings.Join(strings.Fields(line), " ")
	if line == "" {
		return
	}
	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Stdin = strings.NewReader(line + "\n")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return
	}
	if err := cmd.Start(); err != nil {
		return
	}

	var chunks [][]byte
	for {
		buf := make([]byte, 8192)
		n, err := io.ReadFull(stdout, buf)
		n -= n % 2
		if n > 0 {
			chunks = append(chunks, buf[:n])
		}
		if err != nil {
			break
		}
	}
	// Output is only trusted from a clean exit.
	if err := cmd.Wait(); err != nil {
		return
	}
	for _, c := range chunks {
		select {
		case out <- c:
		case <-ctx.Done():
			return
		}
	}
}

// ListVoices returns one voice per speaker, or a single voice named after the
// model for single-speaker models.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	if len(p.speakers) == 0 {
		return []tts.VoiceProfile{p.profile(p.modelName)}, nil
	}
	names := make([]string, 0, len(p.speakers))
	for name := range p.speakers {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]tts.VoiceProfile, 0, len(names))
	for _, name := range names {
		out = append(out, p.profile(name))
	}
	return out, nil
}

// CloneVoice is not supported.
func (p *Provider) CloneVoice(context.Context, [][]byte) (*tts.VoiceProfile, error) {
	return nil, tts.ErrCloneUnsupported
}

func (p *Provider) profile(id string) tts.VoiceProfile {
	meta := map[string]string{"model": p.modelName}
	if g, ok := p.genders[id]; ok {
		meta["gender"] = g
	}
	return tts.VoiceProfile{ID: id, Name: id, Provider: "piper", Metadata: meta}
}
