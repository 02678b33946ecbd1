// Package coqui provides a TTS provider backed by a locally running Coqui TTS
// server. It implements the tts.Provider interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis via GET /api/tts, voices via
//     GET /details.
//
//   - APIModeXTTS: the Coqui XTTS v2 API server. Synthesis via
//     POST /tts_to_audio/, voices via GET /studio_speakers.
//
// Both servers answer one request per utterance with a WAV file.
// SynthesizeStream splits the line into sentences, synthesises up to four of
// them concurrently and emits PCM in sentence order, resampled to the
// configured output rate.
//
// Coqui does not report voice genders. Use WithVoiceGender to tag speakers so
// gendered random voice directives can filter them.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/npcvoice/pkg/audio"
	"github.com/MrWong99/npcvoice/pkg/provider/tts"
	"golang.org/x/sync/errgroup"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage   = "en"
	defaultTimeout    = 30 * time.Second
	defaultOutputRate = 22050

	xttsEndpoint           = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"

	maxInFlight  = 4
	pcmChunkSize = 4096
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	APIModeXTTS     APIMode = "xtts"
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode selects APIModeStandard (default) or APIModeXTTS.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithOutputSampleRate sets the rate every emitted chunk is resampled to.
// Defaults to 22050 Hz, the native rate of most Coqui VITS models.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// WithVoiceGender tags a speaker with a gender ("male" or "female") in the
// metadata returned by ListVoices.
func WithVoiceGender(voiceID, gender string) Option {
	return func(p *Provider) {
		if p.genders == nil {
			p.genders = make(map[string]string)
		}
		p.genders[voiceID] = strings.ToLower(gender)
	}
}

// Provider implements tts.Provider backed by a Coqui TTS server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
	outputRate int
	genders    map[string]string
}

// New creates a Provider that targets the server at serverURL
// (e.g. "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		outputRate: defaultOutputRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.apiMode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.apiMode)
	}
	if p.outputRate <= 0 {
		return nil, fmt.Errorf("coqui: invalid output sample rate %d", p.outputRate)
	}
	return p, nil
}

// SampleRate returns the configured output rate.
func (p *Provider) SampleRate() int { return p.outputRate }

// SynthesizeStream reads the whole text channel, splits it into sentences
// and emits their PCM in order. Synthesis stops at the first failed sentence;
// the channel is then closed early.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	// XTTS needs a speaker; standard single-speaker models do not.
	if voice.ID == "" && p.apiMode == APIModeXTTS {
		return nil, errors.New("coqui: voice.ID must not be empty (required for XTTS mode)")
	}

	audioCh := make(chan []byte, 64)
	go func() {
		defer close(audioCh)

		var buf strings.Builder
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					p.emit(ctx, splitSentences(buf.String()), voice, audioCh)
					return
				}
				buf.WriteString(fragment)
			case <-ctx.Done():
				return
			}
		}
	}()
	return audioCh, nil
}

func (p *Provider) emit(ctx context.Context, sentences []string, voice tts.VoiceProfile, out chan<- []byte) {
	results := make([][]byte, len(sentences))
	errs := make([]error, len(sentences))
	done := make([]chan struct{}, len(sentences))
	for i := range done {
		done[i] = make(chan struct{})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)
	go func() {
		for i, s := range sentences {
			g.Go(func() error {
				defer close(done[i])
				results[i], errs[i] = p.synthesize(gctx, s, voice)
				return errs[i]
			})
		}
		_ = g.Wait()
	}()

	for i := range sentences {
		select {
		case <-done[i]:
		case <-ctx.Done():
			return
		}
		if errs[i] != nil {
			// The group context is cancelled, so the remaining requests abort.
			return
		}
		for pcm := results[i]; len(pcm) > 0; {
			end := min(pcmChunkSize, len(pcm))
			select {
			case out <- pcm[:end]:
			case <-ctx.Done():
				return
			}
			pcm = pcm[end:]
		}
	}
}

// synthesize fetches one sentence and converts it to mono PCM at the output rate.
func (p *Provider) synthesize(ctx context.Context, sentence string, voice tts.VoiceProfile) ([]byte, error) {
	var req *http.Request
	var err error
	if p.apiMode == APIModeXTTS {
		body, merr := json.Marshal(map[string]string{
			"text":        sentence,
			"speaker_wav": voice.ID,
			"language":    p.language,
		})
		if merr != nil {
			return nil, fmt.Errorf("coqui: marshal tts request: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsEndpoint, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		params := url.Values{}
		params.Set("text", sentence)
		if voice.ID != "" {
			params.Set("speaker_id", voice.ID)
		}
		if p.language != "" {
			params.Set("language_id", p.language)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	pcm, f, err := audio.DecodeWAV(bytes.NewReader(wav))
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	if f.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	return audio.ResampleMono16(pcm, f.SampleRate, p.outputRate), nil
}

// ListVoices retrieves the voice catalogue. XTTS lists studio speakers;
// standard mode lists the model's speakers or, for single-speaker models,
// one voice named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if p.apiMode == APIModeXTTS {
		var raw map[string]json.RawMessage
		if err := p.getJSON(ctx, studioSpeakersEndpoint, &raw); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(raw))
		for name := range raw {
			names = append(names, name)
		}
		slices.Sort(names)
		out := make([]tts.VoiceProfile, 0, len(names))
		for _, name := range names {
			out = append(out, p.profile(name, map[string]string{"type": "studio"}))
		}
		return out, nil
	}

	var details struct {
		ModelName string   `json:"model_name"`
		Speakers  []string `json:"speakers"`
	}
	if err := p.getJSON(ctx, detailsEndpoint, &details); err != nil {
		return nil, err
	}
	if len(details.Speakers) == 0 {
		name := details.ModelName
		if name == "" {
			name = "default"
		}
		return []tts.VoiceProfile{p.profile(name, map[string]string{"type": "single-speaker", "model_name": name})}, nil
	}
	speakers := slices.Clone(details.Speakers)
	slices.Sort(speakers)
	out := make([]tts.VoiceProfile, 0, len(speakers))
	for _, spk := range speakers {
		out = append(out, p.profile(spk, map[string]string{"type": "speaker", "model_name": details.ModelName}))
	}
	return out, nil
}

// CloneVoice is not supported.
func (p *Provider) CloneVoice(context.Context, [][]byte) (*tts.VoiceProfile, error) {
	return nil, tts.ErrCloneUnsupported
}

func (p *Provider) profile(id string, meta map[string]string) tts.VoiceProfile {
	if g, ok := p.genders[id]; ok {
		meta["gender"] = g
	}
	return tts.VoiceProfile{ID: id, Name: id, Provider: "coqui", Metadata: meta}
}

func (p *Provider) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui: GET %s returned status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", endpoint, err)
	}
	return nil
}

// splitSentences splits s after '.', '!' or '?' when followed by whitespace
// or the end of input, so "Dr." inside "Dr.Who" or "3.14" stays intact.
func splitSentences(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 < len(s) && !unicode.IsSpace(rune(s[i+1])) {
			continue
		}
		if sentence := strings.TrimSpace(s[start : i+1]); sentence != "" {
			out = append(out, sentence)
		}
		start = i + 1
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
