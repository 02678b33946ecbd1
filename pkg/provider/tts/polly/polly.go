// Package polly provides an Amazon Polly TTS provider. Polly reports a gender
// for every voice, which makes it a good engine for gendered random voice
// directives.
package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/polly"

	"github.com/MrWong99/npcvoice/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultRegion = "us-east-1"
	defaultEngine = polly.EngineNeural
	defaultRate   = 16000
)

// Client is the subset of the Polly API the provider uses.
type Client interface {
	DescribeVoicesWithContext(ctx aws.Context, in *polly.DescribeVoicesInput, opts ...request.Option) (*polly.DescribeVoicesOutput, error)
	SynthesizeSpeechWithContext(ctx aws.Context, in *polly.SynthesizeSpeechInput, opts ...request.Option) (*polly.SynthesizeSpeechOutput, error)
}

// Config holds the connection settings. Empty credentials fall back to the
// default AWS credential chain.
type Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// Engine is "standard", "neural", "long-form" or "generative".
	Engine string
	// LanguageCode restricts ListVoices, e.g. "en-US". Empty lists all.
	LanguageCode string
	// SampleRate is 8000 or 16000, the rates Polly offers for raw PCM.
	SampleRate int
}

// Provider implements tts.Provider on top of Amazon Polly.
type Provider struct {
	client   Client
	engine   string
	language string
	rate     int
}

// New creates a session from cfg and returns a Provider using it.
func New(cfg Config) (*Provider, error) {
	awsCfg := &aws.Config{Region: aws.String(defaultRegion)}
	if cfg.Region != "" {
		awsCfg.Region = aws.String(cfg.Region)
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("polly: create session: %w", err)
	}
	return NewWithClient(polly.New(sess), cfg)
}

// NewWithClient returns a Provider using an existing client.
func NewWithClient(c Client, cfg Config) (*Provider, error) {
	if c == nil {
		return nil, errors.New("polly: client must not be nil")
	}
	p := &Provider{client: c, engine: cfg.Engine, language: cfg.LanguageCode, rate: cfg.SampleRate}
	if p.engine == "" {
		p.engine = defaultEngine
	}
	if p.rate == 0 {
		p.rate = defaultRate
	}
	if p.rate != 8000 && p.rate != 16000 {
		return nil, fmt.Errorf("polly: pcm sample rate must be 8000 or 16000, got %d", p.rate)
	}
	return p, nil
}

// SampleRate returns the configured PCM rate.
func (p *Provider) SampleRate() int { return p.rate }

// SynthesizeStream collects the text channel and synthesises it in a single
// request, emitting the PCM stream as it arrives.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("polly: voice.ID must not be empty")
	}
	out := make(chan []byte, 16)
	go func() {
		defer close(out)

		var parts []string
		for {
			select {
			case s, ok := <-text:
				if !ok {
					p.stream(ctx, strings.Join(parts, " "), voice, out)
					return
				}
				if s = strings.TrimSpace(s); s != "" {
					parts = append(parts, s)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *Provider) stream(ctx context.Context, line string, voice tts.VoiceProfile, out chan<- []byte) {
	if line == "" {
		return
	}
	resp, err := p.client.SynthesizeSpeechWithContext(ctx, &polly.SynthesizeSpeechInput{
		Engine:       aws.String(p.engine),
		OutputFormat: aws.String(polly.OutputFormatPcm),
		SampleRate:   aws.String(strconv.Itoa(p.rate)),
		Text:         aws.String(line),
		TextType:     aws.String(polly.TextTypeText),
		VoiceId:      aws.String(voice.ID),
	})
	if err != nil || resp.AudioStream == nil {
		return
	}
	defer resp.AudioStream.Close()

	for {
		buf := make([]byte, 8192)
		n, err := io.ReadFull(resp.AudioStream, buf)
		if n > 0 {
			// Keep chunks sample aligned; a stray odd byte is dropped at EOF.
			n -= n % 2
			select {
			case out <- buf[:n]:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// ListVoices pages through DescribeVoices for the configured engine and
// language. Gender is lower-cased into Metadata["gender"].
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	in := &polly.DescribeVoicesInput{Engine: aws.String(p.engine)}
	if p.language != "" {
		in.LanguageCode = aws.String(p.language)
	}
	var profiles []tts.VoiceProfile
	for {
		resp, err := p.client.DescribeVoicesWithContext(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("polly: describe voices: %w", err)
		}
		for _, v := range resp.Voices {
			profiles = append(profiles, tts.VoiceProfile{
				ID:       aws.StringValue(v.Id),
				Name:     aws.StringValue(v.Name),
				Provider: "polly",
				Metadata: map[string]string{
					"gender":   strings.ToLower(aws.StringValue(v.Gender)),
					"language": aws.StringValue(v.LanguageCode),
				},
			})
		}
		if aws.StringValue(resp.NextToken) == "" {
			return profiles, nil
		}
		in.NextToken = resp.NextToken
	}
}

// CloneVoice is not supported by Polly.
func (p *Provider) CloneVoice(context.Context, [][]byte) (*tts.VoiceProfile, error) {
	return nil, tts.ErrCloneUnsupported
}
