// Package render turns one line of dialogue into a cached Ogg Opus clip.
//
// [Pipeline.Render] runs a fixed sequence of stages:
//
//	LOOKUP_CACHE -> hit: done
//	             -> miss: LOAD_EFFECTS -> LOAD_OR_INIT_PHRASE -> SYNTHESIZE
//	                      -> APPLY_EFFECTS -> TRANSCODE -> COMMIT
//
// Effects are instantiated before anything is synthesized, so a character
// referencing an unknown effect never costs an engine call. Synthesized PCM
// is resampled to 48 kHz mono, run through the effect chain and written as an
// intermediate WAV in the work directory. TRANSCODE encodes that WAV to Ogg
// Opus page by page, retrying each page write, into a temporary file that
// COMMIT renames into the clip cache.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/npcvoice/internal/clipcache"
	"github.com/MrWong99/npcvoice/internal/effects"
	"github.com/MrWong99/npcvoice/internal/engine"
	"github.com/MrWong99/npcvoice/internal/npcstore"
	"github.com/MrWong99/npcvoice/internal/observe"
	"github.com/MrWong99/npcvoice/internal/preset"
	"github.com/MrWong99/npcvoice/internal/resilience"
	"github.com/MrWong99/npcvoice/pkg/audio"
	"github.com/MrWong99/npcvoice/pkg/audio/oggopus"
	"github.com/MrWong99/npcvoice/pkg/provider/tts"
	"github.com/MrWong99/npcvoice/pkg/types"
)

// Base-config keys mapped onto [types.VoiceProfile] fields. Every other key
// is passed to the engine as profile metadata.
const (
	keySpeedFactor = "speed_factor"
	keyPitchShift  = "pitch_shift"
)

// chunkFrames is the number of Opus frames handed to the encoder at once.
const chunkFrames = 50

// Pipeline renders lines for characters. It is safe for concurrent use,
// though the speech worker drives it from a single goroutine.
type Pipeline struct {
	store   npcstore.Store
	engines *engine.Set
	cache   *clipcache.Cache

	workDir       string
	metrics       *observe.Metrics
	encoderOpts   []oggopus.Option
	chunkAttempts int
	chunkBackoff  time.Duration
	sleep         func(time.Duration)
	wrapOutput    func(io.Writer) io.Writer
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithWorkDir sets where intermediate WAV files are written. The default is
// the system temp directory.
func WithWorkDir(dir string) Option {
	return func(p *Pipeline) {
		if dir != "" {
			p.workDir = dir
		}
	}
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithEncoderOptions passes options to every Ogg Opus encoder.
func WithEncoderOptions(opts ...oggopus.Option) Option {
	return func(p *Pipeline) { p.encoderOpts = append(p.encoderOpts, opts...) }
}

// WithChunkRetry sets how often a failed chunk write is attempted in total
// and the initial pause between attempts. The pause doubles up to one second.
func WithChunkRetry(attempts int, backoff time.Duration) Option {
	return func(p *Pipeline) {
		if attempts > 0 {
			p.chunkAttempts = attempts
		}
		if backoff >= 0 {
			p.chunkBackoff = backoff
		}
	}
}

// New creates a Pipeline.
func New(store npcstore.Store, engines *engine.Set, cache *clipcache.Cache, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:         store,
		engines:       engines,
		cache:         cache,
		workDir:       os.TempDir(),
		chunkAttempts: defaultChunkAttempts,
		chunkBackoff:  defaultChunkBackoff,
		sleep:         time.Sleep,
		wrapOutput:    func(w io.Writer) io.Writer { return w },
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Cached reports whether a finished clip for the line already exists.
func (p *Pipeline) Cached(category types.Category, speaker, key string) (string, bool) {
	return p.cache.Get(category, speaker, key)
}

// Render returns the path of the clip for message spoken by ch, rendering
// and caching it first if needed. Every error is a [*StageError].
func (p *Pipeline) Render(ctx context.Context, ch npcstore.Character, message, key string) (path string, err error) {
	ctx, span := observe.StartRender(ctx, ch.Name, key)
	defer span.End()
	span.SetAttributes(observe.AttrCategory.String(string(ch.Category)))
	log := observe.Logger(ctx).With("character", ch.Name, "key", key)

	var stage Stage
	fail := func(s Stage, err error) (string, error) {
		stage = s
		return "", &StageError{Stage: s, Character: ch.Name, Message: message, Err: err}
	}
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(stage))
			p.metrics.RecordRenderFailure(ctx, string(stage))
		}
	}()

	// LOOKUP_CACHE
	if path, ok := p.cache.Get(ch.Category, ch.Name, key); ok {
		p.metrics.RecordCacheLookup(ctx, true, "pipeline")
		log.Debug("render: cache hit", "path", path)
		return path, nil
	}
	p.metrics.RecordCacheLookup(ctx, false, "pipeline")
	start := time.Now()

	// LOAD_EFFECTS. Engines, voice and effects come from one snapshot; the
	// engine fields of ch are not used.
	cfg, err := p.store.Snapshot(ctx, ch.ID)
	if err != nil {
		return fail(StageLoadEffects, err)
	}
	chain, err := buildChain(cfg.Effects)
	if err != nil {
		return fail(StageLoadEffects, err)
	}

	// LOAD_OR_INIT_PHRASE
	created, err := p.store.AddPhrase(ctx, ch.ID, message)
	if err != nil {
		return fail(StageLoadOrInitPhrase, err)
	}
	if created {
		log.Debug("render: new phrase")
	}

	// SYNTHESIZE
	pcm, err := p.synthesize(ctx, cfg, message)
	if err != nil {
		return fail(StageSynthesize, err)
	}

	// APPLY_EFFECTS
	wavPath, err := p.applyEffects(pcm, chain)
	if wavPath != "" {
		defer func() {
			if rmErr := os.Remove(wavPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				log.Warn("render: remove intermediate", "path", wavPath, "err", rmErr)
			}
		}()
	}
	if err != nil {
		return fail(StageApplyEffects, err)
	}

	// TRANSCODE and COMMIT
	var transcodeErr error
	path, err = p.cache.Put(ch.Category, ch.Name, key, func(w io.Writer) error {
		transcodeErr = p.transcode(wavPath, w)
		return transcodeErr
	})
	if err != nil {
		if transcodeErr != nil {
			return fail(StageTranscode, transcodeErr)
		}
		return fail(StageCommit, err)
	}

	elapsed := time.Since(start)
	p.metrics.RenderDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("category", string(ch.Category))))
	log.Info("render: clip committed", "path", path, "effects", chain.Names(), "duration", elapsed)
	return path, nil
}

// buildChain instantiates a stored effect chain in order. An unknown effect
// name fails the whole chain; rejected settings are skipped.
func buildChain(stored []npcstore.Effect) (effects.Chain, error) {
	chain := make(effects.Chain, 0, len(stored))
	for _, e := range stored {
		settings := make([]effects.Setting, len(e.Settings))
		for i, s := range e.Settings {
			settings[i] = effects.Setting{Param: s.Key, Value: s.Value}
		}
		fx, _, err := effects.Build(e.Name, settings)
		if err != nil {
			return nil, err
		}
		chain = append(chain, fx)
	}
	return chain, nil
}

func (p *Pipeline) synthesize(ctx context.Context, cfg npcstore.Config, message string) ([]byte, error) {
	provider, err := p.engines.Bind(cfg.Engine, cfg.EngineSecondary)
	if err != nil {
		return nil, err
	}
	engineName := cfg.Engine
	if engineName == "" {
		engineName = p.engines.Default()
	}

	start := time.Now()
	pcm, err := tts.Synthesize(ctx, provider, message, VoiceProfile(engineName, cfg.BaseConfig))
	p.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("engine", engineName)))
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordProviderRequest(ctx, engineName, "tts", status)
	if err != nil {
		return nil, fmt.Errorf("engine %q: %w", engineName, err)
	}
	return audio.ResampleMono16(pcm, provider.SampleRate(), oggopus.SampleRate), nil
}

// applyEffects runs chain over 48 kHz mono PCM and writes the result to a
// new WAV file in the work directory. The returned path is set whenever a
// file may have been created, even on error.
func (p *Pipeline) applyEffects(pcm []byte, chain effects.Chain) (string, error) {
	buf := audio.ToFloat(pcm, oggopus.SampleRate)
	if err := chain.Process(buf); err != nil {
		return "", err
	}
	out := audio.Int16ToBytes(audio.ToInt16(buf))

	if err := os.MkdirAll(p.workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	path := filepath.Join(p.workDir, "render-"+uuid.NewString()+".wav")
	if err := audio.WriteWAVFile(path, out, audio.Format{SampleRate: oggopus.SampleRate, Channels: 1}); err != nil {
		return path, err
	}
	return path, nil
}

// transcode encodes the WAV at wavPath as Ogg Opus into w. Every page is
// written through a [retryWriter].
func (p *Pipeline) transcode(wavPath string, w io.Writer) error {
	pcm, format, err := audio.ReadWAVFile(wavPath)
	if err != nil {
		return err
	}
	if format.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	pcm = audio.ResampleMono16(pcm, format.SampleRate, oggopus.SampleRate)

	out := &retryWriter{
		w:        p.wrapOutput(w),
		attempts: p.chunkAttempts,
		backoff:  p.chunkBackoff,
		sleep:    p.sleep,
	}
	enc, err := oggopus.NewEncoder(out, 1, p.encoderOpts...)
	if err != nil {
		return err
	}
	samples := audio.BytesToInt16(pcm)
	const chunk = chunkFrames * oggopus.FrameSize
	for off := 0; off < len(samples); off += chunk {
		if err := enc.Write(samples[off:min(off+chunk, len(samples))]); err != nil {
			return err
		}
	}
	return enc.Close()
}

// VoiceProfile builds the profile an engine receives from a character's
// base config. The secondary voice travels as fallback metadata so a
// failover engine speaks with its own voice.
func VoiceProfile(engineName string, base []npcstore.ConfigEntry) types.VoiceProfile {
	v := types.VoiceProfile{Provider: engineName, Metadata: map[string]string{}}
	for _, e := range base {
		switch e.Key {
		case preset.VoiceKey:
			v.ID = e.Value
		case preset.SecondaryVoiceKey:
			v.Metadata[resilience.FallbackVoiceKey] = e.Value
		case keySpeedFactor, keyPitchShift:
			f, err := strconv.ParseFloat(e.Value, 64)
			if err != nil {
				slog.Warn("render: ignoring non-numeric voice setting", "key", e.Key, "value", e.Value)
				continue
			}
			if e.Key == keySpeedFactor {
				v.SpeedFactor = f
			} else {
				v.PitchShift = f
			}
		default:
			v.Metadata[e.Key] = e.Value
		}
	}
	return v
}
