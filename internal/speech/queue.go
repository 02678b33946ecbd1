// Package speech queues observed lines and renders them one at a time.
//
// Producers call [Queue.Enqueue], which never blocks: a line whose clip is
// already cached is skipped, and a full queue drops the line with a warning.
// A single worker started with [Queue.Run] onboards the speaker, renders the
// clip and hands it to an optional [Player]. A failing line is logged and
// never stops the worker.
package speech

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/npcvoice/internal/clipcache"
	"github.com/MrWong99/npcvoice/internal/npcstore"
	"github.com/MrWong99/npcvoice/internal/observe"
	"github.com/MrWong99/npcvoice/pkg/types"
)

// DefaultSize is the queue capacity used when none is configured.
const DefaultSize = 64

// Renderer produces clips. *render.Pipeline satisfies it.
type Renderer interface {
	Cached(category types.Category, speaker, key string) (path string, ok bool)
	Render(ctx context.Context, ch npcstore.Character, message, key string) (path string, err error)
}

// Onboarder returns the character for a speaker, assigning a voice to new
// ones. *voice.Assigner satisfies it.
type Onboarder interface {
	Onboard(ctx context.Context, name string, category types.Category) (npcstore.Character, error)
}

// Result is the outcome of one processed line.
type Result struct {
	Utterance types.Utterance
	Path      string
	Err       error
}

// Queue is a bounded render queue with a single consumer.
type Queue struct {
	jobs     chan types.Utterance
	renderer Renderer
	onboard  Onboarder
	player   Player
	metrics  *observe.Metrics
	defCat   types.Category
	onResult func(Result)
}

// Option configures a [Queue].
type Option func(*Queue)

// WithPlayer plays every rendered clip. Cached lines are then queued too so
// they are still heard.
func WithPlayer(p Player) Option {
	return func(q *Queue) { q.player = p }
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithDefaultCategory sets the category of utterances that carry none.
func WithDefaultCategory(c types.Category) Option {
	return func(q *Queue) {
		if c.IsValid() {
			q.defCat = c
		}
	}
}

// WithResultHook is called by the worker after each line.
func WithResultHook(fn func(Result)) Option {
	return func(q *Queue) { q.onResult = fn }
}

// NewQueue creates a queue holding up to size lines. A size below one uses
// [DefaultSize].
func NewQueue(size int, r Renderer, o Onboarder, opts ...Option) *Queue {
	if size < 1 {
		size = DefaultSize
	}
	q := &Queue{
		jobs:     make(chan types.Utterance, size),
		renderer: r,
		onboard:  o,
		defCat:   types.CategoryNPC,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.metrics == nil {
		q.metrics = observe.DefaultMetrics()
	}
	return q
}

// Enqueue schedules u for rendering and returns its job ID. queued is false
// when the line was skipped because its clip is cached or dropped because
// the queue is full. Enqueue never blocks.
func (q *Queue) Enqueue(ctx context.Context, u types.Utterance) (id string, queued bool) {
	if u.Category == "" {
		u.Category = q.defCat
	}
	u.ID = uuid.NewString()
	log := slog.With("job", u.ID, "speaker", u.Speaker, "category", u.Category)

	// Advisory only: the worker checks again before rendering.
	if q.player == nil {
		if path, ok := q.renderer.Cached(u.Category, u.Speaker, clipcache.Key(u.Message, u.Rank)); ok {
			q.metrics.RecordCacheLookup(ctx, true, "queue")
			log.Debug("speech: line already cached", "path", path)
			return u.ID, false
		}
		q.metrics.RecordCacheLookup(ctx, false, "queue")
	}

	select {
	case q.jobs <- u:
		q.metrics.QueueDepth.Add(ctx, 1)
		log.Debug("speech: line queued", "depth", len(q.jobs))
		return u.ID, true
	default:
		q.metrics.QueueDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("category", string(u.Category))))
		log.Warn("speech: queue full, dropping line", "message", u.Message, "capacity", cap(q.jobs))
		return u.ID, false
	}
}

// Len returns the number of lines waiting.
func (q *Queue) Len() int { return len(q.jobs) }

// Run consumes the queue until ctx is done. Lines still queued at that point
// are discarded. Run always returns nil.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if n := len(q.jobs); n > 0 {
				slog.Info("speech: worker stopping, discarding queued lines", "count", n)
			}
			return nil
		case u := <-q.jobs:
			q.metrics.QueueDepth.Add(ctx, -1)
			res := q.process(ctx, u)
			if q.onResult != nil {
				q.onResult(res)
			}
		}
	}
}

// process renders one line. Panics are recovered so one bad line cannot
// take the worker down.
func (q *Queue) process(ctx context.Context, u types.Utterance) (res Result) {
	res.Utterance = u
	ctx, span := observe.StartJob(ctx, u.ID, u.Speaker)
	defer span.End()
	log := observe.Logger(ctx).With("job", u.ID, "character", u.Speaker, "message", u.Message)
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("speech: panic rendering line: %v", r)
			log.Error("speech: render panicked", "panic", r)
		}
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, "render failed")
		}
	}()

	ch, err := q.onboard.Onboard(ctx, u.Speaker, u.Category)
	if err != nil {
		res.Err = err
		log.Error("speech: onboard speaker", "err", err)
		return res
	}
	ch.Category = u.Category

	path, err := q.renderer.Render(ctx, ch, u.Message, clipcache.Key(u.Message, u.Rank))
	if err != nil {
		res.Err = err
		log.Error("speech: render line", "err", err)
		return res
	}
	res.Path = path

	if q.player != nil {
		if err := q.player.Play(ctx, path); err != nil {
			log.Warn("speech: playback failed", "path", path, "err", err)
		}
	}
	return res
}
