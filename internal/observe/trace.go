package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/npcvoice"

// Span attribute keys shared by the queue and the render pipeline.
const (
	AttrJobID     = attribute.Key("npcvoice.job.id")
	AttrCharacter = attribute.Key("npcvoice.character")
	AttrCacheKey  = attribute.Key("npcvoice.cache_key")
	AttrCategory  = attribute.Key("npcvoice.category")
)

// Tracer returns the npcvoice tracer from the global [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartJob starts the root span of one queued utterance. Everything rendered
// for the job shares its trace ID, so a line can be followed from the log
// tail to the committed clip.
func StartJob(ctx context.Context, jobID, speaker string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "speech.job",
		trace.WithNewRoot(),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(AttrJobID.String(jobID), AttrCharacter.String(speaker)),
	)
}

// StartRender starts the span of one pipeline run. It nests under the job
// span when ctx carries one.
func StartRender(ctx context.Context, character, key string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "render.Render",
		trace.WithAttributes(AttrCharacter.String(character), AttrCacheKey.String(key)),
	)
}

// TraceID returns the trace ID of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id of the span
// in ctx attached. Without a span it is the default logger.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
