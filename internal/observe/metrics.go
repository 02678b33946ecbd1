// Package observe holds the npcvoice telemetry: render, cache and queue
// instruments, job and render spans, trace-aware logging and the admin
// listener middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [Setup]
// bridges them to a Prometheus registry scraped from /metrics. A
// package-level [DefaultMetrics] instance is provided for convenience; tests
// should use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all npcvoice metrics.
const meterName = "github.com/MrWong99/npcvoice"

// Cache lookup results.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// RenderDuration tracks the full render of an uncached line, from cache
	// miss to committed clip. Attributes: category.
	RenderDuration metric.Float64Histogram

	// SynthesisDuration tracks engine synthesis latency. Attributes: engine.
	SynthesisDuration metric.Float64Histogram

	// --- Counters ---

	// CacheLookups counts clip cache lookups. Attributes: result (hit|miss),
	// source (queue|pipeline).
	CacheLookups metric.Int64Counter

	// RenderFailures counts failed renders. Attributes: stage.
	RenderFailures metric.Int64Counter

	// Utterances counts lines observed by producers. Attributes: source.
	Utterances metric.Int64Counter

	// QueueDrops counts utterances dropped because the queue was full.
	QueueDrops metric.Int64Counter

	// ProviderRequests counts engine calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// provider, from, to.
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks the number of utterances waiting to be rendered.
	QueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin listener latency. Attributes: route,
	// status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds. Cloud
// engines routinely take several seconds for a long line.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RenderDuration, err = m.Float64Histogram("npcvoice.render.duration",
		metric.WithDescription("Latency of rendering an uncached line to a finished clip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("npcvoice.synthesis.duration",
		metric.WithDescription("Latency of text-to-speech synthesis by engine."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.CacheLookups, err = m.Int64Counter("npcvoice.cache.lookups",
		metric.WithDescription("Clip cache lookups by result and source."),
	); err != nil {
		return nil, err
	}
	if met.RenderFailures, err = m.Int64Counter("npcvoice.render.failures",
		metric.WithDescription("Failed renders by pipeline stage."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("npcvoice.utterances",
		metric.WithDescription("Lines observed by producers."),
	); err != nil {
		return nil, err
	}
	if met.QueueDrops, err = m.Int64Counter("npcvoice.queue.drops",
		metric.WithDescription("Utterances dropped because the render queue was full."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("npcvoice.provider.requests",
		metric.WithDescription("Engine requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("npcvoice.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider."),
	); err != nil {
		return nil, err
	}

	if met.QueueDepth, err = m.Int64UpDownCounter("npcvoice.queue.depth",
		metric.WithDescription("Utterances waiting to be rendered."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("npcvoice.http.request.duration",
		metric.WithDescription("Admin listener request latency by route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCacheLookup counts one cache lookup.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool, source string) {
	result := CacheMiss
	if hit {
		result = CacheHit
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
		attribute.String("source", source),
	))
}

// RecordRenderFailure counts one render that failed in stage.
func (m *Metrics) RecordRenderFailure(ctx context.Context, stage string) {
	m.RenderFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordProviderRequest counts one engine request.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordBreakerTransition counts one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, from, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}
