package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

// sumValue returns the value of the data point whose attributes include
// key=value, or -1.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return -1
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"npcvoice.render.duration", m.RenderDuration},
		{"npcvoice.synthesis.duration", m.SynthesisDuration},
		{"npcvoice.http.request.duration", m.HTTPRequestDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.8)
		tc.h.Record(ctx, 3.2)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordCacheLookup(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCacheLookup(ctx, true, "queue")
	m.RecordCacheLookup(ctx, true, "pipeline")
	m.RecordCacheLookup(ctx, false, "pipeline")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "npcvoice.cache.lookups", "result", CacheMiss); got != 1 {
		t.Errorf("misses = %d, want 1", got)
	}
}

func TestCounterIncrement(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "polly", "tts", "ok")
	m.RecordProviderRequest(ctx, "polly", "tts", "ok")
	m.RecordProviderRequest(ctx, "polly", "tts", "error")
	m.RecordRenderFailure(ctx, "SYNTHESIZE")
	m.RecordBreakerTransition(ctx, "polly", "closed", "open")
	m.QueueDrops.Add(ctx, 3)
	m.Utterances.Add(ctx, 1, metric.WithAttributes(Attr("source", "speech")))

	rm := collect(t, reader)

	tests := []struct {
		name, key, value string
		want             int64
	}{
		{"npcvoice.provider.requests", "status", "ok", 2},
		{"npcvoice.render.failures", "stage", "SYNTHESIZE", 1},
		{"npcvoice.breaker.transitions", "to", "open", 1},
		{"npcvoice.utterances", "source", "speech", 1},
	}
	for _, tc := range tests {
		if got := sumValue(t, rm, tc.name, tc.key, tc.value); got != tc.want {
			t.Errorf("%s{%s=%s} = %d, want %d", tc.name, tc.key, tc.value, got, tc.want)
		}
	}

	met := findMetric(rm, "npcvoice.queue.drops")
	if met == nil {
		t.Fatal("npcvoice.queue.drops not found")
	}
	if got := met.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 3 {
		t.Errorf("queue drops = %d, want 3", got)
	}
}

func TestQueueDepthGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.QueueDepth.Add(ctx, 1)
	m.QueueDepth.Add(ctx, 1)
	m.QueueDepth.Add(ctx, -1)

	met := findMetric(collect(t, reader), "npcvoice.queue.depth")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("depth = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
