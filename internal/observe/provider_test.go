package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup_ServesMetricsAndExportsSpans(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	spans := tracetest.NewInMemoryExporter()
	tel, err := Setup(context.Background(), SetupConfig{ServiceVersion: "test", SpanExporter: spans})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	ctx := context.Background()
	tel.Metrics.QueueDrops.Add(ctx, 2)
	tel.Metrics.RecordRenderFailure(ctx, "SYNTHESIZE")
	_, span := StartJob(ctx, "job-1", "Colonel")
	span.End()

	srv := httptest.NewServer(MetricsHandler(tel.Registry))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"npcvoice_queue_drops", "npcvoice_render_failures", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %s", want)
		}
	}

	// Shutdown flushes the batched spans.
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := spans.GetSpans(); len(got) != 1 || got[0].Name != "speech.job" {
		t.Errorf("exported spans = %v, want one speech.job", got)
	}
}
