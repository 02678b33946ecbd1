package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// requestCounts returns the recorded request count per (route, status).
func requestCounts(t *testing.T, reader *sdkmetric.ManualReader) map[[2]string]uint64 {
	t.Helper()
	counts := map[[2]string]uint64{}
	md := findMetric(collect(t, reader), "npcvoice.http.request.duration")
	if md == nil {
		return counts
	}
	hist, ok := md.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("request duration is %T, want a float64 histogram", md.Data)
	}
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		status, _ := dp.Attributes.Value("status")
		counts[[2]string{route.AsString(), status.AsString()}] += dp.Count
	}
	return counts
}

func TestMiddleware_LabelsByRoute(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	h := Middleware(m)(mux)

	for _, path := range []string{"/healthz", "/healthz", "/readyz", "/wp-login.php", "/.env"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	got := requestCounts(t, reader)
	tests := []struct {
		route, status string
		want          uint64
	}{
		{"GET /healthz", "200", 2},
		{"GET /readyz", "503", 1},
		{unmatchedRoute, "404", 2},
	}
	for _, tt := range tests {
		if n := got[[2]string{tt.route, tt.status}]; n != tt.want {
			t.Errorf("requests(%s, %s) = %d, want %d", tt.route, tt.status, n, tt.want)
		}
	}
	if len(got) != len(tests) {
		t.Errorf("label sets = %v, want exactly %d", got, len(tests))
	}
}

func TestMiddleware_DefaultStatusOK(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# no metrics\n"))
	})

	rec := httptest.NewRecorder()
	Middleware(m)(mux).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Body.String() != "# no metrics\n" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if n := requestCounts(t, reader)[[2]string{"GET /metrics", "200"}]; n != 1 {
		t.Errorf("requests(GET /metrics, 200) = %d, want 1", n)
	}
}
