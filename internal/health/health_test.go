package health

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"net/http/httptest"
	"testing"
)

func pass(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

// probe serves path through a mux with h registered and decodes the body.
func probe(t *testing.T, h *Handler, req *http.Request) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", req.URL.Path, err)
	}
	return rec.Code, body
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		notReady   bool
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "store and engines up",
			checkers:   []Checker{{Name: "store", Check: pass}, {Name: "engines", Check: pass}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"store": "ok", "engines": "ok"},
		},
		{
			name: "store down",
			checkers: []Checker{
				{Name: "store", Check: failWith("database is locked")},
				{Name: "engines", Check: pass},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"store": "fail: database is locked", "engines": "ok"},
		},
		{
			name: "everything down",
			checkers: []Checker{
				{Name: "store", Check: failWith("timeout")},
				{Name: "engines", Check: failWith("no engines configured")},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"store": "fail: timeout", "engines": "fail: no engines configured"},
		},
		{
			name:       "workers not started",
			checkers:   []Checker{{Name: "store", Check: pass}},
			notReady:   true,
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"store": "ok", "startup": "fail: not ready"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := New(tt.checkers...)
			if tt.notReady {
				h.SetReady(false)
			}
			code, body := probe(t, h, httptest.NewRequest("GET", "/readyz", nil))
			if code != tt.wantCode || body.Status != tt.wantStatus {
				t.Errorf("readyz = %d %q, want %d %q", code, body.Status, tt.wantCode, tt.wantStatus)
			}
			if len(tt.wantChecks) > 0 && !maps.Equal(body.Checks, tt.wantChecks) {
				t.Errorf("checks = %v, want %v", body.Checks, tt.wantChecks)
			}

			// Liveness never depends on checkers or the startup gate.
			code, body = probe(t, h, httptest.NewRequest("GET", "/healthz", nil))
			if code != http.StatusOK || body.Status != "ok" || body.Checks != nil {
				t.Errorf("healthz = %d %+v", code, body)
			}
		})
	}
}

func TestReadyz_GateLifts(t *testing.T) {
	t.Parallel()

	h := New()
	h.SetReady(false)
	if code, _ := probe(t, h, httptest.NewRequest("GET", "/readyz", nil)); code != http.StatusServiceUnavailable {
		t.Fatalf("status before SetReady(true) = %d", code)
	}
	h.SetReady(true)
	if code, _ := probe(t, h, httptest.NewRequest("GET", "/readyz", nil)); code != http.StatusOK {
		t.Errorf("status after SetReady(true) = %d", code)
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "engines", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, body := probe(t, h, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", code)
	}
	if body.Checks["engines"] != "fail: "+context.Canceled.Error() {
		t.Errorf("engines check = %q", body.Checks["engines"])
	}
}

type fakeStore struct{ err error }

func (f fakeStore) Ping(context.Context) error { return f.err }

func TestPingCheck(t *testing.T) {
	t.Parallel()

	h := New(
		PingCheck("store", fakeStore{}),
		PingCheck("replica", fakeStore{err: errors.New("database is locked")}),
	)
	code, body := probe(t, h, httptest.NewRequest("GET", "/readyz", nil))
	if body.Checks["store"] != "ok" || body.Checks["replica"] != "fail: database is locked" {
		t.Errorf("checks = %v", body.Checks)
	}
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", code)
	}
}
