package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/metrics"
)

func TestSecurityHeadersMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		secure   bool
		wantHSTS bool
	}{
		{"development", false, false},
		{"production", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSecurityHeadersMiddleware(tt.secure)(okHandler)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

			if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
				t.Errorf("X-Content-Type-Options = %q", got)
			}
			if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
				t.Errorf("X-Frame-Options = %q", got)
			}
			if got := w.Header().Get("Content-Security-Policy"); got != contentSecurityPolicy {
				t.Errorf("Content-Security-Policy = %q", got)
			}
			hasHSTS := w.Header().Get("Strict-Transport-Security") != ""
			if hasHSTS != tt.wantHSTS {
				t.Errorf("HSTS present = %v, want %v", hasHSTS, tt.wantHSTS)
			}
		})
	}
}

func TestRecoveryMiddleware_RendersFailure(t *testing.T) {
	var rendered int
	fail := func(w http.ResponseWriter, _ *http.Request, status int) {
		rendered = status
		w.WriteHeader(status)
	}
	h := NewRecoveryMiddleware(fail)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	if w.Code != http.StatusInternalServerError || rendered != http.StatusInternalServerError {
		t.Errorf("status = %d, rendered = %d, want 500", w.Code, rendered)
	}
}

func TestRecoveryMiddleware_NilRenderer_PlainText(t *testing.T) {
	h := NewRecoveryMiddleware(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestRecoveryMiddleware_RepanicsOnAbortHandler(t *testing.T) {
	h := NewRecoveryMiddleware(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recovered = %v, want ErrAbortHandler", rec)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

type httpRecorder struct {
	metrics.Nop
	statuses  []int
	latencies []time.Duration
}

func (r *httpRecorder) RecordHTTPStatus(code int)              { r.statuses = append(r.statuses, code) }
func (r *httpRecorder) RecordRequestLatency(d time.Duration) { r.latencies = append(r.latencies, d) }

func TestMetricsMiddleware_RecordsStatusAndLatency(t *testing.T) {
	rec := &httpRecorder{}
	h := NewMetricsMiddleware(rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	if len(rec.statuses) != 1 || rec.statuses[0] != http.StatusFound {
		t.Errorf("statuses = %v, want [302]", rec.statuses)
	}
	if len(rec.latencies) != 1 || rec.latencies[0] < 0 {
		t.Errorf("latencies = %v", rec.latencies)
	}
}
