package server

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// serve runs one request from remote against h.
func serve(h http.Handler, method, path, remote string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, http.NoBody)
	if remote != "" {
		req.RemoteAddr = remote
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		wantSame bool
	}{
		{name: "generated when absent", incoming: ""},
		{name: "propagated from caller", incoming: "trace-abc-123", wantSame: true},
		{name: "oversized replaced", incoming: strings.Repeat("x", 200)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestID(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			header := http.Header{}
			if tt.incoming != "" {
				header.Set("X-Request-ID", tt.incoming)
			}
			w := serve(h, http.MethodGet, "/api/v1/generate", "", header)

			got := w.Header().Get("X-Request-ID")
			if got == "" || got != seen {
				t.Fatalf("header %q, context %q: want equal and non-empty", got, seen)
			}
			if tt.wantSame && got != tt.incoming {
				t.Errorf("X-Request-ID = %q, want %q", got, tt.incoming)
			}
			if !tt.wantSame && len(got) != 36 {
				t.Errorf("X-Request-ID = %q, want a fresh UUID", got)
			}
		})
	}
}

func TestLoggingMiddleware_CountsEveryPath(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)
	h := LoggingMiddleware(zap.NewNop(), m, []string{"/healthz"})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}),
	)

	serve(h, http.MethodPost, "/api/v1/generate", "", nil)
	serve(h, http.MethodPost, "/api/v1/generate", "", nil)
	serve(h, http.MethodGet, "/healthz", "", nil)

	if got := testutil.ToFloat64(m.requests.WithLabelValues("POST", "/api/v1/generate", "202")); got != 2 {
		t.Errorf("generate requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/healthz", "202")); got != 1 {
		t.Errorf("unlogged paths should still be counted, got %v", got)
	}
	if n := testutil.CollectAndCount(m.duration); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}
}

func TestLoggingMiddleware_NilMetrics(t *testing.T) {
	h := LoggingMiddleware(zap.NewNop(), nil, nil)(okHandler)
	if w := serve(h, http.MethodGet, "/api/v1/metrics", "", nil); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestResponseHeaders(t *testing.T) {
	h := Chain(okHandler, SecurityHeadersMiddleware, VersionHeaderMiddleware)
	w := serve(h, http.MethodGet, "/api/v1/health", "", nil)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Cache-Control":           "no-store",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if w.Header().Get("X-Personagen-Version") == "" {
		t.Error("missing X-Personagen-Version")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("provider table corrupted")
	})

	w := serve(RecoveryMiddleware(zap.NewNop())(panicky), http.MethodGet, "/x", "", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q, want application/problem+json", ct)
	}

	w = serve(RecoveryMiddleware(zap.NewNop())(okHandler), http.MethodGet, "/x", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status without panic = %d, want 200", w.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	// One token per second, burst one: a second immediate request is limited.
	h := RateLimitMiddleware(1, 1, []string{"/healthz"})(okHandler)

	if w := serve(h, http.MethodGet, "/api/v1/metrics", "10.0.0.1:9999", nil); w.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", w.Code)
	}
	w := serve(h, http.MethodGet, "/api/v1/metrics", "10.0.0.1:9999", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("limited response missing Retry-After")
	}

	if w := serve(h, http.MethodGet, "/api/v1/metrics", "10.0.0.9:9999", nil); w.Code != http.StatusOK {
		t.Errorf("other client: status = %d, want 200", w.Code)
	}
	for i := 0; i < 5; i++ {
		if w := serve(h, http.MethodGet, "/healthz", "10.0.0.1:9999", nil); w.Code != http.StatusOK {
			t.Fatalf("skipped path request %d: status = %d", i, w.Code)
		}
	}
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	h := RateLimitMiddleware(0, 0, nil)(okHandler)
	for i := 0; i < 5; i++ {
		if w := serve(h, http.MethodGet, "/x", "10.0.0.1:1", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}
}

func TestIPRateLimiter_Sweep(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	l := &ipRateLimiter{
		limit:    rate.Limit(1),
		burst:    1,
		limiters: make(map[string]*rateLimitEntry),
		now:      func() time.Time { return now },
	}
	l.allow("10.0.0.1")
	now = now.Add(idleIPAfter + time.Minute)
	l.allow("10.0.0.2")
	l.sweep(now)

	if _, ok := l.limiters["10.0.0.1"]; ok {
		t.Error("idle entry should be swept")
	}
	if _, ok := l.limiters["10.0.0.2"]; !ok {
		t.Error("recent entry should be kept")
	}
}

func TestChain_Order(t *testing.T) {
	var trace []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				trace = append(trace, name+">")
				next.ServeHTTP(w, r)
				trace = append(trace, "<"+name)
			})
		}
	}
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		trace = append(trace, "handler")
		w.WriteHeader(http.StatusOK)
	})

	serve(Chain(inner, tag("outer"), tag("inner")), http.MethodGet, "/", "", nil)

	want := []string{"outer>", "inner>", "handler", "<inner", "<outer"}
	if !slices.Equal(trace, want) {
		t.Errorf("trace = %v, want %v", trace, want)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{name: "remote addr", remote: "192.168.1.100:12345", want: "192.168.1.100"},
		{name: "first forwarded hop", remote: "127.0.0.1:1", xff: "203.0.113.50, 70.41.3.18", want: "203.0.113.50"},
		{name: "blank forwarded header", remote: "127.0.0.1:1", xff: " , 70.41.3.18", want: "127.0.0.1"},
		{name: "remote without port", remote: "unix-socket", want: "unix-socket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusWriter(t *testing.T) {
	sw := &statusWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	sw.WriteHeader(http.StatusCreated)
	sw.WriteHeader(http.StatusNotFound)
	if sw.status != http.StatusCreated {
		t.Errorf("status = %d, want first WriteHeader to win", sw.status)
	}

	if _, _, err := sw.Hijack(); err == nil {
		t.Error("Hijack on a recorder should fail")
	}
	if _, ok := sw.Unwrap().(*httptest.ResponseRecorder); !ok {
		t.Error("Unwrap should return the wrapped recorder")
	}
}
