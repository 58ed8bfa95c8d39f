package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/wesm/formvault/internal/config"
	"github.com/wesm/formvault/internal/metrics"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestCORSMiddleware(t *testing.T) {
	sc := config.ServerConfig{CORSOrigins: []string{"https://forms.example.com"}}
	handler := corsMiddleware(sc)(okHandler)

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"no origin", "GET", "", http.StatusOK, ""},
		{"allowed origin", "GET", "https://forms.example.com", http.StatusOK, "https://forms.example.com"},
		{"unknown origin", "GET", "https://evil.example.com", http.StatusOK, ""},
		{"preflight", "OPTIONS", "https://forms.example.com", http.StatusNoContent, "https://forms.example.com"},
		{"preflight from unknown origin", "OPTIONS", "https://evil.example.com", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/forms", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

func TestCORSPreflightHeaders(t *testing.T) {
	handler := corsMiddleware(config.ServerConfig{CORSOrigins: []string{"*"}, CORSCredentials: true})(okHandler)

	req := httptest.NewRequest("OPTIONS", "/api/v1/forms/1/results", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	want := map[string]string{
		"Access-Control-Allow-Origin":      "http://localhost:3000",
		"Access-Control-Allow-Credentials": "true",
		"Access-Control-Expose-Headers":    "Location, Content-Disposition",
		"Access-Control-Allow-Methods":     "GET, POST, PUT, DELETE, OPTIONS",
		"Access-Control-Max-Age":           "86400",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, 2)
	defer rl.Close()

	if !rl.Allow("viewer:1") || !rl.Allow("viewer:1") {
		t.Fatal("burst of 2 should be allowed")
	}
	if rl.Allow("viewer:1") {
		t.Error("third request should be rate limited")
	}
	if !rl.Allow("viewer:2") {
		t.Error("another viewer should have its own bucket")
	}
}

func TestRateLimiterCloseConcurrent(t *testing.T) {
	rl := NewRateLimiter(10, 10)

	const n = 50
	start := make(chan struct{})
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			<-start
			rl.Close()
			done <- struct{}{}
		}()
	}
	close(start)
	for i := 0; i < n; i++ {
		<-done
	}
}

func TestRateLimiterSweepsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(10, 10)
	defer rl.Close()
	rl.Allow("ip:10.0.0.1")
	rl.Allow("viewer:4")

	rl.sweep(time.Now().Add(limiterIdleTTL + time.Second))

	rl.mu.Lock()
	n := len(rl.buckets)
	rl.mu.Unlock()
	if n != 0 {
		t.Errorf("buckets after sweep = %d, want 0", n)
	}
}

func newLimitedServer(t *testing.T, users []config.UserConfig) *Server {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Users = users
	cfg.Server.RateLimitRPS = 0.001
	cfg.Server.RateLimitBurst = 1
	srv := NewServer(cfg, Backend{}, testLogger())
	t.Cleanup(srv.rateLimiter.Close)
	return srv
}

func serve(srv *Server, path, key, remoteAddr string) int {
	req := httptest.NewRequest("GET", path, nil)
	req.RemoteAddr = remoteAddr
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w.Code
}

func TestRateLimitByViewer(t *testing.T) {
	srv := newLimitedServer(t, testUsers)
	before := promtest.ToFloat64(metrics.RateLimited.WithLabelValues("viewer"))

	// The nil store answers 503, which still consumes a token.
	if code := serve(srv, "/api/v1/stats", "key-alice", "10.0.0.1:5000"); code != http.StatusServiceUnavailable {
		t.Fatalf("first request = %d, want 503", code)
	}
	if code := serve(srv, "/api/v1/stats", "key-alice", "10.0.0.2:5000"); code != http.StatusTooManyRequests {
		t.Errorf("second request from another host = %d, want 429", code)
	}
	if code := serve(srv, "/api/v1/stats", "key-bob", "10.0.0.1:5000"); code != http.StatusServiceUnavailable {
		t.Errorf("other viewer on the same host = %d, want 503", code)
	}
	if got := promtest.ToFloat64(metrics.RateLimited.WithLabelValues("viewer")) - before; got != 1 {
		t.Errorf("rate limited viewer requests = %v, want 1", got)
	}
}

func TestRateLimitByHostWithoutUsers(t *testing.T) {
	srv := newLimitedServer(t, nil)

	codes := []int{
		serve(srv, "/api/v1/stats", "", "10.1.1.1:5000"),
		serve(srv, "/api/v1/stats", "", "10.1.1.1:5001"),
		serve(srv, "/api/v1/stats", "", "10.1.1.2:5000"),
	}
	want := []int{http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusServiceUnavailable}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("codes = %v, want %v", codes, want)
			break
		}
	}
}

func TestRateLimitSkipsHealth(t *testing.T) {
	srv := newLimitedServer(t, nil)
	for i := 0; i < 3; i++ {
		if code := serve(srv, "/health", "", "10.2.2.2:1"); code != http.StatusOK {
			t.Fatalf("health request %d = %d, want 200", i, code)
		}
	}
}

func TestRateLimitedResponse(t *testing.T) {
	srv := newLimitedServer(t, nil)
	serve(srv, "/api/v1/stats", "", "10.3.3.3:1")

	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	req.RemoteAddr = "10.3.3.3:2"
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if resp := decode[ErrorResponse](t, w); resp.Error != "rate_limit_exceeded" {
		t.Errorf("error = %q", resp.Error)
	}
}
