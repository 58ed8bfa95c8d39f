package api

import (
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wesm/formvault/internal/config"
	"github.com/wesm/formvault/internal/metrics"
	"golang.org/x/time/rate"
)

var (
	corsMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsHeaders = []string{"Accept", "Authorization", "Content-Type", "X-API-Key"}
)

// corsMiddleware answers browsers calling from the configured origins. With
// no origins configured it does nothing. Location and Content-Disposition
// are exposed so clients can follow stale-page redirects and name exports.
func corsMiddleware(sc config.ServerConfig) func(http.Handler) http.Handler {
	maxAge := sc.CORSMaxAge
	if maxAge == 0 {
		maxAge = 86400
	}
	allowed := func(origin string) bool {
		return origin != "" && (slices.Contains(sc.CORSOrigins, "*") || slices.Contains(sc.CORSOrigins, origin))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if !allowed(origin) {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Expose-Headers", "Location, Content-Disposition")
			if sc.CORSCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", strings.Join(corsMethods, ", "))
				h.Set("Access-Control-Allow-Headers", strings.Join(corsHeaders, ", "))
				if maxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(maxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limiterIdleTTL is how long an unused client bucket is kept.
const limiterIdleTTL = 10 * time.Minute

type bucket struct {
	*rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per client key. Authenticated
// requests are keyed by viewer so that users behind one proxy do not share
// a budget; anonymous requests are keyed by remote host.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int

	done      chan struct{}
	closeOnce sync.Once
}

// NewRateLimiter allows rps requests per second per client with bursts of
// up to burst. Idle buckets are swept in the background until Close.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(rps),
		burst:   burst,
		done:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

func (rl *RateLimiter) sweepLoop() {
	tick := time.NewTicker(time.Minute)
	defer tick.Stop()
	for {
		select {
		case <-rl.done:
			return
		case now := <-tick.C:
			rl.sweep(now)
		}
	}
}

func (rl *RateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(rl.buckets, key)
		}
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.done) })
}

// Allow takes a token from key's bucket.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = time.Now()
	rl.mu.Unlock()
	return b.Allow()
}

// clientIP returns the remote host without its port, preferring X-Real-IP
// when a reverse proxy sets it. It is also recorded on submissions.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// rateLimitMiddleware must run after authMiddleware so the viewer is known.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kind, key := "ip", "ip:"+clientIP(r)
		if len(s.cfg.Users) > 0 {
			kind, key = "viewer", "viewer:"+strconv.FormatInt(viewerFrom(r.Context()).ID, 10)
		}
		if !s.rateLimiter.Allow(key) {
			metrics.RateLimited.WithLabelValues(kind).Inc()
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests. Please slow down.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
