package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/narrahq/narra/internal/respond"
)

// Client IP headers set by the edge, in order of trust.
var clientIPHeaders = []string{"X-Nf-Client-Connection-Ip", "CF-Connecting-IP", "Fly-Client-IP"}

// RealIP returns the caller's address as reported by the edge proxy, then the
// first hop of X-Forwarded-For, then the socket peer.
func RealIP(r *http.Request) string {
	for _, h := range clientIPHeaders {
		if ip := strings.TrimSpace(r.Header.Get(h)); ip != "" {
			return ip
		}
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

type bucket struct {
	hits  int
	reset time.Time
}

// RateLimiter counts hits per key in fixed windows, held in memory.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Take records a hit for key and reports whether it fits in limit hits per
// window.
func (rl *RateLimiter) Take(key string, limit int, window time.Duration) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b := rl.buckets[key]
	if b == nil || !now.Before(b.reset) {
		b = &bucket{reset: now.Add(window)}
		rl.buckets[key] = b
	}
	b.hits++
	return Decision{
		Allowed:   b.hits <= limit,
		Limit:     limit,
		Remaining: max(limit-b.hits, 0),
		Reset:     b.reset,
	}
}

// Cleanup drops buckets whose window has closed.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	n := 0
	for key, b := range rl.buckets {
		if !now.Before(b.reset) {
			delete(rl.buckets, key)
			n++
		}
	}
	return n
}

// ByIPAndPath keys requests by client IP and route.
func ByIPAndPath(r *http.Request) string {
	return RealIP(r) + " " + r.URL.Path
}

// RateLimit rejects requests past limit per window for each key with 429.
func RateLimit(limiter *RateLimiter, keyFunc func(*http.Request) string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.Take(keyFunc(r), limit, window)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				wait := math.Ceil(d.Reset.Sub(limiter.now()).Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(max(int(wait), 1)))
				respond.Error(w, respond.TooManyRequests("Too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
