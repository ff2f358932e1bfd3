package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Tracked-client ceiling. Past this the limiter fails closed for new
// addresses rather than growing without bound.
const maxTrackedClients = 65536

// RateLimiter is per-IP token bucket rate limiting middleware. Scraper
// ingest batches and agent polling loops can be chatty, so the API caps
// sustained request rates per client rather than globally.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*tokenBucket
	rate    float64 // refill, tokens per second
	burst   float64
	now     func() time.Time
}

type tokenBucket struct {
	tokens  float64
	touched time.Time // last request; drives refill and idle eviction
}

// take refills for the time since the last request, then spends one
// token. When the bucket is dry it reports how long until the next token.
func (b *tokenBucket) take(now time.Time, rate, burst float64) (ok bool, wait float64) {
	b.tokens = math.Min(burst, b.tokens+now.Sub(b.touched).Seconds()*rate)
	b.touched = now
	if b.tokens < 1 {
		return false, (1 - b.tokens) / rate
	}
	b.tokens--
	return true, 0
}

// NewRateLimiter creates a rate limiter with the given sustained rate
// (requests per second) and burst size.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*tokenBucket),
		rate:    rate,
		burst:   float64(burst),
		now:     time.Now,
	}
}

// Handler returns HTTP middleware that enforces per-IP rate limiting.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, remaining, wait := rl.allow(clientIP(r))

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.now().Add(time.Second).Unix(), 10))

		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(ip string) (ok bool, remaining int, wait float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, tracked := rl.clients[ip]
	if !tracked {
		if len(rl.clients) >= maxTrackedClients {
			return false, 0, 1.0 / rl.rate
		}
		// First request spends its token on the way in.
		b = &tokenBucket{tokens: rl.burst - 1, touched: now}
		rl.clients[ip] = b
		return true, int(b.tokens), 0
	}

	ok, wait = b.take(now, rl.rate, rl.burst)
	if !ok {
		return false, 0, wait
	}
	return true, int(b.tokens), 0
}

// StartCleanup spawns a goroutine that evicts idle buckets every
// interval. A bucket is idle once no request touched it for maxIdle.
// The returned function stops the goroutine.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.evictIdle(maxIdle)
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) evictIdle(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-maxIdle)
	for ip, b := range rl.clients {
		if b.touched.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

// Len returns the number of tracked client buckets (for metrics and
// testing).
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// clientIP keys buckets by RemoteAddr host. Proxy headers
// (X-Forwarded-For, X-Real-Ip) are NOT trusted because they can be
// spoofed to dodge the limiter.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
