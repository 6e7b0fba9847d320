package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/kiranshivaraju/dandi/internal/api/response"
	"github.com/kiranshivaraju/dandi/internal/cache"
	"golang.org/x/time/rate"
)

const (
	defaultRequestsPerMinute = 60
	rateLimitWindow          = 60 * time.Second
	maxFallbackClients       = 10000
)

// RateLimit provides fixed-window rate limiting per client IP via Redis.
// While Redis is unreachable each client gets a process-local token bucket
// at the same rate instead.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
	scope          string

	mu       sync.Mutex
	fallback map[string]*rate.Limiter
}

// NewRateLimit creates a new RateLimit middleware. scope separates counters
// of differently limited route groups.
func NewRateLimit(c cache.Cache, requestsPerMin int, scope string) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{
		cache:          c,
		requestsPerMin: requestsPerMin,
		scope:          scope,
		fallback:       make(map[string]*rate.Limiter),
	}
}

// Limit rejects a client once it exceeds requestsPerMin within the window.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		key := cache.RateLimitKey(rl.scope, ip)
		count, err := rl.cache.IncrWithExpiry(r.Context(), key, rateLimitWindow)
		if err != nil {
			slog.Warn("rate limit check failed, using local limiter", "error", err, "scope", rl.scope)
			if !rl.localLimiter(ip).Allow() {
				rl.reject(w)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.requestsPerMin - int(count)
		if remaining < 0 {
			remaining = 0
		}
		resetTime := time.Now().Add(rateLimitWindow).Unix()

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))

		if count > int64(rl.requestsPerMin) {
			rl.reject(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// localLimiter returns the fallback bucket for ip. The table is reset once it
// holds maxFallbackClients entries.
func (rl *RateLimit) localLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.fallback[ip]
	if !ok {
		if len(rl.fallback) >= maxFallbackClients {
			rl.fallback = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(rate.Every(rateLimitWindow/time.Duration(rl.requestsPerMin)), rl.requestsPerMin)
		rl.fallback[ip] = l
	}
	return l
}

func (rl *RateLimit) reject(w http.ResponseWriter) {
	w.Header().Set("Retry-After", strconv.Itoa(int(rateLimitWindow.Seconds())))
	response.Error(w, http.StatusTooManyRequests,
		"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
