package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"roomgraph/internal/common/logging"
)

// HTTPMiddleware rejects requests over the limit with 429. When the
// limiter itself fails the request is let through.
func HTTPMiddleware(limiter Limiter, keyFunc func(*http.Request) string, logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("Rate limiter unavailable", logging.String("key", key), logging.Err(err))
				allowed = true
			}

			if !allowed {
				if rps, ok := limiter.Stats()["requests_per_second"].(int); ok {
					w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rps))
				}
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPKey extracts the client address, preferring proxy headers
func IPKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// UserKey limits authenticated callers by subject and everyone else by
// address
func UserKey(r *http.Request) string {
	if user := r.Header.Get("X-User-ID"); user != "" {
		return "user:" + user
	}
	return "ip:" + IPKey(r)
}
