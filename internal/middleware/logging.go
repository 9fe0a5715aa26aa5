// Package middleware holds HTTP middleware shared by the control API.
package middleware

import (
	"net/http"
	"time"

	"roomgraph/internal/common/logging"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.written = true
	return rw.ResponseWriter.Write(b)
}

// Logging returns middleware that logs every request with method, path,
// status and duration to logger.
func Logging(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			fields := []logging.Field{
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", wrapped.statusCode),
				logging.Int64("duration_ms", time.Since(start).Milliseconds()),
				logging.String("remote_addr", r.RemoteAddr),
			}

			if r.URL.RawQuery != "" {
				fields = append(fields, logging.String("query", r.URL.RawQuery))
			}
			if ua := r.Header.Get("User-Agent"); ua != "" {
				fields = append(fields, logging.String("user_agent", ua))
			}
			// Set by the auth middleware
			if userID := r.Header.Get("X-User-ID"); userID != "" {
				fields = append(fields, logging.String("user_id", userID))
			}

			if wrapped.statusCode >= 500 {
				logger.Error("HTTP request completed", nil, fields...)
			} else if wrapped.statusCode >= 400 {
				logger.Warn("HTTP request completed", fields...)
			} else {
				logger.Info("HTTP request completed", fields...)
			}
		})
	}
}

// LoggingMiddleware logs through the global logger
func LoggingMiddleware(next http.Handler) http.Handler {
	return Logging(logging.GetGlobalLogger())(next)
}
