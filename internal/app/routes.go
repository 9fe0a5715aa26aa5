package app

import (
	"net/http"

	"github.com/gorilla/mux"
	"roomgraph/internal/common/logging"
	"roomgraph/internal/handlers"
	"roomgraph/internal/middleware"
	"roomgraph/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, authMiddleware func(http.Handler) http.Handler, limiter ratelimit.Limiter, metricsHandler http.Handler) {
	router.Use(middleware.Logging(logging.Component("http")))

	// Health check and metrics (no auth required)
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	// Protected routes - require authentication and rate limiting
	api := router.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware)
	if limiter != nil {
		api.Use(ratelimit.HTTPMiddleware(limiter, ratelimit.UserKey, logging.Component("ratelimit")))
	}
	h.RegisterAPI(api)
}
