// Package handlers implements the roomgraph control API.
package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"roomgraph/internal/common/errors"
	"roomgraph/internal/common/logging"
	"roomgraph/internal/roomgraph"
	"roomgraph/internal/storage"
	"roomgraph/internal/transport"
)

// maxBodySize bounds request bodies accepted by the API
const maxBodySize = 1 << 20

type Handlers struct {
	service   *roomgraph.Service
	transport transport.Transport
	store     storage.Store
	logger    logging.Logger
}

// New creates the API handlers. store may be nil when session persistence
// is disabled.
func New(service *roomgraph.Service, tr transport.Transport, store storage.Store) *Handlers {
	return &Handlers{
		service:   service,
		transport: tr,
		store:     store,
		logger:    logging.Component("api"),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps service and application errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case stderrors.Is(err, roomgraph.ErrSessionNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, roomgraph.ErrInvalidRequest):
		return http.StatusBadRequest
	case stderrors.Is(err, roomgraph.ErrServiceClosed), stderrors.Is(err, roomgraph.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	switch errors.GetType(err) {
	case errors.ErrTypeValidation:
		return http.StatusBadRequest
	case errors.ErrTypeNotFound:
		return http.StatusNotFound
	case errors.ErrTypeAuth:
		return http.StatusUnauthorized
	case errors.ErrTypeConnection:
		return http.StatusBadGateway
	case errors.ErrTypeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func errBadRequest(msg string) error {
	return errors.ValidationError(msg)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// requestContext bounds work done on behalf of a single API call
func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 30*time.Second)
}
