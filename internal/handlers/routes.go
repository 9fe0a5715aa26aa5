package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterAPI mounts the session, room and rule endpoints on api, which is
// expected to be the /api subrouter.
func (h *Handlers) RegisterAPI(api *mux.Router) {
	api.HandleFunc("/sessions", h.ListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions", h.CreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", h.DeleteSession).Methods(http.MethodDelete)

	api.HandleFunc("/rooms", h.ListRooms).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{room}/routes", h.GetRoomRoutes).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{room}/events", h.PublishEvent).Methods(http.MethodPost)

	api.HandleFunc("/rules/test", h.TestRule).Methods(http.MethodPost)
}
