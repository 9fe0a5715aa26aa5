package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"roomgraph/internal/common/logging"
	"roomgraph/internal/common/validation"
	"roomgraph/internal/events"
)

// RouteResponse is one destination registered for a source room
type RouteResponse struct {
	Destination string   `json:"dst_room"`
	Rules       []string `json:"rules"`
}

// ListRooms returns the joined rooms with their distributor statistics
// @Summary List rooms
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Success 200 {array} roomgraph.RoomInfo
// @Router /api/rooms [get]
func (h *Handlers) ListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Rooms())
}

// GetRoomRoutes returns the destinations and rules registered for a
// source room
// @Summary List a room's routes
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Param room path string true "Room name"
// @Success 200 {array} RouteResponse
// @Failure 404 {object} errorResponse "Room has no routes"
// @Router /api/rooms/{room}/routes [get]
func (h *Handlers) GetRoomRoutes(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	counter := h.service.Counter(room)
	if counter == nil || counter.IsEmpty() {
		writeError(w, http.StatusNotFound, "Room has no routes")
		return
	}

	snapshot := counter.Snapshot()
	out := make([]RouteResponse, 0, len(snapshot))
	for _, dst := range snapshot {
		route := RouteResponse{Destination: dst.Room}
		for _, rule := range dst.Rules {
			route.Rules = append(route.Rules, rule.String())
		}
		out = append(out, route)
	}
	writeJSON(w, http.StatusOK, out)
}

// PublishEvent sends an event into a room
// @Summary Publish an event
// @Description Encodes the event with the configured codec and sends it into the room
// @Tags rooms
// @Accept json
// @Security BearerAuth
// @Param room path string true "Room name"
// @Param event body map[string][]string true "Event attributes"
// @Success 202
// @Failure 400 {object} errorResponse "Invalid event or room"
// @Failure 502 {object} errorResponse "Transport failure"
// @Router /api/rooms/{room}/events [post]
func (h *Handlers) PublishEvent(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	if !validation.ValidRoomName(room) {
		writeError(w, http.StatusBadRequest, "Invalid room name")
		return
	}

	var event events.Event
	if err := decodeBody(w, r, &event); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event: "+err.Error())
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := h.service.Publish(ctx, room, &event); err != nil {
		h.logger.Warn("Failed to publish event", logging.String("room", room), logging.Err(err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
