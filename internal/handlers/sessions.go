package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"roomgraph/internal/common/logging"
	"roomgraph/internal/common/pagination"
	"roomgraph/internal/roomgraph"
	"roomgraph/internal/rules"
	"roomgraph/internal/storage"
)

// CreateSessionRequest is the body of POST /api/sessions. The rule may be
// given as a rule tree, in canonical text form, or as a list of
// "asn[,netblock...]" expressions. Without either every event matches.
type CreateSessionRequest struct {
	Source      string            `json:"src_room"`
	Destination string            `json:"dst_room"`
	Rule        *rules.Rule       `json:"rule,omitempty"`
	ASNs        []string          `json:"asns,omitempty"`
	Options     map[string]string `json:"options,omitempty"`
	Persist     bool              `json:"persist,omitempty"`
}

// SessionResponse describes a running session
type SessionResponse struct {
	roomgraph.SessionInfo
	Persisted bool `json:"persisted"`
}

func (req *CreateSessionRequest) toRequest() (roomgraph.Request, error) {
	rule := req.Rule
	if len(req.ASNs) > 0 {
		if rule != nil {
			return roomgraph.Request{}, errBadRequest("give either rule or asns, not both")
		}
		parsed, err := rules.ParseASNNetblocks(req.ASNs)
		if err != nil {
			return roomgraph.Request{}, errBadRequest(err.Error())
		}
		rule = parsed
	}
	return roomgraph.Request{
		Source:      req.Source,
		Destination: req.Destination,
		Rule:        rule,
		Options:     req.Options,
	}, nil
}

// CreateSession starts a roomgraph session
// @Summary Start a session
// @Description Forwards events of src_room matching the rule into dst_room
// @Tags sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param session body CreateSessionRequest true "Session request"
// @Success 201 {object} SessionResponse
// @Failure 400 {object} errorResponse "Invalid request"
// @Failure 502 {object} errorResponse "Rooms could not be joined"
// @Router /api/sessions [post]
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var body CreateSessionRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	req, err := body.toRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if body.Persist && h.store == nil {
		writeError(w, http.StatusBadRequest, "Session persistence is not enabled")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	session, err := h.service.Start(ctx, req)
	if err != nil {
		h.logger.Warn("Failed to start session",
			logging.String("src_room", req.Source),
			logging.String("dst_room", req.Destination),
			logging.Err(err),
		)
		writeError(w, statusFor(err), err.Error())
		return
	}

	info := session.Info()
	if body.Persist {
		if err := h.store.Save(ctx, recordFor(info)); err != nil {
			h.logger.Error("Failed to persist session", err, logging.String("session_id", info.ID))
			// the request may be what failed the save, so stop on a fresh deadline
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if err := session.Stop(stopCtx); err != nil {
				h.logger.Error("Failed to stop unpersisted session", err, logging.String("session_id", info.ID))
			}
			writeError(w, http.StatusInternalServerError, "Failed to persist session")
			return
		}
	}

	h.logger.Info("Session created via API",
		logging.String("session_id", info.ID),
		logging.String("src_room", info.Source),
		logging.String("dst_room", info.Destination),
		logging.String("rule", info.Rule),
		logging.Bool("persisted", body.Persist),
	)

	writeJSON(w, http.StatusCreated, SessionResponse{SessionInfo: info, Persisted: body.Persist})
}

// ListSessions returns one page of the running sessions, oldest first
// @Summary List sessions
// @Tags sessions
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Sessions per page" default(50)
// @Success 200 {object} pagination.Page[roomgraph.SessionInfo]
// @Router /api/sessions [get]
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pagination.Paginate(h.service.Sessions(), pagination.ParseParams(r)))
}

// GetSession returns one session
// @Summary Get a session
// @Tags sessions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} roomgraph.SessionInfo
// @Failure 404 {object} errorResponse "Session not found"
// @Router /api/sessions/{id} [get]
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	session, ok := h.service.Session(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, session.Info())
}

// DeleteSession stops a session and removes its stored record
// @Summary Stop a session
// @Tags sessions
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 204
// @Failure 404 {object} errorResponse "Session not found"
// @Router /api/sessions/{id} [delete]
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := h.service.Stop(ctx, id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if h.store != nil {
		if err := h.store.Delete(ctx, id); err != nil {
			h.logger.Error("Failed to delete stored session", err, logging.String("session_id", id))
			writeError(w, http.StatusInternalServerError, "Session stopped but its record could not be deleted")
			return
		}
	}

	h.logger.Info("Session stopped via API", logging.String("session_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func recordFor(info roomgraph.SessionInfo) *storage.SessionRecord {
	return &storage.SessionRecord{
		ID:          info.ID,
		Source:      info.Source,
		Destination: info.Destination,
		Rule:        info.Rule,
		Options:     info.Options,
		CreatedAt:   info.CreatedAt,
	}
}
