package handlers

import (
	"net/http"

	"roomgraph/internal/events"
	"roomgraph/internal/rules"
)

// TestRuleRequest is the body of POST /api/rules/test
type TestRuleRequest struct {
	Rule  *rules.Rule   `json:"rule"`
	Event *events.Event `json:"event"`
}

// TestRuleResponse reports the canonical rule and whether it matched
type TestRuleResponse struct {
	Rule    string `json:"rule"`
	Matches bool   `json:"matches"`
}

// TestRule evaluates a rule against an event without touching any room
// @Summary Evaluate a rule
// @Tags rules
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body TestRuleRequest true "Rule and event"
// @Success 200 {object} TestRuleResponse
// @Failure 400 {object} errorResponse "Invalid rule or event"
// @Router /api/rules/test [post]
func (h *Handlers) TestRule(w http.ResponseWriter, r *http.Request) {
	var req TestRuleRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if req.Rule == nil {
		writeError(w, http.StatusBadRequest, "rule is required")
		return
	}
	if req.Event == nil {
		req.Event = events.New()
	}

	writeJSON(w, http.StatusOK, TestRuleResponse{
		Rule:    req.Rule.String(),
		Matches: req.Rule.Match(req.Event),
	})
}
