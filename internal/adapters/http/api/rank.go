// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/http"
	"strings"
)

// RankHandler handles single-user standing requests.
type RankHandler struct {
	deps StandingsDependencies
}

// NewRankHandler creates a new rank handler.
func NewRankHandler(deps StandingsDependencies) *RankHandler {
	return &RankHandler{deps: deps}
}

// HandleGetRank handles GET /topics/{topic}/standings/{user_id} requests.
func (h *RankHandler) HandleGetRank(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rank"
	userID := r.PathValue("user_id")
	if strings.TrimSpace(userID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", newKind(op, ErrBadRequest))
		return
	}
	entry, err := h.deps.Rank(r.Context(), r.PathValue("topic"), userID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
