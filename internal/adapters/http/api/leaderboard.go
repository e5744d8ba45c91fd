// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	"github.com/okian/rosecast/internal/domain/types"
)

// StandingsDependencies defines the interface for leaderboard reads.
type StandingsDependencies interface {
	Top(ctx context.Context, topic string, n int) ([]types.Standing, error)
	Rank(ctx context.Context, topic, userID string) (types.Standing, error)
}

// StandingsHandler handles leaderboard requests.
type StandingsHandler struct {
	deps     StandingsDependencies
	maxLimit int
}

// NewStandingsHandler creates a new standings handler.
func NewStandingsHandler(deps StandingsDependencies, maxLimit int) *StandingsHandler {
	return &StandingsHandler{
		deps:     deps,
		maxLimit: maxLimit,
	}
}

// HandleGetStandings handles GET /topics/{topic}/standings?limit=N requests.
func (h *StandingsHandler) HandleGetStandings(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_standings"
	n, err := parseLimit(r, h.maxLimit, h.maxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	entries, err := h.deps.Top(r.Context(), r.PathValue("topic"), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", wrapKind(op, ErrUnavailable, err))
		return
	}
	if entries == nil {
		entries = []types.Standing{}
	}
	writeJSON(w, http.StatusOK, entries)
}
