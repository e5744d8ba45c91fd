package api

import (
	"net/http"

	"github.com/okian/rosecast/internal/domain/model"
	"github.com/okian/rosecast/internal/domain/types"
)

// TopicDependencies exposes retained history and per-topic stats.
type TopicDependencies interface {
	Recent(topic string, limit int) []model.Event
	TopicStats() []types.TopicStats
}

// TopicsHandler serves topic history for clients refreshing after a gap.
type TopicsHandler struct {
	deps     TopicDependencies
	maxLimit int
}

// NewTopicsHandler creates a new topics handler.
func NewTopicsHandler(deps TopicDependencies, maxLimit int) *TopicsHandler {
	return &TopicsHandler{deps: deps, maxLimit: maxLimit}
}

// HandleListTopics handles GET /topics.
func (h *TopicsHandler) HandleListTopics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, topicsResponse{Topics: h.deps.TopicStats()})
}

// HandleRecent handles GET /topics/{topic}/recent?limit=N.
func (h *TopicsHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_recent"
	topic := r.PathValue("topic")
	n, err := parseLimit(r, defaultRecentLimit, h.maxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	events := h.deps.Recent(topic, n)
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Topic: topic, Events: events})
}
