// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/okian/rosecast/internal/adapters/mq/queue"
	"github.com/okian/rosecast/internal/adapters/mq/worker"
	"github.com/okian/rosecast/internal/domain/model"
)

// maxEventBytes bounds a POST /events body.
const maxEventBytes = 64 * 1024

var errServerOnlyKind = errors.New("live_stats events are produced by the server")

// EventDependencies defines the interface for event ingest.
type EventDependencies interface {
	// Seen reports whether an event id was already published.
	Seen(ctx context.Context, id string) bool
	// Submit queues an event for publishing without blocking.
	Submit(ctx context.Context, e model.Event) error
}

// EventsHandler handles producer event submissions.
type EventsHandler struct {
	deps EventDependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

// HandlePostEvent handles POST /events requests. The body is a single event
// frame. Seq is assigned on publish; a producer timestamp is kept. LiveStats
// are synthesised by the server and cannot be posted.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	var e model.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	if err := e.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_event", wrapKind(op, ErrBadRequest, err))
		return
	}
	if e.Kind == model.KindLiveStats {
		writeError(w, http.StatusBadRequest, "invalid_event", wrapKind(op, ErrBadRequest, errServerOnlyKind))
		return
	}
	e.Seq = 0

	if e.ID == "" {
		e.ID = uuid.NewString()
	} else if h.deps.Seen(r.Context(), e.ID) {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true, EventID: e.ID})
		return
	}

	if err := h.deps.Submit(r.Context(), e); err != nil {
		switch {
		case errors.Is(err, worker.ErrQueueFull):
			writeError(w, http.StatusTooManyRequests, "backpressure", wrapKind(op, ErrBackpressure, err))
		case errors.Is(err, queue.ErrStopped):
			writeError(w, http.StatusServiceUnavailable, "unavailable", wrapKind(op, ErrUnavailable, err))
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", err)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", EventID: e.ID})
}
