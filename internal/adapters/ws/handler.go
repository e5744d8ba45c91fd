// Package ws is the websocket transport: it upgrades client connections,
// applies their control messages and writes delivered events.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/okian/rosecast/internal/adapters/mq/queue"
	"github.com/okian/rosecast/internal/domain/bus"
	"github.com/okian/rosecast/internal/domain/registry"
	"github.com/okian/rosecast/internal/domain/session"
	"github.com/okian/rosecast/pkg/logger"
	"github.com/okian/rosecast/pkg/metrics"
)

const (
	defaultOutboxCapacity = 200
	defaultControlRate    = 10
	defaultControlBurst   = 20
	bufferSize            = 4096
)

// Handler serves websocket connections at /ws and /ws/{topic}. A topic in
// the path is subscribed on connect.
type Handler struct {
	reg      *registry.Registry
	sessions *session.Manager
	upgrader websocket.Upgrader
	clock    clockwork.Clock
	log      logger.Logger

	outboxCapacity int
	controlRate    float64
	controlBurst   int
}

// NewHandler creates a websocket handler.
func NewHandler(reg *registry.Registry, sessions *session.Manager, opts ...Option) *Handler {
	h := &Handler{
		reg:      reg,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  bufferSize,
			WriteBufferSize: bufferSize,
		},
		clock:          clockwork.NewRealClock(),
		log:            logger.Nop(),
		outboxCapacity: defaultOutboxCapacity,
		controlRate:    defaultControlRate,
		controlBurst:   defaultControlBurst,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.upgrader.CheckOrigin == nil {
		h.upgrader.CheckOrigin = NewCheckOrigin(nil, h.log)
	}
	return h
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.RecordErrorByComponent("websocket", "upgrade")
		h.log.Debug(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}
	ctx := r.Context()

	out := queue.NewChannel(
		queue.WithChannelCapacity(h.outboxCapacity),
		queue.WithChannelLogger(h.log),
	)
	rc := h.reg.Register(ctx, out)
	id := rc.ID()
	cl := newClient(id, conn, out, h.clock, h.log, func() { _ = h.reg.Touch(id) })
	cl.start(ctx)
	defer func() {
		h.reg.Deregister(ctx, id)
		cl.stop()
		h.log.Debug(ctx, "websocket closed", logger.String("connection_id", id))
	}()

	cl.send(Frame{Type: TypeConnected, ConnectionID: id})
	if topic := r.PathValue("topic"); topic != "" {
		h.subscribe(ctx, cl, topic, nil)
	}
	h.readLoop(ctx, cl)
}

func (h *Handler) readLoop(ctx context.Context, cl *client) {
	limiter := rate.NewLimiter(rate.Limit(h.controlRate), h.controlBurst)
	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug(ctx, "websocket read failed", logger.String("connection_id", cl.id), logger.Error(err))
			}
			return
		}
		cl.updateReadDeadline()
		_ = h.reg.Touch(cl.id)

		if !limiter.AllowN(h.clock.Now(), 1) {
			metrics.RecordControlRateLimited()
			cl.send(errorFrame(CodeRateLimited, "too many control messages"))
			continue
		}
		h.dispatch(ctx, cl, data)
	}
}

func (h *Handler) dispatch(ctx context.Context, cl *client, data []byte) {
	var msg Control
	if err := json.Unmarshal(data, &msg); err != nil {
		metrics.RecordControlMessage("invalid")
		cl.send(errorFrame(CodeInvalidMessage, "control messages must be JSON objects"))
		return
	}

	switch msg.Type {
	case TypeAuthenticate:
		metrics.RecordControlMessage(msg.Type)
		u, err := h.sessions.Authenticate(ctx, cl.id, msg.UserID, msg.Username)
		if err != nil {
			cl.send(errorFrame(CodeAuthFailed, err.Error()))
			return
		}
		cl.send(Frame{Type: TypeAuthenticated, UserID: u.ID, Username: u.Username})
	case TypeSubscribe:
		metrics.RecordControlMessage(msg.Type)
		h.subscribe(ctx, cl, msg.Topic, msg.LastSeen)
	case TypeUnsubscribe:
		metrics.RecordControlMessage(msg.Type)
		if err := h.sessions.Unsubscribe(ctx, cl.id, msg.Topic); err != nil {
			cl.send(errorFrame(CodeUnsubscribe, err.Error()))
			return
		}
		cl.send(Frame{Type: TypeUnsubscribed, Topic: msg.Topic})
	case TypeResume:
		metrics.RecordControlMessage(msg.Type)
		h.resume(ctx, cl, msg)
	case TypePing:
		metrics.RecordControlMessage(msg.Type)
		now := h.clock.Now().UTC()
		cl.send(Frame{Type: TypePong, Timestamp: &now})
	default:
		metrics.RecordControlMessage("unknown")
		cl.send(errorFrame(CodeUnknownType, "unknown message type "+msg.Type))
	}
}

func (h *Handler) subscribe(ctx context.Context, cl *client, topic string, since *time.Time) {
	start, err := h.sessions.Subscribe(ctx, cl.id, topic, since)
	switch {
	case errors.Is(err, bus.ErrGapDetected):
		cl.send(Frame{Type: TypeSubscribed, Topic: topic, Replayed: 0, Cursor: &start.Cursor})
		cl.send(Frame{Type: TypeGapDetected, Topic: topic})
	case err != nil:
		cl.send(errorFrame(CodeSubscribe, err.Error()))
	default:
		cl.send(Frame{Type: TypeSubscribed, Topic: topic, Replayed: start.Replayed, Cursor: &start.Cursor})
	}
}

func (h *Handler) resume(ctx context.Context, cl *client, msg Control) { //nolint:gocritic // hugeParam: decoded once per message
	req := session.ResumeRequest{
		UserID:   msg.UserID,
		Username: msg.Username,
		Topics:   make(map[string]*time.Time, len(msg.Topics)),
	}
	for _, tc := range msg.Topics {
		req.Topics[tc.Topic] = tc.LastSeen
	}

	res, err := h.sessions.Resume(ctx, cl.id, req)
	if err != nil && len(res.Cursors) == 0 {
		cl.send(errorFrame(CodeResume, err.Error()))
		return
	}
	if err != nil {
		h.log.Warn(ctx, "partial resume", logger.String("connection_id", cl.id), logger.Error(err))
	}
	cl.send(Frame{Type: TypeResumed, Replayed: res.Replayed, Gaps: res.Gaps, Cursors: res.Cursors})
	for _, topic := range res.Gaps {
		cl.send(Frame{Type: TypeGapDetected, Topic: topic})
	}
}
