// Package client is a Go SDK for the realtime websocket endpoint.
//
// A Session owns one logical connection. It tracks the timestamp of the last
// sequenced event seen on every subscribed topic and, after a reconnect,
// resumes from those cursors so that missed events are replayed in order
// before live ones.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/okian/rosecast/internal/adapters/ws"
	"github.com/okian/rosecast/internal/domain/model"
	"github.com/okian/rosecast/internal/domain/types"
	"github.com/okian/rosecast/pkg/logger"
)

const (
	defaultPingInterval = 15 * time.Second
	handshakeTimeout    = 10 * time.Second
	writeTimeout        = 5 * time.Second
	readTimeout         = 60 * time.Second
	maxMessageSize      = 1 << 20

	excellentRTT = 100 * time.Millisecond
	goodRTT      = 500 * time.Millisecond

	directPrefix = "user:"
)

// topicState is anchored once a subscribe for the topic has reached a
// server. From then on a resume must replay from lastSeen, even while it is
// still zero, or events published during an outage would be skipped.
type topicState struct {
	lastSeen time.Time
	anchored bool
	subs     map[uint64]*Subscription
}

// Session is safe for concurrent use.
type Session struct {
	url           string
	dialer        *websocket.Dialer
	clock         clockwork.Clock
	log           logger.Logger
	pingInterval  time.Duration
	reconnectBase time.Duration
	reconnectMax  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	connID     string
	userID     string
	username   string
	topics     map[string]*topicState
	nextID     uint64
	onGap      []func(topic string)
	onLossy    []func()
	onDirect   []Handler
	closed     bool
	pingSentAt time.Time
	rtt        time.Duration
	lastHeard  time.Time
}

// New creates a session for the websocket endpoint at url. Nothing is dialled
// until Connect.
func New(url string, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		url:          url,
		dialer:       &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		clock:        clockwork.NewRealClock(),
		log:          logger.Nop(),
		pingInterval: defaultPingInterval,
		ctx:          ctx,
		cancel:       cancel,
		topics:       make(map[string]*topicState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials the server and re-declares the session's user and topics.
// It is a no-op when already connected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.conn != nil:
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	conn, id, err := s.dial(ctx)
	if err != nil {
		return err
	}
	return s.attach(conn, id)
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, string, error) {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, "", fmt.Errorf("dial %s: %w", s.url, err)
	}
	conn.SetReadLimit(maxMessageSize)

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var hello ws.Frame
	if err := conn.ReadJSON(&hello); err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if hello.Type != ws.TypeConnected {
		_ = conn.Close()
		return nil, "", fmt.Errorf("%w: %s", ErrHandshake, hello.Type)
	}

	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	return conn, hello.ConnectionID, nil
}

func (s *Session) attach(conn *websocket.Conn, connID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.connID = connID
	s.lastHeard = s.clock.Now()
	s.pingSentAt = time.Time{}
	s.rtt = 0
	hello := s.greetingLocked()
	s.mu.Unlock()

	s.log.Debug(s.ctx, "connected", logger.String("connection_id", connID))
	if hello != nil {
		if err := s.write(*hello); err != nil {
			s.log.Warn(s.ctx, "greeting failed", logger.Error(err))
		} else {
			s.anchor(hello.Topics)
		}
	}

	s.wg.Add(2)
	go s.readLoop(conn)
	go s.pingLoop(conn)
	return nil
}

// greetingLocked returns the message that restores server side state: a
// resume carrying every cursor, or a bare authenticate.
func (s *Session) greetingLocked() *ws.Control {
	if len(s.topics) == 0 {
		if s.userID == "" {
			return nil
		}
		return &ws.Control{Type: ws.TypeAuthenticate, UserID: s.userID, Username: s.username}
	}
	return &ws.Control{
		Type:     ws.TypeResume,
		UserID:   s.userID,
		Username: s.username,
		Topics:   s.cursorsLocked(),
	}
}

func (s *Session) cursorsLocked() []ws.TopicCursor {
	names := make([]string, 0, len(s.topics))
	for name := range s.topics {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ws.TopicCursor, 0, len(names))
	for _, name := range names {
		tc := ws.TopicCursor{Topic: name}
		if st := s.topics[name]; st.anchored {
			ts := st.lastSeen
			tc.LastSeen = &ts
		}
		out = append(out, tc)
	}
	return out
}

// anchor marks the topics of a sent resume as known to the server.
func (s *Session) anchor(cursors []ws.TopicCursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tc := range cursors {
		if ts := s.topics[tc.Topic]; ts != nil {
			ts.anchored = true
		}
	}
}

// advance moves the cursor of topic to at when the server reports that
// nothing at or before it will be delivered.
func (s *Session) advance(topic string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.topics[topic]
	if ts == nil {
		return
	}
	ts.anchored = true
	if at.After(ts.lastSeen) {
		ts.lastSeen = at
	}
}

func (s *Session) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.disconnected(conn, err)
			return
		}
		s.handle(data)
	}
}

func (s *Session) pingLoop(conn *websocket.Conn) {
	defer s.wg.Done()
	ticker := s.clock.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.Chan():
			s.mu.Lock()
			if s.conn != conn {
				s.mu.Unlock()
				return
			}
			s.pingSentAt = s.clock.Now()
			s.mu.Unlock()
			if err := s.write(ws.Control{Type: ws.TypePing}); err != nil {
				return
			}
		}
	}
}

func (s *Session) disconnected(conn *websocket.Conn, cause error) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.connID = ""
	}
	closed := s.closed
	s.mu.Unlock()
	_ = conn.Close()

	if closed {
		return
	}
	s.log.Info(s.ctx, "connection lost", logger.Error(cause))
	if s.reconnectBase > 0 {
		s.wg.Add(1)
		go s.reconnect()
	}
}

func (s *Session) reconnect() {
	defer s.wg.Done()

	wait := s.reconnectBase
	for attempt := 1; ; attempt++ {
		select {
		case <-s.ctx.Done():
			return
		case <-s.clock.After(wait):
		}

		conn, id, err := s.dial(s.ctx)
		if err != nil {
			s.log.Warn(s.ctx, "reconnection failed", logger.Int("attempt", attempt), logger.Error(err))
			wait *= 2
			if wait > s.reconnectMax {
				wait = s.reconnectMax
			}
			continue
		}
		if err := s.attach(conn, id); err != nil {
			return
		}
		s.log.Info(s.ctx, "reconnected", logger.Int("attempt", attempt))
		return
	}
}

func (s *Session) handle(data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		s.log.Debug(s.ctx, "undecodable frame", logger.Error(err))
		return
	}
	now := s.clock.Now()
	s.mu.Lock()
	s.lastHeard = now
	s.mu.Unlock()

	if model.Kind(head.Type).Valid() {
		var e model.Event
		if err := json.Unmarshal(data, &e); err != nil {
			s.log.Debug(s.ctx, "undecodable event", logger.Error(err))
			return
		}
		s.dispatch(e)
		return
	}

	var f ws.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.log.Debug(s.ctx, "undecodable control frame", logger.Error(err))
		return
	}
	switch f.Type {
	case ws.TypeSubscribed:
		if f.Cursor != nil {
			s.advance(f.Topic, *f.Cursor)
		}
	case ws.TypeResumed:
		for topic, at := range f.Cursors {
			s.advance(topic, at)
		}
	case ws.TypePong:
		s.mu.Lock()
		if !s.pingSentAt.IsZero() {
			s.rtt = now.Sub(s.pingSentAt)
			s.pingSentAt = time.Time{}
		}
		s.mu.Unlock()
	case ws.TypeGapDetected:
		s.mu.Lock()
		fns := append([]func(string){}, s.onGap...)
		s.mu.Unlock()
		for _, fn := range fns {
			fn(f.Topic)
		}
	case ws.TypeLossy:
		s.mu.Lock()
		fns := append([]func(){}, s.onLossy...)
		s.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
		if err := s.Resync(); err != nil {
			s.log.Warn(s.ctx, "resync failed", logger.Error(err))
		}
	case ws.TypeError:
		s.log.Warn(s.ctx, "server error", logger.String("code", f.Code), logger.String("message", f.Message))
	default:
		s.log.Debug(s.ctx, "control frame", logger.String("type", f.Type), logger.String("topic", f.Topic))
	}
}

// dispatch delivers e to the handles of its topic. Sequenced events at or
// before the topic cursor were already delivered and are skipped.
func (s *Session) dispatch(e model.Event) { //nolint:gocritic // hugeParam: events travel by value
	s.mu.Lock()
	ts := s.topics[e.Topic]
	if ts == nil {
		var direct []Handler
		if strings.HasPrefix(e.Topic, directPrefix) {
			direct = append(direct, s.onDirect...)
		}
		s.mu.Unlock()
		for _, h := range direct {
			h(e)
		}
		return
	}
	if e.Seq > 0 {
		if !e.Timestamp.After(ts.lastSeen) {
			s.mu.Unlock()
			return
		}
		ts.lastSeen = e.Timestamp
	}
	subs := make([]*Subscription, 0, len(ts.subs))
	for _, sub := range ts.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	for _, sub := range subs {
		sub.deliver(e)
	}
}

func (s *Session) write(v any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

// Authenticate binds the session to a user. The binding is sent now when
// connected and again on every reconnect.
func (s *Session) Authenticate(userID, username string) error {
	s.mu.Lock()
	s.userID = userID
	s.username = username
	connected := s.conn != nil
	s.mu.Unlock()

	if !connected {
		return nil
	}
	return s.write(ws.Control{Type: ws.TypeAuthenticate, UserID: userID, Username: username})
}

// Subscribe returns a new handle on topic. The first handle of a topic
// subscribes on the server; later ones share it.
func (s *Session) Subscribe(topic string) *Subscription {
	s.mu.Lock()
	s.nextID++
	sub := &Subscription{
		session:  s,
		id:       s.nextID,
		topic:    topic,
		handlers: make(map[model.Kind][]Handler),
	}
	ts, ok := s.topics[topic]
	if !ok {
		ts = &topicState{subs: make(map[uint64]*Subscription)}
		s.topics[topic] = ts
	}
	ts.subs[sub.id] = sub
	connected := s.conn != nil
	s.mu.Unlock()

	if !ok && connected {
		if err := s.write(ws.Control{Type: ws.TypeSubscribe, Topic: topic}); err != nil {
			s.log.Debug(s.ctx, "subscribe deferred to reconnect", logger.String("topic", topic), logger.Error(err))
			return sub
		}
		s.anchor([]ws.TopicCursor{{Topic: topic}})
	}
	return sub
}

func (s *Session) release(sub *Subscription) error {
	s.mu.Lock()
	ts := s.topics[sub.topic]
	if ts == nil {
		s.mu.Unlock()
		return nil
	}
	delete(ts.subs, sub.id)
	last := len(ts.subs) == 0
	if last {
		delete(s.topics, sub.topic)
	}
	connected := s.conn != nil
	s.mu.Unlock()

	if !last || !connected {
		return nil
	}
	return s.write(ws.Control{Type: ws.TypeUnsubscribe, Topic: sub.topic})
}

// Resync asks the server to replay every topic from its cursor. It is sent
// automatically when the server reports lossy delivery.
func (s *Session) Resync() error {
	s.mu.Lock()
	if len(s.topics) == 0 {
		s.mu.Unlock()
		return nil
	}
	msg := ws.Control{Type: ws.TypeResume, UserID: s.userID, Username: s.username, Topics: s.cursorsLocked()}
	s.mu.Unlock()
	if err := s.write(msg); err != nil {
		return err
	}
	s.anchor(msg.Topics)
	return nil
}

// OnGap registers fn to run when the server cannot replay a topic and the
// application must refresh it in full.
func (s *Session) OnGap(fn func(topic string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onGap = append(s.onGap, fn)
}

// OnLossy registers fn to run when the server dropped events for this
// session. A resync follows automatically.
func (s *Session) OnLossy(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLossy = append(s.onLossy, fn)
}

// OnDirect registers h for messages addressed to the session's user.
func (s *Session) OnDirect(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDirect = append(s.onDirect, h)
}

// LastSeen returns the timestamp of the newest sequenced event seen on topic.
func (s *Session) LastSeen(topic string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts := s.topics[topic]; ts != nil {
		return ts.lastSeen
	}
	return time.Time{}
}

// ConnectionID returns the server assigned id of the current connection.
func (s *Session) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID
}

// Connected reports whether a connection is live.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Quality grades the connection from the last measured round trip and how
// long the server has been silent.
func (s *Session) Quality() types.Quality {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return types.QualityDisconnected
	}
	silence := s.clock.Since(s.lastHeard)
	switch {
	case silence > 2*s.pingInterval || s.rtt > goodRTT:
		return types.QualityPoor
	case s.rtt > excellentRTT:
		return types.QualityGood
	default:
		return types.QualityExcellent
	}
}

// Close ends the session. A closed session cannot reconnect.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.cancel()
	var err error
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = conn.Close()
	}
	s.wg.Wait()
	return err
}
