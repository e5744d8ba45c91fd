package ws

import (
	"time"
)

// Inbound control message types.
const (
	TypeAuthenticate = "authenticate"
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypeResume       = "resume"
	TypePing         = "ping"
)

// Outbound control frame types. Events are sent with their kind as type.
const (
	TypeConnected     = "connected"
	TypeAuthenticated = "authenticated"
	TypeSubscribed    = "subscribed"
	TypeUnsubscribed  = "unsubscribed"
	TypeResumed       = "resumed"
	TypeGapDetected   = "gap_detected"
	TypeLossy         = "lossy_delivery"
	TypePong          = "pong"
	TypeError         = "error"
)

// Error codes carried by error frames.
const (
	CodeInvalidMessage = "invalid_message"
	CodeUnknownType    = "unknown_type"
	CodeRateLimited    = "rate_limited"
	CodeAuthFailed     = "auth_failed"
	CodeSubscribe      = "subscribe_failed"
	CodeUnsubscribe    = "unsubscribe_failed"
	CodeResume         = "resume_failed"
)

// TopicCursor is the last event a client saw on a topic. A missing cursor
// subscribes fresh; a zero one asks for everything retained.
type TopicCursor struct {
	Topic    string     `json:"topic"`
	LastSeen *time.Time `json:"last_event_timestamp_seen,omitempty"`
}

// Control is an inbound client message.
type Control struct {
	Type     string        `json:"type"`
	UserID   string        `json:"user_id,omitempty"`
	Username string        `json:"username,omitempty"`
	Topic    string        `json:"topic,omitempty"`
	LastSeen *time.Time    `json:"last_event_timestamp_seen,omitempty"`
	Topics   []TopicCursor `json:"topics,omitempty"`
}

// Frame is an outbound control message.
//
// Cursor on subscribed, and Cursors on resumed, tell the client where each
// topic now starts: every event it receives afterwards is newer.
type Frame struct {
	Type         string               `json:"type"`
	ConnectionID string               `json:"connection_id,omitempty"`
	UserID       string               `json:"user_id,omitempty"`
	Username     string               `json:"username,omitempty"`
	Topic        string               `json:"topic,omitempty"`
	Replayed     any                  `json:"replayed,omitempty"`
	Gaps         []string             `json:"gaps,omitempty"`
	Cursor       *time.Time           `json:"cursor,omitempty"`
	Cursors      map[string]time.Time `json:"cursors,omitempty"`
	Code         string               `json:"code,omitempty"`
	Message      string               `json:"message,omitempty"`
	Timestamp    *time.Time           `json:"timestamp,omitempty"`
}

func errorFrame(code, msg string) Frame {
	return Frame{Type: TypeError, Code: code, Message: msg}
}
