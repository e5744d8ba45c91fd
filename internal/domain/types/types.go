// Package types contains shapes shared between the domain and its adapters.
package types

import "time"

// Quality describes how healthy a connection looks from the server side.
type Quality string

// Connection qualities, best first.
const (
	QualityExcellent    Quality = "excellent"
	QualityGood         Quality = "good"
	QualityPoor         Quality = "poor"
	QualityDisconnected Quality = "disconnected"
)

// Quality thresholds on time since a connection was last heard from.
const (
	ExcellentWithin = 30 * time.Second
	GoodWithin      = 60 * time.Second
)

// QualityFor derives a quality from silence and delivery state.
func QualityFor(silence time.Duration, lossy bool) Quality {
	switch {
	case lossy || silence > GoodWithin:
		return QualityPoor
	case silence > ExcellentWithin:
		return QualityGood
	default:
		return QualityExcellent
	}
}

// ConnectionStats summarises the registry.
type ConnectionStats struct {
	Total         int             `json:"total_connections"`
	Authenticated int             `json:"authenticated_connections"`
	Topics        map[string]int  `json:"topic_subscribers"`
	Quality       map[Quality]int `json:"quality"`
}

// TopicStats summarises one topic on the bus.
type TopicStats struct {
	Topic         string    `json:"topic"`
	Seq           uint64    `json:"seq"`
	Buffered      int       `json:"buffered"`
	Evicted       uint64    `json:"evicted"`
	LastPublished time.Time `json:"last_published,omitempty"`
}

// ConnectionInfo describes a single connection.
type ConnectionInfo struct {
	ID          string    `json:"connection_id"`
	UserID      string    `json:"user_id,omitempty"`
	Username    string    `json:"username,omitempty"`
	Topics      []string  `json:"topics"`
	Quality     Quality   `json:"quality"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// Standing is one user's position on a topic leaderboard.
type Standing struct {
	Rank         int    `json:"rank"`
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	TotalPoints  int    `json:"total_points"`
	WeeklyPoints int    `json:"weekly_points"`
}

// User is an identity a connection can be bound to.
type User struct {
	ID       string `json:"user_id"`
	Username string `json:"username"`
}
