// Package model contains the realtime event model shared by producers, the
// bus and clients.
package model

import (
	"time"
)

// Kind identifies the variant of an Event.
type Kind string

// Event kinds.
const (
	KindScoreUpdate       Kind = "score_update"
	KindEpisodeEvent      Kind = "episode_event"
	KindPredictionUpdate  Kind = "prediction_update"
	KindLeaderboardUpdate Kind = "leaderboard_update"
	KindFriendActivity    Kind = "friend_activity"
	KindLiveStats         Kind = "live_stats"
)

// Kinds lists every event kind.
var Kinds = []Kind{
	KindScoreUpdate,
	KindEpisodeEvent,
	KindPredictionUpdate,
	KindLeaderboardUpdate,
	KindFriendActivity,
	KindLiveStats,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Critical reports whether events of this kind must never be silently dropped.
func (k Kind) Critical() bool {
	return k == KindScoreUpdate || k == KindEpisodeEvent
}

// Payload is implemented by every kind-specific event body.
type Payload interface {
	Kind() Kind
	validate() error
}

// Event is the envelope delivered to subscribers of a topic.
//
// Seq and Timestamp are assigned by the bus when the event is published.
// Exactly one payload pointer is set and it matches Kind. Payloads are shared
// between subscribers and must not be mutated after publishing.
type Event struct {
	ID        string
	Kind      Kind
	Topic     string
	Seq       uint64
	Timestamp time.Time

	Score       *ScoreUpdate
	Episode     *EpisodeEvent
	Prediction  *PredictionUpdate
	Leaderboard *LeaderboardUpdate
	Friend      *FriendActivity
	Stats       *LiveStats
}

// New wraps payload in an envelope for topic.
func New(topic string, payload Payload) Event {
	e := Event{Topic: topic}
	if payload == nil {
		return e
	}
	e.Kind = payload.Kind()
	switch p := payload.(type) {
	case *ScoreUpdate:
		e.Score = p
	case *EpisodeEvent:
		e.Episode = p
	case *PredictionUpdate:
		e.Prediction = p
	case *LeaderboardUpdate:
		e.Leaderboard = p
	case *FriendActivity:
		e.Friend = p
	case *LiveStats:
		e.Stats = p
	}
	return e
}

// Payload returns the body matching Kind, or nil.
func (e Event) Payload() Payload {
	switch e.Kind {
	case KindScoreUpdate:
		if e.Score != nil {
			return e.Score
		}
	case KindEpisodeEvent:
		if e.Episode != nil {
			return e.Episode
		}
	case KindPredictionUpdate:
		if e.Prediction != nil {
			return e.Prediction
		}
	case KindLeaderboardUpdate:
		if e.Leaderboard != nil {
			return e.Leaderboard
		}
	case KindFriendActivity:
		if e.Friend != nil {
			return e.Friend
		}
	case KindLiveStats:
		if e.Stats != nil {
			return e.Stats
		}
	}
	return nil
}

// Critical reports whether the event must survive backpressure.
func (e Event) Critical() bool {
	return e.Kind.Critical()
}

// Points returns the fantasy points the event awards, if any.
func (e Event) Points() int {
	switch {
	case e.Score != nil:
		return e.Score.Points
	case e.Episode != nil && e.Episode.Points != nil:
		return *e.Episode.Points
	}
	return 0
}
