package model

import (
	"math"
	"strings"
)

// EpisodeEventType enumerates show happenings.
type EpisodeEventType string

// Episode event types.
const (
	EpisodeRoseCeremony EpisodeEventType = "rose_ceremony"
	EpisodeOneOnOne     EpisodeEventType = "one_on_one"
	EpisodeGroupDate    EpisodeEventType = "group_date"
	EpisodeDrama        EpisodeEventType = "drama"
	EpisodeElimination  EpisodeEventType = "elimination"
	EpisodeFantasySuite EpisodeEventType = "fantasy_suite"
	EpisodeHometown     EpisodeEventType = "hometown"
	EpisodeFinale       EpisodeEventType = "finale"
)

var episodeEventTypes = map[EpisodeEventType]struct{}{
	EpisodeRoseCeremony: {}, EpisodeOneOnOne: {}, EpisodeGroupDate: {}, EpisodeDrama: {},
	EpisodeElimination: {}, EpisodeFantasySuite: {}, EpisodeHometown: {}, EpisodeFinale: {},
}

// FriendAction enumerates social activity.
type FriendAction string

// Friend actions.
const (
	ActionTeamUpdate          FriendAction = "team_update"
	ActionPredictionMade      FriendAction = "prediction_made"
	ActionAchievementUnlocked FriendAction = "achievement_unlocked"
	ActionLeagueJoined        FriendAction = "league_joined"
)

var friendActions = map[FriendAction]struct{}{
	ActionTeamUpdate: {}, ActionPredictionMade: {}, ActionAchievementUnlocked: {}, ActionLeagueJoined: {},
}

// ScoreUpdate awards points to a contestant.
type ScoreUpdate struct {
	ContestantID   string `json:"contestant_id"`
	ContestantName string `json:"contestant_name"`
	Points         int    `json:"points"`
	Reason         string `json:"reason"`
	Episode        int    `json:"episode"`
	UserID         string `json:"user_id,omitempty"`
}

// Kind implements Payload.
func (*ScoreUpdate) Kind() Kind { return KindScoreUpdate }

func (p *ScoreUpdate) validate() error {
	switch {
	case blank(p.ContestantID):
		return invalid("contestant_id", "required")
	case blank(p.ContestantName):
		return invalid("contestant_name", "required")
	case blank(p.Reason):
		return invalid("reason", "required")
	case p.Episode < 1:
		return invalid("episode", "must be at least 1")
	}
	return nil
}

// EpisodeEvent describes something that happened on the show.
type EpisodeEvent struct {
	EventType   EpisodeEventType `json:"event_type"`
	Contestants []string         `json:"contestants"`
	Description string           `json:"description"`
	Points      *int             `json:"points,omitempty"`
	Episode     int              `json:"episode,omitempty"`
}

// Kind implements Payload.
func (*EpisodeEvent) Kind() Kind { return KindEpisodeEvent }

func (p *EpisodeEvent) validate() error {
	if _, ok := episodeEventTypes[p.EventType]; !ok {
		return invalid("event_type", "unknown value "+string(p.EventType))
	}
	if len(p.Contestants) == 0 {
		return invalid("contestants", "at least one contestant required")
	}
	for _, c := range p.Contestants {
		if blank(c) {
			return invalid("contestants", "blank contestant id")
		}
	}
	if blank(p.Description) {
		return invalid("description", "required")
	}
	if p.Episode < 0 {
		return invalid("episode", "must not be negative")
	}
	return nil
}

// PredictionUpdate is emitted by the prediction engine when a contestant's odds move.
type PredictionUpdate struct {
	ContestantID   string   `json:"contestant_id"`
	ContestantName string   `json:"contestant_name"`
	OldPrediction  float64  `json:"old_prediction"`
	NewPrediction  float64  `json:"new_prediction"`
	Confidence     float64  `json:"confidence"`
	Factors        []string `json:"factors"`
}

// Kind implements Payload.
func (*PredictionUpdate) Kind() Kind { return KindPredictionUpdate }

// Change returns the absolute probability change.
func (p *PredictionUpdate) Change() float64 {
	return math.Abs(p.NewPrediction - p.OldPrediction)
}

func (p *PredictionUpdate) validate() error {
	switch {
	case blank(p.ContestantID):
		return invalid("contestant_id", "required")
	case blank(p.ContestantName):
		return invalid("contestant_name", "required")
	case !probability(p.OldPrediction):
		return invalid("old_prediction", "must be within [0,1]")
	case !probability(p.NewPrediction):
		return invalid("new_prediction", "must be within [0,1]")
	case !probability(p.Confidence):
		return invalid("confidence", "must be within [0,1]")
	}
	return nil
}

// LeaderboardUpdate reports a user's standing change.
type LeaderboardUpdate struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	OldRank      int    `json:"old_rank"`
	NewRank      int    `json:"new_rank"`
	TotalPoints  int    `json:"total_points"`
	WeeklyPoints int    `json:"weekly_points"`
}

// Kind implements Payload.
func (*LeaderboardUpdate) Kind() Kind { return KindLeaderboardUpdate }

// RankChange returns how many places the user moved; positive means up.
func (p *LeaderboardUpdate) RankChange() int {
	return p.OldRank - p.NewRank
}

func (p *LeaderboardUpdate) validate() error {
	switch {
	case blank(p.UserID):
		return invalid("user_id", "required")
	case blank(p.Username):
		return invalid("username", "required")
	case p.NewRank <= 0:
		return invalid("new_rank", "must be positive")
	case p.OldRank < 0:
		return invalid("old_rank", "must not be negative")
	}
	return nil
}

// FriendActivity reports something a friend did.
type FriendActivity struct {
	UserID   string         `json:"user_id"`
	Username string         `json:"username"`
	Action   FriendAction   `json:"action"`
	Details  map[string]any `json:"details,omitempty"`
}

// Kind implements Payload.
func (*FriendActivity) Kind() Kind { return KindFriendActivity }

func (p *FriendActivity) validate() error {
	switch {
	case blank(p.UserID):
		return invalid("user_id", "required")
	case blank(p.Username):
		return invalid("username", "required")
	}
	if _, ok := friendActions[p.Action]; !ok {
		return invalid("action", "unknown value "+string(p.Action))
	}
	return nil
}

// Performer is the best scoring user on a topic.
type Performer struct {
	Username string `json:"username"`
	Points   int    `json:"points"`
}

// LiveStats is a periodic snapshot of topic activity.
type LiveStats struct {
	ViewersCount      int        `json:"viewers_count"`
	ActivePredictions int        `json:"active_predictions"`
	TotalPoints       int        `json:"total_points"`
	RecentEvents      int        `json:"recent_events"`
	TopPerformer      *Performer `json:"top_performer"`
}

// Kind implements Payload.
func (*LiveStats) Kind() Kind { return KindLiveStats }

func (p *LiveStats) validate() error {
	switch {
	case p.ViewersCount < 0:
		return invalid("viewers_count", "must not be negative")
	case p.ActivePredictions < 0:
		return invalid("active_predictions", "must not be negative")
	case p.RecentEvents < 0:
		return invalid("recent_events", "must not be negative")
	}
	return nil
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func probability(v float64) bool { return !math.IsNaN(v) && v >= 0 && v <= 1 }
