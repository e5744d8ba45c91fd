package client

import (
	"fmt"
	"strings"

	"github.com/okian/rosecast/internal/domain/model"
)

// Level is the visual weight of a notification.
type Level string

// Notification levels.
const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
)

// predictionNotifyThreshold is the smallest odds move worth a toast.
const predictionNotifyThreshold = 0.1

// Notification is a toast derived from a delivered event.
type Notification struct {
	Topic string     `json:"topic"`
	Kind  model.Kind `json:"kind"`
	Level Level      `json:"level"`
	Title string     `json:"title"`
	Body  string     `json:"body"`
}

// Project maps an event to the toast it should raise, if any. It has no
// side effects and does not depend on how the event was delivered.
func Project(e model.Event) (Notification, bool) { //nolint:gocritic // hugeParam: events travel by value
	n := Notification{Topic: e.Topic, Kind: e.Kind, Level: LevelInfo}
	switch {
	case e.Score != nil:
		p := e.Score
		if p.Points == 0 {
			return Notification{}, false
		}
		n.Title = fmt.Sprintf("%s %+d points", p.ContestantName, p.Points)
		n.Body = p.Reason
		if p.Points > 0 {
			n.Level = LevelSuccess
		} else {
			n.Level = LevelWarning
		}
	case e.Episode != nil:
		p := e.Episode
		n.Title = episodeTitle(p.EventType)
		n.Body = p.Description
		if len(p.Contestants) > 0 && n.Body == "" {
			n.Body = strings.Join(p.Contestants, ", ")
		}
		if p.EventType == model.EpisodeElimination {
			n.Level = LevelWarning
		}
	case e.Leaderboard != nil:
		p := e.Leaderboard
		moved := p.RankChange()
		if moved == 0 {
			return Notification{}, false
		}
		if moved > 0 {
			n.Level = LevelSuccess
			n.Title = fmt.Sprintf("%s climbed to #%d", p.Username, p.NewRank)
		} else {
			n.Level = LevelWarning
			n.Title = fmt.Sprintf("%s dropped to #%d", p.Username, p.NewRank)
		}
		n.Body = fmt.Sprintf("%d total points", p.TotalPoints)
	case e.Prediction != nil:
		p := e.Prediction
		if p.Change() < predictionNotifyThreshold {
			return Notification{}, false
		}
		direction := "up"
		if p.NewPrediction < p.OldPrediction {
			direction = "down"
		}
		n.Title = fmt.Sprintf("%s odds %s", p.ContestantName, direction)
		n.Body = fmt.Sprintf("%.0f%% to %.0f%%", p.OldPrediction*100, p.NewPrediction*100)
	case e.Friend != nil:
		p := e.Friend
		n.Title = p.Username
		n.Body = friendBody(p.Action)
	default:
		return Notification{}, false
	}
	return n, true
}

func episodeTitle(t model.EpisodeEventType) string {
	switch t {
	case model.EpisodeRoseCeremony:
		return "Rose ceremony"
	case model.EpisodeOneOnOne:
		return "One-on-one date"
	case model.EpisodeGroupDate:
		return "Group date"
	case model.EpisodeDrama:
		return "Drama alert"
	case model.EpisodeElimination:
		return "Elimination"
	case model.EpisodeFantasySuite:
		return "Fantasy suite"
	case model.EpisodeHometown:
		return "Hometown date"
	case model.EpisodeFinale:
		return "Finale"
	default:
		return "Episode update"
	}
}

func friendBody(a model.FriendAction) string {
	switch a {
	case model.ActionTeamUpdate:
		return "updated their team"
	case model.ActionPredictionMade:
		return "made a prediction"
	case model.ActionAchievementUnlocked:
		return "unlocked an achievement"
	case model.ActionLeagueJoined:
		return "joined a league"
	default:
		return string(a)
	}
}
