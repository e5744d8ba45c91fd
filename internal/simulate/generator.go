package simulate

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/okian/rosecast/internal/domain/model"
)

var contestants = []string{"Ava", "Bea", "Cleo", "Dana", "Eve", "Faye", "Gia", "Hana"}

var episodeTypes = []model.EpisodeEventType{
	model.EpisodeRoseCeremony, model.EpisodeOneOnOne, model.EpisodeGroupDate, model.EpisodeDrama,
	model.EpisodeElimination, model.EpisodeFantasySuite, model.EpisodeHometown, model.EpisodeFinale,
}

var friendActions = []model.FriendAction{
	model.ActionTeamUpdate, model.ActionPredictionMade, model.ActionAchievementUnlocked, model.ActionLeagueJoined,
}

// TopicName returns the topic of show i.
func TopicName(i int) string {
	return fmt.Sprintf("show-%d", i+1)
}

// Generator produces valid producer events spread round-robin across topics.
type Generator struct {
	rng    *rand.Rand
	topics int
	// points per topic per user, so leaderboard updates stay consistent
	totals map[string]map[string]int
}

// NewGenerator creates a generator. The same seed yields the same payloads.
func NewGenerator(topics int, seed uint64) *Generator {
	if topics < 1 {
		topics = 1
	}
	return &Generator{
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		topics: topics,
		totals: make(map[string]map[string]int),
	}
}

// Generate returns n events with unique ids.
func (g *Generator) Generate(n int) []model.Event {
	events := make([]model.Event, 0, n)
	for i := 0; i < n; i++ {
		topic := TopicName(i % g.topics)
		e := model.New(topic, g.payload(topic, i))
		e.ID = uuid.NewString()
		events = append(events, e)
	}
	return events
}

func (g *Generator) payload(topic string, i int) model.Payload {
	name := contestants[g.rng.IntN(len(contestants))]
	id := "c-" + name
	episode := 1 + i/100

	switch g.rng.IntN(10) {
	case 0, 1, 2, 3:
		return &model.ScoreUpdate{
			ContestantID:   id,
			ContestantName: name,
			Points:         g.rng.IntN(21) - 5,
			Reason:         "weekly performance",
			Episode:        episode,
		}
	case 4, 5:
		points := 5 + g.rng.IntN(20)
		return &model.EpisodeEvent{
			EventType:   episodeTypes[g.rng.IntN(len(episodeTypes))],
			Contestants: []string{name},
			Description: name + " made headlines",
			Points:      &points,
			Episode:     episode,
		}
	case 6:
		old := g.rng.Float64()
		return &model.PredictionUpdate{
			ContestantID:   id,
			ContestantName: name,
			OldPrediction:  old,
			NewPrediction:  g.rng.Float64(),
			Confidence:     g.rng.Float64(),
			Factors:        []string{"screen time"},
		}
	case 7, 8:
		return g.leaderboard(topic)
	default:
		user := g.rng.IntN(50)
		return &model.FriendActivity{
			UserID:   fmt.Sprintf("u-%d", user),
			Username: fmt.Sprintf("fan%d", user),
			Action:   friendActions[g.rng.IntN(len(friendActions))],
		}
	}
}

func (g *Generator) leaderboard(topic string) *model.LeaderboardUpdate {
	totals, ok := g.totals[topic]
	if !ok {
		totals = make(map[string]int)
		g.totals[topic] = totals
	}
	user := fmt.Sprintf("u-%d", g.rng.IntN(50))
	gain := 1 + g.rng.IntN(30)
	totals[user] += gain

	rank := 1
	for other, pts := range totals {
		if other != user && pts > totals[user] {
			rank++
		}
	}
	return &model.LeaderboardUpdate{
		UserID:       user,
		Username:     "fan" + user[2:],
		OldRank:      rank + g.rng.IntN(3),
		NewRank:      rank,
		TotalPoints:  totals[user],
		WeeklyPoints: gain,
	}
}
