// Package livestats accumulates per-topic activity from published events and
// synthesises LiveStats snapshots from it.
package livestats

import (
	"context"
	"sync"

	"github.com/okian/rosecast/internal/domain/model"
	"github.com/okian/rosecast/internal/domain/types"
	"github.com/okian/rosecast/pkg/logger"
)

// Standings supplies the leaderboard the top performer is taken from.
type Standings interface {
	Apply(ctx context.Context, topic string, u *model.LeaderboardUpdate) (types.Standing, error)
	Leader(ctx context.Context, topic string) (types.Standing, bool)
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithStandings feeds leaderboard updates into s and reads the leader from it.
func WithStandings(s Standings) Option {
	return func(a *Aggregator) {
		a.standings = s
	}
}

// WithLogger sets the aggregator logger.
func WithLogger(log logger.Logger) Option {
	return func(a *Aggregator) {
		if log != nil {
			a.log = log
		}
	}
}

type tally struct {
	totalPoints       int
	recentEvents      int
	activePredictions int
	leader            *model.Performer
}

// Aggregator is safe for concurrent use.
type Aggregator struct {
	standings Standings
	log       logger.Logger

	mu     sync.Mutex
	topics map[string]*tally
}

// New creates an empty aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		log:    logger.Nop(),
		topics: make(map[string]*tally),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) tally(topic string) *tally {
	t, ok := a.topics[topic]
	if !ok {
		t = &tally{}
		a.topics[topic] = t
	}
	return t
}

// Observe folds a published event into its topic's tally.
//
// Scoring and episode events add their points and count as recent events.
// A friend's prediction counts as an active prediction. Leaderboard updates
// move the top performer. LiveStats carry no activity and are ignored.
func (a *Aggregator) Observe(ctx context.Context, e model.Event) { //nolint:gocritic // hugeParam: events travel by value
	if e.Kind == model.KindLiveStats {
		return
	}
	if e.Kind == model.KindLeaderboardUpdate && e.Leaderboard != nil && a.standings != nil {
		if _, err := a.standings.Apply(ctx, e.Topic, e.Leaderboard); err != nil {
			a.log.Warn(ctx, "standings update failed", logger.String("topic", e.Topic), logger.Error(err))
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.tally(e.Topic)
	switch e.Kind {
	case model.KindScoreUpdate, model.KindEpisodeEvent:
		t.totalPoints += e.Points()
		t.recentEvents++
	case model.KindFriendActivity:
		if e.Friend != nil && e.Friend.Action == model.ActionPredictionMade {
			t.activePredictions++
		}
	case model.KindLeaderboardUpdate:
		if a.standings == nil && e.Leaderboard != nil {
			if t.leader == nil || e.Leaderboard.TotalPoints > t.leader.Points {
				t.leader = &model.Performer{Username: e.Leaderboard.Username, Points: e.Leaderboard.TotalPoints}
			}
		}
	}
}

// Snapshot builds the LiveStats payload for topic with the given viewer count.
// A topic without activity gets a zeroed snapshot.
func (a *Aggregator) Snapshot(ctx context.Context, topic string, viewers int) *model.LiveStats {
	stats := &model.LiveStats{ViewersCount: viewers}
	a.mu.Lock()
	if t, ok := a.topics[topic]; ok {
		stats.ActivePredictions = t.activePredictions
		stats.TotalPoints = t.totalPoints
		stats.RecentEvents = t.recentEvents
		if t.leader != nil {
			leader := *t.leader
			stats.TopPerformer = &leader
		}
	}
	a.mu.Unlock()

	if a.standings != nil {
		if st, ok := a.standings.Leader(ctx, topic); ok {
			stats.TopPerformer = &model.Performer{Username: st.Username, Points: st.TotalPoints}
		}
	}
	return stats
}
