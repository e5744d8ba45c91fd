// Package repository holds the in-memory read models the realtime layer
// keeps alongside the bus: per-topic leaderboard standings and the user
// directory used when binding connections to users.
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/okian/rosecast/internal/domain/model"
	"github.com/okian/rosecast/internal/domain/types"
	"github.com/okian/rosecast/pkg/logger"
)

const defaultMaxLimit = 100

// Standings provides read/write access to per-topic leaderboards.
type Standings interface {
	// Apply records a leaderboard update and returns the user's new standing.
	Apply(ctx context.Context, topic string, u *model.LeaderboardUpdate) (types.Standing, error)

	// Rank returns the standing of userID on topic, or ErrNotFound.
	Rank(ctx context.Context, topic, userID string) (types.Standing, error)

	// Top returns the best n standings, best first.
	Top(ctx context.Context, topic string, n int) ([]types.Standing, error)

	// Leader returns the best standing on topic.
	Leader(ctx context.Context, topic string) (types.Standing, bool)

	// Count returns the number of users ranked on topic.
	Count(ctx context.Context, topic string) int
}

type row struct {
	userID       string
	username     string
	totalPoints  int
	weeklyPoints int
}

// MemoryStandings keeps standings per topic ordered by total points desc,
// then user id asc. Orders are rebuilt lazily on read after a write.
type MemoryStandings struct {
	log      logger.Logger
	maxLimit int

	mu     sync.RWMutex
	topics map[string]*board
}

type board struct {
	rows   map[string]*row
	order  []*row
	sorted bool
}

// NewMemoryStandings creates an empty store.
func NewMemoryStandings(opts ...Option) *MemoryStandings {
	s := &MemoryStandings{
		log:      logger.Nop(),
		maxLimit: defaultMaxLimit,
		topics:   make(map[string]*board),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStandings) Apply(ctx context.Context, topic string, u *model.LeaderboardUpdate) (types.Standing, error) {
	if u == nil || u.UserID == "" {
		return types.Standing{}, fmt.Errorf("%w: missing user id", ErrInvalidUser)
	}

	s.mu.Lock()
	b, ok := s.topics[topic]
	if !ok {
		b = &board{rows: make(map[string]*row)}
		s.topics[topic] = b
	}
	r, ok := b.rows[u.UserID]
	if !ok {
		r = &row{userID: u.UserID}
		b.rows[u.UserID] = r
		b.order = append(b.order, r)
	}
	r.username = u.Username
	r.totalPoints = u.TotalPoints
	r.weeklyPoints = u.WeeklyPoints
	b.sorted = false
	s.mu.Unlock()

	st, err := s.Rank(ctx, topic, u.UserID)
	if err != nil {
		return types.Standing{}, err
	}
	s.log.Debug(ctx, "standing updated",
		logger.String("topic", topic),
		logger.String("user_id", u.UserID),
		logger.Int("rank", st.Rank),
		logger.Int("total_points", st.TotalPoints))
	return st, nil
}

// ordered returns the sorted rows of topic. Caller must not hold s.mu.
func (s *MemoryStandings) ordered(topic string) []*row {
	s.mu.RLock()
	b, ok := s.topics[topic]
	if ok && b.sorted {
		out := b.order
		s.mu.RUnlock()
		return out
	}
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !b.sorted {
		order := make([]*row, len(b.order))
		copy(order, b.order)
		sort.Slice(order, func(i, j int) bool {
			if order[i].totalPoints != order[j].totalPoints {
				return order[i].totalPoints > order[j].totalPoints
			}
			return order[i].userID < order[j].userID
		})
		b.order = order
		b.sorted = true
	}
	return b.order
}

func standing(rank int, r *row) types.Standing {
	return types.Standing{
		Rank:         rank,
		UserID:       r.userID,
		Username:     r.username,
		TotalPoints:  r.totalPoints,
		WeeklyPoints: r.weeklyPoints,
	}
}

func (s *MemoryStandings) Rank(_ context.Context, topic, userID string) (types.Standing, error) {
	s.mu.RLock()
	b, ok := s.topics[topic]
	if ok {
		_, ok = b.rows[userID]
	}
	s.mu.RUnlock()
	if !ok {
		return types.Standing{}, fmt.Errorf("%w: user %s on %s", ErrNotFound, userID, topic)
	}

	order := s.ordered(topic)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, r := range order {
		if r.userID == userID {
			return standing(i+1, r), nil
		}
	}
	return types.Standing{}, fmt.Errorf("%w: user %s on %s", ErrNotFound, userID, topic)
}

func (s *MemoryStandings) Top(_ context.Context, topic string, n int) ([]types.Standing, error) {
	if n <= 0 || n > s.maxLimit {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, n)
	}
	order := s.ordered(topic)
	s.mu.RLock()
	defer s.mu.RUnlock()
	n = min(n, len(order))
	out := make([]types.Standing, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, standing(i+1, order[i]))
	}
	return out, nil
}

func (s *MemoryStandings) Leader(ctx context.Context, topic string) (types.Standing, bool) {
	top, err := s.Top(ctx, topic, 1)
	if err != nil || len(top) == 0 {
		return types.Standing{}, false
	}
	return top[0], true
}

func (s *MemoryStandings) Count(_ context.Context, topic string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.topics[topic]; ok {
		return len(b.rows)
	}
	return 0
}
