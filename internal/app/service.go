// Package service assembles the realtime components and implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/rosecast/internal/adapters/http/api"
	"github.com/okian/rosecast/internal/adapters/http/swagger"
	"github.com/okian/rosecast/internal/adapters/mq/worker"
	"github.com/okian/rosecast/internal/adapters/repository"
	"github.com/okian/rosecast/internal/adapters/ws"
	"github.com/okian/rosecast/internal/domain/bus"
	"github.com/okian/rosecast/internal/domain/dedupe"
	"github.com/okian/rosecast/internal/domain/livestats"
	"github.com/okian/rosecast/internal/domain/model"
	"github.com/okian/rosecast/internal/domain/registry"
	"github.com/okian/rosecast/internal/domain/session"
	"github.com/okian/rosecast/internal/domain/types"
	"github.com/okian/rosecast/pkg/logger"
	"github.com/okian/rosecast/pkg/metrics"
)

// ErrStopped is returned when starting a service that was already stopped.
var ErrStopped = errors.New("service stopped")

// Service owns the registry, bus, session manager and ingest pool, and runs
// the periodic LiveStats and stale connection jobs.
type Service struct {
	mu sync.RWMutex

	// Core components
	registry  *registry.Registry
	deduper   dedupe.Deduper
	standings *repository.MemoryStandings
	users     *repository.MemoryDirectory
	stats     *livestats.Aggregator
	bus       *bus.Bus
	sessions  *session.Manager
	pool      *worker.Pool

	// Configuration
	ingestShards      int
	queueSize         int
	dedupeSize        int
	bufferSize        int
	outboxCapacity    int
	liveStatsInterval time.Duration
	sweepInterval     time.Duration
	idleTimeout       time.Duration
	controlRate       float64
	controlBurst      int
	origins           []string
	maxLimit          int
	clock             clockwork.Clock

	// State
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	logger logger.Logger
}

// New constructs a Service. Background work begins with Start.
func New(opts ...Option) *Service {
	s := &Service{
		ingestShards:      runtime.NumCPU(),
		queueSize:         10_000,
		dedupeSize:        100_000,
		bufferSize:        20,
		outboxCapacity:    200,
		liveStatsInterval: 5 * time.Second,
		sweepInterval:     30 * time.Second,
		idleTimeout:       5 * time.Minute,
		controlRate:       10,
		controlBurst:      20,
		maxLimit:          100,
		clock:             clockwork.NewRealClock(),
		logger:            logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry = registry.New(
		registry.WithClock(s.clock),
		registry.WithLogger(s.logger.Named("registry")),
	)
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.standings = repository.NewMemoryStandings(
		repository.WithLogger(s.logger.Named("standings")),
		repository.WithMaxLimit(s.maxLimit),
	)
	s.users = repository.NewMemoryDirectory()
	s.stats = livestats.New(
		livestats.WithStandings(s.standings),
		livestats.WithLogger(s.logger.Named("livestats")),
	)
	s.bus = bus.New(s.registry,
		bus.WithClock(s.clock),
		bus.WithLogger(s.logger.Named("bus")),
		bus.WithBufferSize(s.bufferSize),
		bus.WithDeduper(s.deduper),
		bus.WithLiveStats(s.stats),
	)
	s.sessions = session.New(s.registry, s.bus,
		session.WithDirectory(s.users),
		session.WithLogger(s.logger.Named("session")),
	)
	s.pool = worker.NewPool(s.bus,
		worker.WithShards(s.ingestShards),
		worker.WithShardCapacity(s.queueSize),
		worker.WithPoolLogger(s.logger.Named("ingest")),
	)
	return s
}

// Start launches the ingest workers and periodic jobs.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.stopped {
		return ErrStopped
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.pool.Start(runCtx)

	s.wg.Add(2)
	go s.every(runCtx, s.liveStatsInterval, s.synthesizeLiveStats)
	go s.every(runCtx, s.sweepInterval, s.sweep)

	s.started = true
	s.logger.Info(ctx, "realtime service started",
		logger.Int("ingest_shards", s.ingestShards),
		logger.Int("queue_size", s.queueSize),
		logger.Int("buffer_size", s.bufferSize),
		logger.Duration("live_stats_interval", s.liveStatsInterval),
	)
	return nil
}

// Stop drains the ingest pool and stops periodic jobs.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping realtime service")

	err := s.pool.Shutdown(ctx)
	s.cancel()
	s.wg.Wait()

	s.started = false
	s.stopped = true
	s.logger.Info(ctx, "realtime service stopped")
	return err
}

func (s *Service) every(ctx context.Context, d time.Duration, fn func(context.Context)) {
	defer s.wg.Done()
	ticker := s.clock.NewTicker(d)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			fn(ctx)
		}
	}
}

func (s *Service) synthesizeLiveStats(ctx context.Context) {
	events, err := s.bus.SynthesizeLiveStats(ctx)
	if err != nil {
		metrics.RecordErrorByComponent("livestats", "synthesize")
		s.logger.Warn(ctx, "live stats synthesis failed", logger.Error(err))
	}
	s.logger.Debug(ctx, "live stats published", logger.Int("topics", len(events)))
}

func (s *Service) sweep(ctx context.Context) {
	stale := s.registry.Sweep(s.idleTimeout)
	for _, id := range stale {
		s.registry.Deregister(ctx, id)
	}
	if len(stale) > 0 {
		metrics.RecordStaleConnections(len(stale))
		s.logger.Info(ctx, "reaped idle connections", logger.Int("count", len(stale)))
	}
}

// Routes returns a mux serving the HTTP API, its docs and the websocket
// endpoints.
func (s *Service) Routes(ctx context.Context) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(s, s, s.maxLimit).Register(ctx, mux)
	swagger.Register(ctx, mux)

	h := s.WebSocketHandler()
	mux.Handle("GET /ws", h)
	mux.Handle("GET /ws/{topic}", h)
	return mux
}

// WebSocketHandler returns the websocket transport bound to this service.
func (s *Service) WebSocketHandler() http.Handler {
	return ws.NewHandler(s.registry, s.sessions,
		ws.WithClock(s.clock),
		ws.WithLogger(s.logger.Named("ws")),
		ws.WithOutboxCapacity(s.outboxCapacity),
		ws.WithControlRate(s.controlRate, s.controlBurst),
		ws.WithCheckOrigin(ws.NewCheckOrigin(s.origins, s.logger)),
	)
}

// Seen reports whether a producer event id was already published.
func (s *Service) Seen(ctx context.Context, id string) bool {
	seen := s.deduper.Seen(ctx, id)
	if seen {
		metrics.RecordEventDuplicate()
	}
	return seen
}

// Submit queues a producer event for publishing on its topic's shard.
func (s *Service) Submit(ctx context.Context, e model.Event) error { //nolint:gocritic // hugeParam: events travel by value
	return s.pool.Submit(ctx, e)
}

// Publish sequences and delivers an event synchronously, for producers
// running inside the process.
func (s *Service) Publish(ctx context.Context, e model.Event) (model.Event, error) { //nolint:gocritic // hugeParam: events travel by value
	return s.bus.Publish(ctx, e)
}

// SendToUser delivers payload to every connection of a user.
func (s *Service) SendToUser(ctx context.Context, userID string, payload model.Payload) (int, error) {
	return s.bus.SendToUser(ctx, userID, payload)
}

// Recent returns the newest retained events of topic.
func (s *Service) Recent(topic string, limit int) []model.Event {
	return s.bus.Recent(topic, limit)
}

// TopicStats summarises every topic on the bus.
func (s *Service) TopicStats() []types.TopicStats {
	return s.bus.Stats()
}

// Top returns the leading standings of topic.
func (s *Service) Top(ctx context.Context, topic string, n int) ([]types.Standing, error) {
	return s.standings.Top(ctx, topic, n)
}

// Rank returns one user's standing on topic.
func (s *Service) Rank(ctx context.Context, topic, userID string) (types.Standing, error) {
	st, err := s.standings.Rank(ctx, topic, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		metrics.RecordErrorByComponent("standings", "rank")
	}
	return st, err
}

// Registry exposes the connection registry.
func (s *Service) Registry() *registry.Registry { return s.registry }

// Bus exposes the event bus.
func (s *Service) Bus() *bus.Bus { return s.bus }

// Sessions exposes the session manager.
func (s *Service) Sessions() *session.Manager { return s.sessions }

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	conns := s.registry.Stats()
	queued := s.pool.Len()
	metrics.UpdateQueueSize(queued)

	return map[string]any{
		"started":     started,
		"connections": conns,
		"topics":      s.bus.Stats(),
		"ingest": map[string]any{
			"shards":   s.ingestShards,
			"queued":   queued,
			"capacity": s.pool.Capacity(),
		},
		"dedupe_size": s.deduper.Size(),
	}
}
