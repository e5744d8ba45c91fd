// Package simulate drives a running service end to end: websocket sessions
// subscribe to a set of show topics, concurrent producers submit generated
// events over HTTP, and every session's deliveries are checked for order.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/rosecast/internal/domain/model"
	"github.com/okian/rosecast/internal/domain/types"
	"github.com/okian/rosecast/pkg/logger"
)

const (
	pollInterval         = 50 * time.Millisecond
	percentageMultiplier = 100
)

// ErrIncomplete is returned when sessions did not receive every accepted
// event before the settle period ran out.
var ErrIncomplete = errors.New("delivery incomplete")

// Run executes a complete simulation.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get()

	log.Info(ctx, "starting rosecast simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("topics", cfg.Topics),
		logger.Int("events", cfg.Events),
		logger.Int("producers", cfg.Producers),
		logger.Int("subscribers", cfg.Subscribers),
		logger.Bool("verbose", cfg.Verbose))

	client := newHTTPClient(cfg.Timeout)

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, client, cfg); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	topics := make([]string, max(cfg.Topics, 1))
	for i := range topics {
		topics[i] = TopicName(i)
	}

	// Step 2: Subscribe sessions and wait until the server has them all
	subs, err := openSubscribers(ctx, cfg, topics)
	if err != nil {
		return stats, fmt.Errorf("opening subscribers failed: %w", err)
	}
	defer closeSubscribers(subs)
	if err := waitForSubscriptions(ctx, client, cfg, topics); err != nil {
		return stats, err
	}

	// Step 3: Generate and submit events
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	events := NewGenerator(len(topics), seed).Generate(cfg.Events)
	stats.EventsGenerated = len(events)

	expected, err := submitEvents(ctx, cfg, events, stats)
	if err != nil {
		return stats, err
	}

	// Step 4: Wait for delivery, then verify
	waitErr := waitForDelivery(ctx, cfg, subs, expected)

	streams := make(map[string]map[string][]model.Event, len(subs))
	for _, s := range subs {
		got := s.snapshot()
		for _, events := range got {
			stats.EventsDelivered += len(events)
		}
		stats.GapsReported += int(s.gaps.Load())
		stats.LossyReported += int(s.lossy.Load())
		streams[fmt.Sprintf("subscriber-%d", s.id)] = got
	}
	verifyErr := VerifyOrdering(streams)

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	if err := errors.Join(waitErr, verifyErr); err != nil {
		return stats, err
	}
	log.Info(ctx, "simulation completed successfully")
	return stats, nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *HTTPClient, cfg *Config) error {
	var body map[string]string
	if err := client.getJSON(ctx, cfg.BaseURL+"/healthz", &body); err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	logger.Get().Info(ctx, "service is healthy")
	return nil
}

func waitForSubscriptions(ctx context.Context, client *HTTPClient, cfg *Config, topics []string) error {
	deadline := time.Now().Add(cfg.Settle)
	for {
		var stats struct {
			Connections types.ConnectionStats `json:"connections"`
		}
		err := client.getJSON(ctx, cfg.BaseURL+"/stats", &stats)
		if err == nil && allSubscribed(stats.Connections, topics, cfg.Subscribers) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("subscriptions not registered in %s: %w", cfg.Settle, errors.Join(err, ErrIncomplete))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func allSubscribed(st types.ConnectionStats, topics []string, want int) bool {
	for _, topic := range topics {
		if st.Topics[topic] < want {
			return false
		}
	}
	return true
}

func waitForDelivery(ctx context.Context, cfg *Config, subs []*subscriber, expected map[string]int) error {
	deadline := time.Now().Add(cfg.Settle)
	for {
		missing := 0
		for _, s := range subs {
			for topic, n := range expected {
				if got := s.count(topic); got < n {
					missing += n - got
				}
			}
		}
		if missing == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %d deliveries missing after %s", ErrIncomplete, missing, cfg.Settle)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var acceptRate, eventsPerSecond float64
	if stats.EventsSubmitted > 0 {
		acceptRate = float64(stats.EventsAccepted) / float64(stats.EventsSubmitted) * percentageMultiplier
	}
	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.EventsSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("eventsGenerated", stats.EventsGenerated),
		logger.Int("eventsSubmitted", stats.EventsSubmitted),
		logger.Int("eventsAccepted", stats.EventsAccepted),
		logger.Int("eventsDuplicate", stats.EventsDuplicate),
		logger.Int("eventsRejected", stats.EventsRejected),
		logger.Int("eventsRetried", stats.EventsRetried),
		logger.Int("eventsDelivered", stats.EventsDelivered),
		logger.Int("gapsReported", stats.GapsReported),
		logger.Int("lossyReported", stats.LossyReported),
		logger.Duration("duration", stats.Duration),
		logger.Float64("acceptRate", acceptRate),
		logger.Float64("eventsPerSecond", eventsPerSecond))
}
