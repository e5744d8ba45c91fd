package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/rosecast/internal/domain/model"
	"github.com/okian/rosecast/pkg/logger"
)

const (
	maxSubmitAttempts = 5
	retryBackoff      = 50 * time.Millisecond
)

// HTTPClient wraps http.Client with timeout
type HTTPClient struct {
	client *http.Client
}

// newHTTPClient creates a new HTTP client with timeout
func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// Get performs a GET request
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with JSON body
func (c *HTTPClient) Post(ctx context.Context, url string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// getJSON decodes a GET response into v.
func (c *HTTPClient) getJSON(ctx context.Context, url string, v any) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

type submitResult int

const (
	resultAccepted submitResult = iota
	resultDuplicate
	resultRejected
)

// ledger counts accepted events per topic.
type ledger struct {
	accepted  map[string]*atomic.Int64
	submitted atomic.Int64
	ok        atomic.Int64
	duplicate atomic.Int64
	rejected  atomic.Int64
	retried   atomic.Int64
}

func newLedger(events []model.Event) *ledger {
	l := &ledger{accepted: make(map[string]*atomic.Int64)}
	for _, e := range events {
		if _, ok := l.accepted[e.Topic]; !ok {
			l.accepted[e.Topic] = &atomic.Int64{}
		}
	}
	return l
}

func (l *ledger) expected() map[string]int {
	out := make(map[string]int, len(l.accepted))
	for topic, n := range l.accepted {
		out[topic] = int(n.Load())
	}
	return out
}

// submitEvents posts events with at most cfg.Producers requests in flight.
func submitEvents(ctx context.Context, cfg *Config, events []model.Event, stats *Stats) (map[string]int, error) {
	log := logger.Get()
	log.Info(ctx, "submitting events", logger.Int("events", len(events)), logger.Int("producers", cfg.Producers))

	client := newHTTPClient(cfg.Timeout)
	url := cfg.BaseURL + "/events"
	l := newLedger(events)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Producers, 1))
	for _, e := range events {
		g.Go(func() error {
			res, err := submitSingleEvent(gctx, client, url, e, l)
			if err != nil {
				return err
			}
			l.submitted.Add(1)
			switch res {
			case resultAccepted:
				l.ok.Add(1)
				l.accepted[e.Topic].Add(1)
			case resultDuplicate:
				l.duplicate.Add(1)
			case resultRejected:
				l.rejected.Add(1)
				if cfg.Verbose {
					log.Warn(gctx, "event rejected", logger.String("event_id", e.ID), logger.String("kind", string(e.Kind)))
				}
			}
			return nil
		})
	}
	err := g.Wait()

	stats.EventsSubmitted = int(l.submitted.Load())
	stats.EventsAccepted = int(l.ok.Load())
	stats.EventsDuplicate = int(l.duplicate.Load())
	stats.EventsRejected = int(l.rejected.Load())
	stats.EventsRetried = int(l.retried.Load())
	if err != nil {
		return nil, fmt.Errorf("event submission failed: %w", err)
	}

	log.Info(ctx, "event submission completed",
		logger.Int("accepted", stats.EventsAccepted),
		logger.Int("duplicate", stats.EventsDuplicate),
		logger.Int("rejected", stats.EventsRejected),
		logger.Int("retried", stats.EventsRetried))
	return l.expected(), nil
}

// submitSingleEvent posts one event, retrying while the service applies
// backpressure. Transport failures abort the run.
func submitSingleEvent(ctx context.Context, client *HTTPClient, url string, e model.Event, l *ledger) (submitResult, error) { //nolint:gocritic // hugeParam: events travel by value
	for attempt := 1; ; attempt++ {
		resp, err := client.Post(ctx, url, e)
		if err != nil {
			return resultRejected, err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusAccepted:
			return resultAccepted, nil
		case http.StatusOK:
			return resultDuplicate, nil
		case http.StatusTooManyRequests:
			if attempt == maxSubmitAttempts {
				return resultRejected, nil
			}
			l.retried.Add(1)
			select {
			case <-ctx.Done():
				return resultRejected, ctx.Err()
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		default:
			return resultRejected, nil
		}
	}
}
