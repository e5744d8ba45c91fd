package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/rosecast/internal/simulate"
)

// Default configuration constants.
const (
	defaultTopics      = 4
	defaultEvents      = 2000
	defaultSubscribers = 8
	defaultProducers   = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 10 * time.Second
	defaultSettle      = 30 * time.Second
	defaultRunTimeout  = 10 * time.Minute
)

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:9080", "Base URL of the service")
		topics      = flag.Int("topics", defaultTopics, "Number of show topics")
		events      = flag.Int("events", defaultEvents, "Number of events to submit across all topics")
		producers   = flag.Int("producers", runtime.NumCPU()*defaultProducers, "Number of concurrent producers")
		subscribers = flag.Int("subscribers", defaultSubscribers, "Number of websocket sessions")
		timeout     = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle      = flag.Duration("settle", defaultSettle, "How long to wait for subscriptions and delivery")
		seed        = flag.Uint64("seed", 0, "Event generation seed, 0 for random")
		logLevel    = flag.String("log-level", "info", "Log level")
		verbose     = flag.Bool("verbose", false, "Log every rejected event")
		help        = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}

	if err := simulate.SetupLogging(*logLevel); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	cfg := &simulate.Config{
		BaseURL:     *baseURL,
		Topics:      *topics,
		Events:      *events,
		Producers:   *producers,
		Subscribers: *subscribers,
		Timeout:     *timeout,
		Settle:      *settle,
		Seed:        *seed,
		Verbose:     *verbose,
	}

	if _, err := simulate.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		cancel()
		stop()
		os.Exit(1)
	}
}
