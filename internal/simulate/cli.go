package simulate

import (
	"fmt"
	"os"

	"github.com/okian/rosecast/pkg/logger"
)

// SetupLogging initialises the global logger at the given level.
func SetupLogging(level string) error {
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := logger.SetLevelString(level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return nil
}

// ShowHelp prints usage information for the simulator.
func ShowHelp() {
	os.Stdout.WriteString(`Rosecast Simulator
==================

Subscribes websocket sessions to a set of show topics, submits generated
events through the HTTP ingest endpoint and verifies that every session saw
every accepted event in the same per-topic order.

Usage:
  go run ./cmd/simulate [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -topics int
        Number of show topics (default 4)
  -events int
        Number of events to submit across all topics (default 2000)
  -producers int
        Number of concurrent producers (default CPU cores * 2)
  -subscribers int
        Number of websocket sessions (default 8)
  -timeout duration
        HTTP request timeout (default 10s)
  -settle duration
        How long to wait for subscriptions and delivery (default 30s)
  -seed uint
        Event generation seed, 0 for random (default 0)
  -log-level string
        Log level: debug, info, warn, error (default "info")
  -verbose
        Log every rejected event
  -help
        Show this help message

Examples:
  # Run with default settings
  go run ./cmd/simulate

  # Many sessions on one topic
  go run ./cmd/simulate -topics 1 -subscribers 200 -events 5000
`)
}
