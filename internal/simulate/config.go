package simulate

import "time"

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL     string        // Base URL of the service
	Topics      int           // Number of show topics to publish on
	Events      int           // Number of events to generate across all topics
	Producers   int           // Number of concurrent producers
	Subscribers int           // Number of websocket sessions subscribed to every topic
	Timeout     time.Duration // HTTP request timeout
	Settle      time.Duration // How long to wait for delivery after the last submission
	Seed        uint64        // Seed for event generation; zero picks one from the clock
	Verbose     bool          // Enable verbose logging
}

// Stats holds run statistics.
type Stats struct {
	EventsGenerated int
	EventsSubmitted int
	EventsAccepted  int
	EventsDuplicate int
	EventsRejected  int
	EventsRetried   int
	EventsDelivered int
	GapsReported    int
	LossyReported   int
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}
