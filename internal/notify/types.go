package notify

import "time"

// Config controls firing notifications.
type Config struct {
	Enabled bool
	// RatePerSec bounds delivered lines per second (burst = rate). Lines over
	// the limit wait for a token.
	RatePerSec  int
	HistorySize int
}

type HistoryItem struct {
	At   time.Time
	Text string
}
