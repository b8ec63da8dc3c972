package adapter

import "time"

// Config configures the Telegram long-poll adapter.
type Config struct {
	Token string
	// PollTimeout is the getUpdates long-poll timeout (default 10s).
	PollTimeout time.Duration
}
