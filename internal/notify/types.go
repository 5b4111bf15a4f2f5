package notify

import (
	"errors"
	"time"

	kit "github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/transport"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
	ErrNoTargets = errors.New("notifier has no targets")
)

// Config controls the report pipeline. Apply swaps it at runtime; the queue
// size only changes on the next Start.
type Config struct {
	Enabled bool
	// Targets receive every report: the report chat, or every owner when no
	// report chat is configured.
	Targets       []kit.ChatTarget
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// Progress enables the per-session progress messages published every
	// joiner.Config.ProgressEvery items.
	Progress bool
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

type HistoryItem struct {
	At   time.Time
	Text string
}
