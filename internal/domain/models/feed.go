package models

import (
	"fmt"
	"time"
)

// AnalyticsFeed is the reserved name of the internal feed analysis results are published on.
const AnalyticsFeed = "analytics"

// FeedState is the lifecycle state of a feed connection.
type FeedState string

const (
	StateDisconnected FeedState = "Disconnected"
	StateConnecting   FeedState = "Connecting"
	StateOpen         FeedState = "Open"
	StateFailed       FeedState = "Failed"
)

// FeedConfig describes one feed. Treat it as immutable; use Clone before handing it on.
type FeedConfig struct {
	Name                 string        `json:"name"`
	Endpoint             string        `json:"endpoint"`
	Transport            string        `json:"transport"` // websocket, kafka, nats, mqtt, sim
	Codec                string        `json:"codec"`     // envelope, finnhub
	ReconnectInterval    time.Duration `json:"reconnect_interval"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts"`
	DefaultChannels      []string      `json:"default_channels"`
	Kinds                []Kind        `json:"kinds,omitempty"` // empty accepts every kind
	BufferSize           int           `json:"buffer_size"`
	BufferWindow         time.Duration `json:"buffer_window"`
}

// Validate checks fields that the hub cannot default.
func (c FeedConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("feed name is required")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("feed %s: max_reconnect_attempts must be >= 0", c.Name)
	}
	if c.ReconnectInterval < 0 {
		return fmt.Errorf("feed %s: reconnect_interval must be >= 0", c.Name)
	}
	return nil
}

// Clone returns a deep copy.
func (c FeedConfig) Clone() FeedConfig {
	out := c
	out.DefaultChannels = append([]string(nil), c.DefaultChannels...)
	out.Kinds = append([]Kind(nil), c.Kinds...)
	return out
}

// Accepts reports whether the feed declares kind k.
func (c FeedConfig) Accepts(k Kind) bool {
	if len(c.Kinds) == 0 {
		return true
	}
	for _, d := range c.Kinds {
		if d == k {
			return true
		}
	}
	return false
}

// FeedStatus is a point-in-time view of one feed.
type FeedStatus struct {
	Name          string    `json:"name"`
	State         FeedState `json:"state"`
	Healthy       bool      `json:"healthy"`
	Messages      int64     `json:"messages"`
	LastMessageAt time.Time `json:"last_message_at"`
	Attempts      int       `json:"attempts"`
	Subscriptions int       `json:"subscriptions"`
	Buffered      int       `json:"buffered"`
	LastError     string    `json:"last_error,omitempty"`
}
