package models

import (
	"fmt"
	"time"
)

// Kind classifies a message payload.
type Kind string

const (
	KindPrice    Kind = "price"
	KindVolume   Kind = "volume"
	KindDepth    Kind = "depth"
	KindTrade    Kind = "trade"
	KindQuote    Kind = "quote"
	KindNews     Kind = "news"
	KindAnalysis Kind = "analysis"
)

// AllKinds lists every kind a codec may produce.
var AllKinds = []Kind{KindPrice, KindVolume, KindDepth, KindTrade, KindQuote, KindNews, KindAnalysis}

// ParseKind returns the Kind for s or an error if s names no known kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown message kind %q", s)
}

// Message is one decoded update from a feed. It is treated as immutable once built.
type Message struct {
	Feed       string    `json:"feed"`
	Channel    string    `json:"channel"`
	Kind       Kind      `json:"kind"`
	Payload    Payload   `json:"payload"`
	Timestamp  time.Time `json:"ts"`          // source time
	ReceivedAt time.Time `json:"received_at"` // local receipt time
}

// Validate checks the minimal shape every routed message must have.
func (m Message) Validate() error {
	if m.Feed == "" {
		return fmt.Errorf("feed empty")
	}
	if m.Channel == "" {
		return fmt.Errorf("channel empty")
	}
	if m.Payload == nil {
		return fmt.Errorf("payload nil")
	}
	if m.Payload.Kind() != m.Kind {
		return fmt.Errorf("payload kind %s does not match message kind %s", m.Payload.Kind(), m.Kind)
	}
	return nil
}

// Event is a derived fact produced by a feed handler from a Message.
type Event struct {
	Name    string    `json:"name"`
	Feed    string    `json:"feed"`
	Channel string    `json:"channel"`
	Message Message   `json:"message"`
	At      time.Time `json:"at"`
}

const (
	EventPriceUpdated  = "price_updated"
	EventVolumeUpdated = "volume_updated"
	EventDepthUpdated  = "depth_updated"
	EventTradeExecuted = "trade_executed"
	EventQuoteUpdated  = "quote_updated"
	EventNewsPublished = "news_published"
	EventAnalysisReady = "analysis_ready"
)
