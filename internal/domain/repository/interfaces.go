package repository

import (
	"context"
	"time"

	"MarketHub/internal/domain/models"
)

// TransportHandler receives transport events. Implementations must not block:
// the hub only posts the event to its loop.
type TransportHandler interface {
	OnOpen()
	OnMessage(raw []byte)
	OnClose()
	OnError(err error)
}

// Transport is an open (or opening) handle to one feed endpoint.
type Transport interface {
	Send(raw []byte) error
	Close() error
}

// TransportProvider opens transports. Open must not block on the network for long;
// the outcome is reported through the handler (OnOpen or OnError/OnClose).
// A synchronous error is treated the same as OnError while connecting.
type TransportProvider interface {
	Open(ctx context.Context, endpoint string, h TransportHandler) (Transport, error)
}

// Codec turns raw feed payloads into messages and builds control frames for a feed.
type Codec interface {
	Name() string
	// Decode may return messages and an error together when part of the frame was bad.
	Decode(feed string, raw []byte, receivedAt time.Time) ([]models.Message, error)
	SubscribeFrame(channel string) ([]byte, error)
	UnsubscribeFrame(channel string) ([]byte, error)
	HeartbeatFrame() ([]byte, error)
}

// EventSink receives events derived by feed handlers. Emit must not block.
type EventSink interface {
	Emit(ev models.Event)
}

// Publisher forwards messages and events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, m models.Message) error
	PublishBatch(ctx context.Context, msgs []models.Message) error
	PublishEvent(ctx context.Context, ev models.Event) error
	Close() error
}

// Storage archives messages.
type Storage interface {
	Init(ctx context.Context) error
	StoreBatch(ctx context.Context, msgs []models.Message) error
	Query(ctx context.Context, feed, channel string, from, to time.Time, limit int) ([]models.Message, error)
	Health(ctx context.Context) error
	Close() error
}

// SnapshotCache mirrors the latest snapshot per symbol outside the process.
type SnapshotCache interface {
	Put(ctx context.Context, s models.Snapshot) error
	Get(ctx context.Context, symbol string) (models.Snapshot, bool, error)
}

// Metrics records hub activity.
type Metrics interface {
	RecordMessage(feed string, kind models.Kind)
	RecordParseError(feed string)
	RecordSubscriberError(feed string)
	RecordReconnect(feed string)
	RecordFeedState(feed string, state models.FeedState)
	RecordBufferDepth(feed string, n int)
	RecordMessageSent(backend, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordMessage(string, models.Kind)        {}
func (NoopMetrics) RecordParseError(string)                  {}
func (NoopMetrics) RecordSubscriberError(string)             {}
func (NoopMetrics) RecordReconnect(string)                   {}
func (NoopMetrics) RecordFeedState(string, models.FeedState) {}
func (NoopMetrics) RecordBufferDepth(string, int)            {}
func (NoopMetrics) RecordMessageSent(string, string)         {}
func (NoopMetrics) RecordError(string)                       {}
func (NoopMetrics) RecordLastPrice(string, float64)          {}
func (NoopMetrics) RecordLatency(string, float64)            {}
