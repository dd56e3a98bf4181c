package hub

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"MarketHub/internal/domain/models"
	"MarketHub/internal/domain/repository"
	"MarketHub/pkg/logger"
)

// Handler derives events from a routed message. It runs on the event loop.
type Handler func(msg models.Message) []models.Event

var eventNames = map[models.Kind]string{
	models.KindPrice:    models.EventPriceUpdated,
	models.KindVolume:   models.EventVolumeUpdated,
	models.KindDepth:    models.EventDepthUpdated,
	models.KindTrade:    models.EventTradeExecuted,
	models.KindQuote:    models.EventQuoteUpdated,
	models.KindNews:     models.EventNewsPublished,
	models.KindAnalysis: models.EventAnalysisReady,
}

// DefaultHandler emits one event per message, named after its kind.
func DefaultHandler(msg models.Message) []models.Event {
	name, ok := eventNames[msg.Kind]
	if !ok {
		return nil
	}
	return []models.Event{{
		Name:    name,
		Feed:    msg.Feed,
		Channel: msg.Channel,
		Message: msg,
		At:      msg.ReceivedAt,
	}}
}

type nopSink struct{}

func (nopSink) Emit(models.Event) {}

type route struct {
	cfg    models.FeedConfig
	codec  repository.Codec
	buffer *RingBuffer
}

// Router turns raw feed payloads into messages and fans them out: feed handler,
// ring buffer, snapshot store, then subscribers.
type Router struct {
	mu       sync.RWMutex
	routes   map[string]*route
	handlers map[string]Handler

	table     *SubscriptionTable
	snapshots *SnapshotStore
	sink      repository.EventSink
	logger    *logger.Logger
	metrics   repository.Metrics
}

// NewRouter creates a router that notifies table and updates snapshots.
// A nil sink discards events.
func NewRouter(table *SubscriptionTable, snapshots *SnapshotStore, sink repository.EventSink, l *logger.Logger, m repository.Metrics) *Router {
	if sink == nil {
		sink = nopSink{}
	}
	if l == nil {
		l = logger.Nop()
	}
	if m == nil {
		m = repository.NoopMetrics{}
	}
	return &Router{
		routes:    make(map[string]*route),
		handlers:  make(map[string]Handler),
		table:     table,
		snapshots: snapshots,
		sink:      sink,
		logger:    l,
		metrics:   m,
	}
}

// AddFeed registers a feed's codec and allocates its ring buffer. codec may be nil for
// feeds whose messages are published already decoded.
func (r *Router) AddFeed(cfg models.FeedConfig, codec repository.Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[cfg.Name] = &route{
		cfg:    cfg.Clone(),
		codec:  codec,
		buffer: NewRingBuffer(cfg.BufferSize, cfg.BufferWindow),
	}
}

// RemoveFeed releases the feed's route and ring buffer. The feed's handler is kept.
func (r *Router) RemoveFeed(feed string) {
	r.mu.Lock()
	delete(r.routes, feed)
	r.mu.Unlock()
}

// SetHandler installs h for feed, replacing DefaultHandler.
func (r *Router) SetHandler(feed string, h Handler) {
	r.mu.Lock()
	r.handlers[feed] = h
	r.mu.Unlock()
}

func (r *Router) lookup(feed string) (*route, Handler) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[feed]
	if !ok {
		h = DefaultHandler
	}
	return r.routes[feed], h
}

// Dispatch decodes raw and routes every message it yields. Decode and classification
// failures are logged and counted; the feed keeps going, and the good messages of a
// partly bad frame are still routed. It returns how many messages were routed and the
// last ParseError, if any.
func (r *Router) Dispatch(ctx context.Context, feed string, raw []byte, receivedAt time.Time) (int, error) {
	rt, _ := r.lookup(feed)
	if rt == nil {
		return 0, fmt.Errorf("dispatch %s: %w", feed, ErrNotFound)
	}
	if rt.codec == nil {
		return 0, r.parseFailed(&ParseError{Feed: feed, Raw: raw, Err: fmt.Errorf("no codec")})
	}

	msgs, err := rt.codec.Decode(feed, raw, receivedAt)
	var lastErr error
	if err != nil {
		lastErr = r.parseFailed(&ParseError{Feed: feed, Raw: raw, Err: err})
		if len(msgs) == 0 {
			return 0, lastErr
		}
	}

	routed := 0
	for _, m := range msgs {
		if err := r.Route(ctx, m); err != nil {
			lastErr = err
			continue
		}
		routed++
	}
	return routed, lastErr
}

// Route runs a decoded message through classification, the feed handler, the ring
// buffer, the snapshot store and subscriber notification.
func (r *Router) Route(ctx context.Context, msg models.Message) error {
	rt, handler := r.lookup(msg.Feed)
	if rt == nil {
		return fmt.Errorf("route %s: %w", msg.Feed, ErrNotFound)
	}
	if err := msg.Validate(); err != nil {
		return r.parseFailed(&ParseError{Feed: msg.Feed, Err: err})
	}
	if !rt.cfg.Accepts(msg.Kind) {
		return r.parseFailed(&ParseError{Feed: msg.Feed, Err: fmt.Errorf("kind %s not declared for feed", msg.Kind)})
	}

	for _, ev := range handler(msg) {
		r.sink.Emit(ev)
	}

	rt.buffer.Append(msg)
	r.metrics.RecordMessage(msg.Feed, msg.Kind)
	r.metrics.RecordBufferDepth(msg.Feed, rt.buffer.Len())

	if snap, ok := r.snapshots.Apply(msg); ok && snap.Price > 0 {
		r.metrics.RecordLastPrice(snap.Symbol, snap.Price)
	}

	r.table.Notify(ctx, msg)
	return nil
}

func (r *Router) parseFailed(err *ParseError) error {
	r.metrics.RecordParseError(err.Feed)
	r.logger.Warn("dropping unparseable payload",
		logger.String("feed", err.Feed),
		logger.Int("bytes", len(err.Raw)),
		logger.Error(err.Err),
	)
	return err
}

// Buffer returns up to limit of the feed's most recent messages, oldest first.
func (r *Router) Buffer(feed string, limit int) ([]models.Message, error) {
	rt, _ := r.lookup(feed)
	if rt == nil {
		return nil, fmt.Errorf("buffer %s: %w", feed, ErrNotFound)
	}
	return rt.buffer.Recent(limit), nil
}

// BufferStats returns the feed's ring buffer statistics.
func (r *Router) BufferStats(feed string) (BufferStats, bool) {
	rt, _ := r.lookup(feed)
	if rt == nil {
		return BufferStats{}, false
	}
	return rt.buffer.Stats(), true
}

// Clean evicts expired entries from every buffer and returns the total evicted.
func (r *Router) Clean(now time.Time) int {
	r.mu.RLock()
	routes := make(map[string]*route, len(r.routes))
	for name, rt := range r.routes {
		routes[name] = rt
	}
	r.mu.RUnlock()

	total := 0
	for name, rt := range routes {
		total += rt.buffer.Clean(now)
		r.metrics.RecordBufferDepth(name, rt.buffer.Len())
	}
	return total
}

// Feeds returns the routed feed names, sorted.
func (r *Router) Feeds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for name := range r.routes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
