package hub

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"MarketHub/internal/domain/models"
	"MarketHub/internal/domain/repository"
	"MarketHub/pkg/logger"
)

// Callback receives messages for a subscription. Returning an error (or panicking)
// is logged as a SubscriberError; the subscription stays active.
type Callback func(ctx context.Context, msg models.Message) error

// WireSender emits feed-level subscribe/unsubscribe actions. Implementations act
// only when the feed's connection is open.
type WireSender interface {
	SendSubscribe(feed, channel string)
	SendUnsubscribe(feed, channel string)
}

type subKey struct {
	feed    string
	channel string
}

type subscriber struct {
	id uint64
	cb Callback
}

// SubscriptionTable maps (feed, channel) to subscriber callbacks and reference-counts
// the wire-level subscription: subscribe on the first subscriber, unsubscribe on the last.
// It is safe for concurrent use, including from inside a callback.
type SubscriptionTable struct {
	mu      sync.Mutex
	subs    map[subKey][]subscriber
	nextID  uint64
	wire    WireSender
	logger  *logger.Logger
	metrics repository.Metrics
}

// NewSubscriptionTable creates an empty table. The wire sender is attached later
// with SetWireSender because the registry that implements it needs the table.
func NewSubscriptionTable(l *logger.Logger, m repository.Metrics) *SubscriptionTable {
	if l == nil {
		l = logger.Nop()
	}
	if m == nil {
		m = repository.NoopMetrics{}
	}
	return &SubscriptionTable{
		subs:    make(map[subKey][]subscriber),
		logger:  l,
		metrics: m,
	}
}

// SetWireSender attaches the component that performs wire-level actions.
func (t *SubscriptionTable) SetWireSender(w WireSender) {
	t.mu.Lock()
	t.wire = w
	t.mu.Unlock()
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	Feed    string
	Channel string
	ID      uint64

	table *SubscriptionTable
	once  sync.Once
}

// Unsubscribe removes the subscription. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.table.Unsubscribe(s.Feed, s.Channel, s.ID)
	})
}

// Subscribe registers cb for (feed, channel).
func (t *SubscriptionTable) Subscribe(feed, channel string, cb Callback) (*Subscription, error) {
	if feed == "" || channel == "" {
		return nil, fmt.Errorf("subscribe: feed and channel are required")
	}
	if cb == nil {
		return nil, fmt.Errorf("subscribe: callback is nil")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	k := subKey{feed: feed, channel: channel}
	first := len(t.subs[k]) == 0
	t.subs[k] = append(t.subs[k], subscriber{id: t.nextID, cb: cb})
	if first && t.wire != nil {
		t.wire.SendSubscribe(feed, channel)
	}

	return &Subscription{Feed: feed, Channel: channel, ID: t.nextID, table: t}, nil
}

// Unsubscribe removes subscriber id from (feed, channel). It reports whether the
// subscriber was present.
func (t *SubscriptionTable) Unsubscribe(feed, channel string, id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := subKey{feed: feed, channel: channel}
	list := t.subs[k]
	idx := -1
	for i, s := range list {
		if s.id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	if len(list) == 1 {
		delete(t.subs, k)
		if t.wire != nil {
			t.wire.SendUnsubscribe(feed, channel)
		}
		return true
	}

	// copy so snapshots taken by Notify are never mutated
	next := make([]subscriber, 0, len(list)-1)
	next = append(next, list[:idx]...)
	next = append(next, list[idx+1:]...)
	t.subs[k] = next
	return true
}

// Notify delivers msg to every subscriber of (msg.Feed, msg.Channel) as of the
// moment of the call. It returns the number of callbacks that completed without error.
func (t *SubscriptionTable) Notify(ctx context.Context, msg models.Message) int {
	t.mu.Lock()
	snapshot := t.subs[subKey{feed: msg.Feed, channel: msg.Channel}]
	t.mu.Unlock()

	ok := 0
	for _, s := range snapshot {
		if err := t.invoke(ctx, s, msg); err != nil {
			t.metrics.RecordSubscriberError(msg.Feed)
			t.logger.Warn("subscriber failed",
				logger.String("feed", msg.Feed),
				logger.String("channel", msg.Channel),
				logger.Uint64("subscriber", s.id),
				logger.Error(err),
			)
			continue
		}
		ok++
	}
	return ok
}

func (t *SubscriptionTable) invoke(ctx context.Context, s subscriber, msg models.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SubscriberError{Feed: msg.Feed, Channel: msg.Channel, SubscriberID: s.id, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if cbErr := s.cb(ctx, msg); cbErr != nil {
		return &SubscriberError{Feed: msg.Feed, Channel: msg.Channel, SubscriberID: s.id, Err: cbErr}
	}
	return nil
}

// Replay runs fn with the feed's active channels while holding the table lock, so no
// Subscribe or Unsubscribe can interleave with the wire actions fn performs.
func (t *SubscriptionTable) Replay(feed string, fn func(channels []string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.channelsLocked(feed))
}

// Channels returns the feed's channels that have at least one subscriber, sorted.
func (t *SubscriptionTable) Channels(feed string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channelsLocked(feed)
}

func (t *SubscriptionTable) channelsLocked(feed string) []string {
	var out []string
	for k := range t.subs {
		if k.feed == feed {
			out = append(out, k.channel)
		}
	}
	sort.Strings(out)
	return out
}

// Count returns the number of subscribers of (feed, channel).
func (t *SubscriptionTable) Count(feed, channel string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs[subKey{feed: feed, channel: channel}])
}

// FeedCount returns the number of subscribers across all channels of feed.
func (t *SubscriptionTable) FeedCount(feed string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, list := range t.subs {
		if k.feed == feed {
			n += len(list)
		}
	}
	return n
}
