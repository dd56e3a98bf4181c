package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"MarketHub/internal/domain/models"
	"MarketHub/internal/domain/repository"
	"MarketHub/pkg/logger"
)

// CodecResolver returns the codec registered under name.
type CodecResolver func(name string) (repository.Codec, error)

// StateListener is told about every feed state transition. It runs on the goroutine
// that made the transition (normally the event loop) and must not block.
type StateListener func(feed string, state models.FeedState)

// Registry owns the feed connections by name. Its methods are safe for concurrent use;
// lifecycle work is handed to the event loop.
type Registry struct {
	ctx       context.Context
	loop      *Loop
	provider  repository.TransportProvider
	codecs    CodecResolver
	table     *SubscriptionTable
	router    *Router
	now       func() time.Time
	logger    *logger.Logger
	metrics   repository.Metrics
	mu        sync.RWMutex
	conns     map[string]*Connection
	listeners []StateListener
}

// NewRegistry creates a registry whose connections live until ctx is done or they
// are stopped.
func NewRegistry(ctx context.Context, loop *Loop, provider repository.TransportProvider, codecs CodecResolver,
	table *SubscriptionTable, router *Router, now func() time.Time, l *logger.Logger, m repository.Metrics) *Registry {
	if now == nil {
		now = time.Now
	}
	if l == nil {
		l = logger.Nop()
	}
	if m == nil {
		m = repository.NoopMetrics{}
	}
	return &Registry{
		ctx:      ctx,
		loop:     loop,
		provider: provider,
		codecs:   codecs,
		table:    table,
		router:   router,
		now:      now,
		logger:   l,
		metrics:  m,
		conns:    make(map[string]*Connection),
	}
}

// Watch registers fn for state transitions of every feed.
func (r *Registry) Watch(fn StateListener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Start registers cfg and begins connecting. Starting a name that is already
// registered fails with ErrAlreadyStarted; AnalyticsFeed fails with ErrReservedFeed.
func (r *Registry) Start(cfg models.FeedConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}
	if cfg.Name == AnalyticsFeed {
		return fmt.Errorf("start feed %s: %w", cfg.Name, ErrReservedFeed)
	}
	cfg = cfg.Clone()

	codec, err := r.codecs(cfg.Codec)
	if err != nil {
		return fmt.Errorf("start feed %s: %w", cfg.Name, err)
	}

	r.mu.Lock()
	if _, exists := r.conns[cfg.Name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("start feed %s: %w", cfg.Name, ErrAlreadyStarted)
	}
	conn := newConnection(r.ctx, cfg, connDeps{
		loop:     r.loop,
		provider: r.provider,
		codec:    codec,
		table:    r.table,
		dispatch: r.dispatch,
		onState:  r.notify,
		now:      r.now,
		logger:   r.logger.With("feed", cfg.Name),
		metrics:  r.metrics,
	})
	r.conns[cfg.Name] = conn
	r.router.AddFeed(cfg, codec)
	r.mu.Unlock()

	r.logger.Info("feed registered",
		logger.String("feed", cfg.Name),
		logger.String("transport", cfg.Transport),
		logger.String("endpoint", cfg.Endpoint),
	)
	if !r.loop.Post(conn.start) {
		return ErrLoopClosed
	}
	return nil
}

// Stop closes the feed's transport, cancels any pending reconnect and releases its
// ring buffer. Messages already queued for the feed are discarded.
func (r *Registry) Stop(name string) error {
	r.mu.Lock()
	conn, ok := r.conns[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("stop feed %s: %w", name, ErrNotFound)
	}
	delete(r.conns, name)
	// under r.mu so a concurrent Start of the same name keeps its new route
	r.router.RemoveFeed(name)
	r.mu.Unlock()

	conn.stop()
	r.notify(name, models.StateDisconnected)
	r.logger.Info("feed stopped", logger.String("feed", name))
	return nil
}

// Restart resets the feed's attempt counter and reconnects it, reviving a Failed feed.
func (r *Registry) Restart(name string) error {
	conn := r.conn(name)
	if conn == nil {
		return fmt.Errorf("restart feed %s: %w", name, ErrNotFound)
	}
	conn.restart()
	return nil
}

// ForceReconnect recycles a Connecting or Open feed without counting a failed attempt.
// It reports false when the feed was not in a recyclable state.
func (r *Registry) ForceReconnect(name string, reason error) (bool, error) {
	conn := r.conn(name)
	if conn == nil {
		return false, fmt.Errorf("reconnect feed %s: %w", name, ErrNotFound)
	}
	return conn.forceReconnect(reason), nil
}

// Status returns a point-in-time view of one feed.
func (r *Registry) Status(name string) (models.FeedStatus, error) {
	conn := r.conn(name)
	if conn == nil {
		return models.FeedStatus{}, fmt.Errorf("status %s: %w", name, ErrNotFound)
	}
	return r.status(conn), nil
}

// StatusAll returns the status of every registered feed keyed by name.
func (r *Registry) StatusAll() map[string]models.FeedStatus {
	out := make(map[string]models.FeedStatus)
	for _, conn := range r.connections() {
		out[conn.cfg.Name] = r.status(conn)
	}
	return out
}

// Names returns the registered feed names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.conns))
	for name := range r.conns {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Config returns a copy of the feed's configuration.
func (r *Registry) Config(name string) (models.FeedConfig, error) {
	conn := r.conn(name)
	if conn == nil {
		return models.FeedConfig{}, fmt.Errorf("config %s: %w", name, ErrNotFound)
	}
	return conn.cfg.Clone(), nil
}

// Shutdown stops every feed.
func (r *Registry) Shutdown() {
	for _, name := range r.Names() {
		_ = r.Stop(name)
	}
}

// SendSubscribe implements WireSender. It is called with the subscription table locked.
func (r *Registry) SendSubscribe(feed, channel string) {
	if conn := r.conn(feed); conn != nil {
		conn.subscribe(channel)
	}
}

// SendUnsubscribe implements WireSender. It is called with the subscription table locked.
func (r *Registry) SendUnsubscribe(feed, channel string) {
	if conn := r.conn(feed); conn != nil {
		conn.unsubscribe(channel)
	}
}

// heartbeat sends a heartbeat on every open feed and returns how many were sent.
func (r *Registry) heartbeat() int {
	n := 0
	for _, conn := range r.connections() {
		if conn.heartbeat() {
			n++
		}
	}
	return n
}

func (r *Registry) status(conn *Connection) models.FeedStatus {
	st := conn.status()
	st.Subscriptions = r.table.FeedCount(st.Name)
	if stats, ok := r.router.BufferStats(st.Name); ok {
		st.Buffered = stats.Count
	}
	return st
}

func (r *Registry) conn(name string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[name]
}

func (r *Registry) connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].cfg.Name < out[j].cfg.Name })
	return out
}

// dispatch routes a raw frame. Parse errors are already logged and counted by the
// router; anything else means the frame was lost.
func (r *Registry) dispatch(ctx context.Context, feed string, raw []byte, receivedAt time.Time) {
	_, err := r.router.Dispatch(ctx, feed, raw, receivedAt)
	var parseErr *ParseError
	if err == nil || errors.As(err, &parseErr) {
		return
	}
	r.metrics.RecordError("dispatch")
	r.logger.Warn("dropping frame",
		logger.String("feed", feed),
		logger.Int("bytes", len(raw)),
		logger.Error(err),
	)
}

func (r *Registry) notify(feed string, state models.FeedState) {
	r.mu.RLock()
	listeners := append([]StateListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(feed, state)
	}
}
