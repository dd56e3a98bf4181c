package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"MarketHub/internal/domain/models"
	"MarketHub/internal/domain/repository"
	"MarketHub/pkg/logger"
)

var errClosedByPeer = errors.New("transport closed")

// replayer is the part of the subscription table a connection needs on open.
type replayer interface {
	Replay(feed string, fn func(channels []string))
}

// connDeps carries what a Connection shares with its registry.
type connDeps struct {
	loop     *Loop
	provider repository.TransportProvider
	codec    repository.Codec
	table    replayer
	dispatch func(ctx context.Context, feed string, raw []byte, receivedAt time.Time)
	onState  func(feed string, state models.FeedState)
	now      func() time.Time
	logger   *logger.Logger
	metrics  repository.Metrics
}

// Connection owns one feed's transport handle and its lifecycle state machine.
// State changes happen on the event loop; reads may come from any goroutine.
type Connection struct {
	cfg models.FeedConfig
	connDeps

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         models.FeedState
	transport     repository.Transport
	gen           uint64
	attempts      int
	timer         *Timer
	stopped       bool
	since         time.Time // last start or open
	lastMessageAt time.Time
	messages      int64
	healthy       bool
	lastErr       error
}

func newConnection(parent context.Context, cfg models.FeedConfig, deps connDeps) *Connection {
	ctx, cancel := context.WithCancel(parent)
	return &Connection{
		cfg:      cfg,
		connDeps: deps,
		ctx:      ctx,
		cancel:   cancel,
		state:    models.StateDisconnected,
	}
}

// handle binds transport callbacks to one generation of the connection.
type handle struct {
	c   *Connection
	gen uint64
}

func (h *handle) OnOpen() {
	h.c.loop.Post(func() { h.c.handleOpen(h.gen) })
}

func (h *handle) OnMessage(raw []byte) {
	at := h.c.now()
	h.c.loop.Post(func() { h.c.handleMessage(h.gen, raw, at) })
}

func (h *handle) OnClose() {
	h.c.loop.Post(func() { h.c.handleFailure(h.gen, errClosedByPeer) })
}

func (h *handle) OnError(err error) {
	h.c.loop.Post(func() { h.c.handleFailure(h.gen, err) })
}

// start opens a transport. It is a no-op unless the connection is Disconnected.
// Runs on the loop.
func (c *Connection) start() {
	c.mu.Lock()
	if c.stopped || c.state != models.StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	c.timer = nil
	c.state = models.StateConnecting
	c.since = c.now()
	c.mu.Unlock()
	c.changed(models.StateConnecting)

	t, err := c.provider.Open(c.ctx, c.cfg.Endpoint, &handle{c: c, gen: gen})

	c.mu.Lock()
	if gen != c.gen {
		// stopped or recycled while opening
		c.mu.Unlock()
		if t != nil {
			_ = t.Close()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.handleFailure(gen, err)
		return
	}
	c.transport = t
	c.mu.Unlock()
}

func (c *Connection) handleOpen(gen uint64) {
	opened := false
	c.table.Replay(c.cfg.Name, func(active []string) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen || c.state != models.StateConnecting {
			return
		}
		opened = true
		c.state = models.StateOpen
		c.attempts = 0
		c.healthy = true
		c.lastErr = nil
		c.since = c.now()

		for _, ch := range union(c.cfg.DefaultChannels, active) {
			c.sendLocked(ch, c.codec.SubscribeFrame)
		}
	})
	if opened {
		c.logger.Info("feed open", logger.String("feed", c.cfg.Name))
		c.changed(models.StateOpen)
	}
}

func (c *Connection) handleMessage(gen uint64, raw []byte, at time.Time) {
	c.mu.Lock()
	if gen != c.gen || c.state != models.StateOpen {
		c.mu.Unlock()
		return
	}
	c.messages++
	c.lastMessageAt = at
	c.healthy = true
	c.mu.Unlock()

	c.dispatch(c.ctx, c.cfg.Name, raw, at)
}

// handleFailure moves a Connecting or Open connection to Disconnected and schedules
// a reconnect, or to Failed once attempts are exhausted.
func (c *Connection) handleFailure(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || (c.state != models.StateConnecting && c.state != models.StateOpen) {
		c.mu.Unlock()
		return
	}
	wasOpen := c.state == models.StateOpen
	t := c.transport
	c.transport = nil
	c.gen++
	c.healthy = false

	if wasOpen {
		c.lastErr = cause
		c.logger.Warn("feed disconnected", logger.String("feed", c.cfg.Name), logger.Error(cause))
	} else {
		err := &ConnectError{Feed: c.cfg.Name, Attempt: c.attempts, Err: cause}
		c.lastErr = err
		c.logger.Warn("feed connect failed", logger.String("feed", c.cfg.Name), logger.Error(err))
	}
	state := c.scheduleLocked()
	c.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	if state == models.StateFailed {
		c.changed(models.StateDisconnected)
	}
	c.changed(state)
}

// scheduleLocked decides between a retry and the terminal state.
func (c *Connection) scheduleLocked() models.FeedState {
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.state = models.StateFailed
		c.logger.Error("feed failed",
			logger.String("feed", c.cfg.Name),
			logger.Int("attempts", c.attempts),
		)
		return models.StateFailed
	}
	c.state = models.StateDisconnected
	c.attempts++
	c.metrics.RecordReconnect(c.cfg.Name)
	c.timer = c.loop.AfterFunc(c.cfg.ReconnectInterval, c.start)
	c.logger.Info("feed reconnect scheduled",
		logger.String("feed", c.cfg.Name),
		logger.Int("attempt", c.attempts),
		logger.Duration("delay", c.cfg.ReconnectInterval),
	)
	return models.StateDisconnected
}

// forceReconnect recycles a Connecting or Open connection without counting a failed
// attempt. It reports whether anything was done.
func (c *Connection) forceReconnect(reason error) bool {
	c.mu.Lock()
	if c.stopped || (c.state != models.StateConnecting && c.state != models.StateOpen) {
		c.mu.Unlock()
		return false
	}
	t := c.transport
	c.transport = nil
	c.gen++
	c.state = models.StateDisconnected
	c.healthy = false
	c.lastErr = reason
	c.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	c.changed(models.StateDisconnected)
	c.loop.Post(c.start)
	return true
}

// restart drops any transport and pending retry, clears attempts and starts over.
// It revives a Failed connection.
func (c *Connection) restart() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.timer.Stop()
	c.timer = nil
	t := c.transport
	c.transport = nil
	c.gen++
	c.attempts = 0
	c.state = models.StateDisconnected
	c.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	c.changed(models.StateDisconnected)
	c.loop.Post(c.start)
}

// stop closes the transport and cancels any pending retry. The connection cannot be
// started again.
func (c *Connection) stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.timer.Stop()
	c.timer = nil
	t := c.transport
	c.transport = nil
	c.gen++
	c.state = models.StateDisconnected
	c.mu.Unlock()

	c.cancel()
	if t != nil {
		_ = t.Close()
	}
}

func (c *Connection) subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == models.StateOpen {
		c.sendLocked(channel, c.codec.SubscribeFrame)
	}
}

func (c *Connection) unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == models.StateOpen {
		c.sendLocked(channel, c.codec.UnsubscribeFrame)
	}
}

// heartbeat sends the codec's heartbeat frame. It reports whether one was sent.
func (c *Connection) heartbeat() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != models.StateOpen || c.transport == nil {
		return false
	}
	frame, err := c.codec.HeartbeatFrame()
	if err != nil || frame == nil {
		return false
	}
	if err := c.transport.Send(frame); err != nil {
		c.logger.Warn("heartbeat send failed", logger.String("feed", c.cfg.Name), logger.Error(err))
		return false
	}
	return true
}

// sendLocked builds a control frame for channel and writes it. A nil frame means the
// codec has no wire action for it.
func (c *Connection) sendLocked(channel string, build func(string) ([]byte, error)) {
	if c.transport == nil {
		return
	}
	frame, err := build(channel)
	if err != nil {
		c.logger.Warn("control frame", logger.String("feed", c.cfg.Name), logger.String("channel", channel), logger.Error(err))
		return
	}
	if frame == nil {
		return
	}
	if err := c.transport.Send(frame); err != nil {
		c.logger.Warn("control frame send failed", logger.String("feed", c.cfg.Name), logger.String("channel", channel), logger.Error(err))
	}
}

// activity returns the state and the time the feed was last known to be alive.
func (c *Connection) activity() (models.FeedState, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	last := c.since
	if c.lastMessageAt.After(last) {
		last = c.lastMessageAt
	}
	return c.state, last
}

func (c *Connection) status() models.FeedStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := models.FeedStatus{
		Name:          c.cfg.Name,
		State:         c.state,
		Healthy:       c.state == models.StateOpen && c.healthy,
		Messages:      c.messages,
		LastMessageAt: c.lastMessageAt,
		Attempts:      c.attempts,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

func (c *Connection) changed(state models.FeedState) {
	c.metrics.RecordFeedState(c.cfg.Name, state)
	if c.onState != nil {
		c.onState(c.cfg.Name, state)
	}
}

// union returns a followed by the entries of b not in a, without duplicates.
func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
