// Package ws streams hub messages to browser clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"MarketHub/internal/domain/models"
	"MarketHub/internal/hub"
	xlogger "MarketHub/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"

	maxControlSize = 4 << 10
)

// Subscriber registers callbacks on (feed, channel) pairs.
type Subscriber interface {
	Subscribe(feed, channel string, cb hub.Callback) (*hub.Subscription, error)
}

// Control is a frame sent by a client to change its subscriptions.
type Control struct {
	Op      string `json:"op"`
	Feed    string `json:"feed"`
	Channel string `json:"channel"`
}

// Frame is sent to clients. Type is "message", "subscribed", "unsubscribed" or "error".
type Frame struct {
	Type    string          `json:"type"`
	Feed    string          `json:"feed,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Message *models.Message `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type Option func(*StreamHandler)

// WithSendBuffer sets how many frames may queue per client before new ones are dropped.
func WithSendBuffer(n int) Option {
	return func(s *StreamHandler) {
		if n > 0 {
			s.sendBuffer = n
		}
	}
}

// WithPing sets the keepalive ping interval; the client must answer within twice that.
func WithPing(d time.Duration) Option {
	return func(s *StreamHandler) {
		if d > 0 {
			s.ping = d
		}
	}
}

// StreamHandler serves GET /ws. A client may subscribe on connect with
// ?feed=F&channel=C and later send Control frames.
type StreamHandler struct {
	hub        Subscriber
	logger     *xlogger.Logger
	upgrader   websocket.Upgrader
	sendBuffer int
	ping       time.Duration
	writeWait  time.Duration

	clients atomic.Int64
	dropped atomic.Int64
}

func NewStreamHandler(h Subscriber, l *xlogger.Logger, opts ...Option) *StreamHandler {
	if l == nil {
		l = xlogger.Nop()
	}
	s := &StreamHandler{
		hub:        h,
		logger:     l,
		sendBuffer: 256,
		ping:       30 * time.Second,
		writeWait:  10 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *StreamHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", s.Stream)
}

// Clients returns the number of connected clients.
func (s *StreamHandler) Clients() int64 { return s.clients.Load() }

// Dropped returns how many frames were discarded because a client fell behind.
func (s *StreamHandler) Dropped() int64 { return s.dropped.Load() }

func (s *StreamHandler) Stream(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already replied
		s.logger.Debug("ws upgrade failed", xlogger.Error(err))
		return nil
	}

	cl := &client{
		s:    s,
		conn: conn,
		send: make(chan Frame, s.sendBuffer),
		done: make(chan struct{}),
		subs: make(map[string]*hub.Subscription),
	}
	s.clients.Add(1)
	s.logger.Debug("ws client connected", xlogger.String("remote", c.RealIP()))

	if feed, channel := c.QueryParam("feed"), c.QueryParam("channel"); feed != "" || channel != "" {
		cl.apply(Control{Op: OpSubscribe, Feed: feed, Channel: channel})
	}

	go cl.writeLoop()
	cl.readLoop()
	cl.close()

	s.clients.Add(-1)
	s.logger.Debug("ws client disconnected", xlogger.String("remote", c.RealIP()))
	return nil
}

type client struct {
	s    *StreamHandler
	conn *websocket.Conn
	send chan Frame
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	subs map[string]*hub.Subscription
}

func subKey(feed, channel string) string { return feed + "\x00" + channel }

func (c *client) readLoop() {
	c.conn.SetReadLimit(maxControlSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.s.ping))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * c.s.ping))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.s.logger.Debug("ws read failed", xlogger.Error(err))
			}
			return
		}
		var ctrl Control
		if err := json.Unmarshal(raw, &ctrl); err != nil {
			c.enqueue(Frame{Type: "error", Error: "malformed control frame"})
			continue
		}
		c.apply(ctrl)
	}
}

func (c *client) apply(ctrl Control) {
	var err error
	switch ctrl.Op {
	case OpSubscribe:
		err = c.subscribe(ctrl.Feed, ctrl.Channel)
	case OpUnsubscribe:
		err = c.unsubscribe(ctrl.Feed, ctrl.Channel)
	default:
		err = fmt.Errorf("unknown op %q", ctrl.Op)
	}
	if err != nil {
		c.enqueue(Frame{Type: "error", Feed: ctrl.Feed, Channel: ctrl.Channel, Error: err.Error()})
		return
	}
	c.enqueue(Frame{Type: ctrl.Op + "d", Feed: ctrl.Feed, Channel: ctrl.Channel})
}

func (c *client) subscribe(feed, channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := subKey(feed, channel)
	if _, ok := c.subs[key]; ok {
		return nil
	}
	sub, err := c.s.hub.Subscribe(feed, channel, c.deliver)
	if err != nil {
		return err
	}
	c.subs[key] = sub
	return nil
}

func (c *client) unsubscribe(feed, channel string) error {
	c.mu.Lock()
	sub, ok := c.subs[subKey(feed, channel)]
	delete(c.subs, subKey(feed, channel))
	c.mu.Unlock()
	if !ok {
		return errors.New("not subscribed")
	}
	sub.Unsubscribe()
	return nil
}

// deliver runs on the hub loop and never blocks.
func (c *client) deliver(_ context.Context, msg models.Message) error {
	m := msg
	c.enqueue(Frame{Type: "message", Feed: msg.Feed, Channel: msg.Channel, Message: &m})
	return nil
}

func (c *client) enqueue(f Frame) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- f:
	default:
		c.s.dropped.Add(1)
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(c.s.ping)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.s.writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.s.writeWait)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

// close releases every subscription of the client and stops its writer.
func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		subs := c.subs
		c.subs = map[string]*hub.Subscription{}
		c.mu.Unlock()
		for _, sub := range subs {
			sub.Unsubscribe()
		}
		_ = c.conn.Close()
	})
}
