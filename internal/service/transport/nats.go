package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"MarketHub/internal/domain/repository"
	"MarketHub/internal/service/codec"
	"MarketHub/pkg/logger"

	"github.com/nats-io/nats.go"
)

// NATS maps each channel to a subject under a prefix. Endpoint form:
//
//	nats://host:4222/ticks      -> channel BTCUSDT on subject ticks.BTCUSDT
//
// Envelope subscribe/unsubscribe frames open and drop subject subscriptions; a ping
// frame flushes the connection and answers with a pong. Reconnects are left to the hub.
type NATS struct {
	timeout time.Duration
	logger  *logger.Logger
}

func NewNATS(timeout time.Duration, l *logger.Logger) *NATS {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NATS{timeout: timeout, logger: l}
}

func (n *NATS) Open(ctx context.Context, endpoint string, h repository.TransportHandler) (repository.Transport, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("nats endpoint: %w", err)
	}
	prefix := strings.ReplaceAll(strings.Trim(u.Path, "/"), "/", ".")
	server := (&url.URL{Scheme: u.Scheme, User: u.User, Host: u.Host}).String()

	c := &natsConn{
		prefix: prefix,
		h:      h,
		subs:   make(map[string]*nats.Subscription),
		logger: n.logger,
	}
	go c.connect(ctx, server, n.timeout)
	return c, nil
}

type natsConn struct {
	prefix string
	h      repository.TransportHandler
	logger *logger.Logger

	mu     sync.Mutex
	nc     *nats.Conn
	subs   map[string]*nats.Subscription
	closed bool
}

func (c *natsConn) connect(ctx context.Context, server string, timeout time.Duration) {
	nc, err := nats.Connect(server,
		nats.Name("markethub"),
		nats.Timeout(timeout),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if c.isClosed() {
				return
			}
			if err != nil {
				c.h.OnError(fmt.Errorf("nats disconnected: %w", err))
				return
			}
			c.h.OnClose()
		}),
	)
	if err != nil {
		if !c.isClosed() {
			c.h.OnError(fmt.Errorf("nats connect: %w", err))
		}
		return
	}

	c.mu.Lock()
	if c.closed || ctx.Err() != nil {
		c.mu.Unlock()
		nc.Close()
		return
	}
	c.nc = nc
	c.mu.Unlock()
	c.h.OnOpen()
}

func (c *natsConn) subject(channel string) string {
	if c.prefix == "" {
		return channel
	}
	return c.prefix + "." + channel
}

func (c *natsConn) Send(raw []byte) error {
	ctrl, ok := codec.ParseControl(raw)
	if !ok {
		return errors.New("nats: only control frames can be sent")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil || c.closed {
		return errors.New("nats not connected")
	}

	switch ctrl.Op {
	case codec.OpSubscribe:
		if _, ok := c.subs[ctrl.Channel]; ok {
			return nil
		}
		sub, err := c.nc.Subscribe(c.subject(ctrl.Channel), func(m *nats.Msg) { c.h.OnMessage(m.Data) })
		if err != nil {
			return fmt.Errorf("nats subscribe %s: %w", ctrl.Channel, err)
		}
		c.subs[ctrl.Channel] = sub
	case codec.OpUnsubscribe:
		if sub, ok := c.subs[ctrl.Channel]; ok {
			delete(c.subs, ctrl.Channel)
			return sub.Unsubscribe()
		}
	case codec.OpPing:
		if err := c.nc.FlushTimeout(2 * time.Second); err != nil {
			return fmt.Errorf("nats flush: %w", err)
		}
		c.h.OnMessage(codec.ControlFrame(codec.OpPong, ""))
	}
	return nil
}

func (c *natsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	nc := c.nc
	c.mu.Unlock()

	if nc != nil {
		nc.Close()
	}
	return nil
}

func (c *natsConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
