package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"MarketHub/internal/domain/repository"
	"MarketHub/pkg/logger"
	"MarketHub/pkg/util"

	"github.com/gorilla/websocket"
)

// WebSocket dials ws:// and wss:// endpoints.
type WebSocket struct {
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	logger       *logger.Logger
}

func NewWebSocket(handshakeTimeout, writeTimeout time.Duration, l *logger.Logger) *WebSocket {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &WebSocket{
		dialer:       &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		writeTimeout: writeTimeout,
		logger:       l,
	}
}

// Open dials in the background and reports the outcome through h.
func (w *WebSocket) Open(ctx context.Context, endpoint string, h repository.TransportHandler) (repository.Transport, error) {
	ctx, cancel := context.WithCancel(ctx)
	c := &wsConn{endpoint: endpoint, cancel: cancel, writeTimeout: w.writeTimeout, logger: w.logger}
	go c.run(ctx, w.dialer, h)
	return c, nil
}

type wsConn struct {
	endpoint     string
	writeTimeout time.Duration
	logger       *logger.Logger
	cancel       context.CancelFunc

	mu     sync.Mutex // guards conn, closed and writes
	conn   *websocket.Conn
	closed bool
}

func (c *wsConn) run(ctx context.Context, dialer *websocket.Dialer, h repository.TransportHandler) {
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		if !c.isClosed() {
			h.OnError(fmt.Errorf("dial %s: %w", util.MaskSecrets(c.endpoint), err))
		}
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Debug("websocket connected", logger.String("endpoint", util.MaskSecrets(c.endpoint)))
	h.OnOpen()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.OnClose()
				return
			}
			h.OnError(fmt.Errorf("websocket read: %w", err))
			return
		}
		h.OnMessage(b)
	}
}

func (c *wsConn) Send(raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("websocket closed")
	}
	if c.conn == nil {
		return errors.New("websocket not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *wsConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
