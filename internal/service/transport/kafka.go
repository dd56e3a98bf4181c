package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"MarketHub/internal/domain/repository"
	"MarketHub/pkg/logger"
	"MarketHub/pkg/util"

	"github.com/segmentio/kafka-go"
)

// Kafka consumes a topic as a feed. Endpoint form:
//
//	kafka://broker1:9092,broker2:9092/topic?group=markethub
//
// Every record value is one raw frame. Subscribe frames are accepted and ignored:
// the topic carries all channels and the hub filters by subscription.
type Kafka struct {
	logger *logger.Logger
}

func NewKafka(l *logger.Logger) *Kafka { return &Kafka{logger: l} }

func (k *Kafka) Open(ctx context.Context, endpoint string, h repository.TransportHandler) (repository.Transport, error) {
	cfg, err := kafkaReaderConfig(endpoint)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &kafkaConn{reader: kafka.NewReader(cfg), cancel: cancel}
	k.logger.Debug("kafka reader created",
		logger.Strings("brokers", cfg.Brokers),
		logger.String("topic", cfg.Topic),
		logger.String("group", cfg.GroupID),
	)
	go c.run(ctx, h)
	return c, nil
}

func kafkaReaderConfig(endpoint string) (kafka.ReaderConfig, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return kafka.ReaderConfig{}, fmt.Errorf("kafka endpoint: %w", err)
	}
	brokers := util.SplitList(u.Host)
	topic := strings.Trim(u.Path, "/")
	if len(brokers) == 0 || topic == "" {
		return kafka.ReaderConfig{}, fmt.Errorf("kafka endpoint %q: need brokers and topic", endpoint)
	}
	group := u.Query().Get("group")
	if group == "" {
		group = "markethub-" + topic
	}
	return kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6,
	}, nil
}

type kafkaConn struct {
	reader *kafka.Reader
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func (c *kafkaConn) run(ctx context.Context, h repository.TransportHandler) {
	h.OnOpen()
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if c.isClosed() || errors.Is(err, context.Canceled) {
				return
			}
			h.OnError(fmt.Errorf("kafka read: %w", err))
			return
		}
		h.OnMessage(m.Value)
	}
}

func (c *kafkaConn) Send([]byte) error { return nil }

func (c *kafkaConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	return c.reader.Close()
}

func (c *kafkaConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
