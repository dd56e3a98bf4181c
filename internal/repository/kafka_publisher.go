package repository

import (
	"context"
	"fmt"

	"MarketHub/internal/domain/models"
	"MarketHub/internal/domain/repository"
	pkgkafka "MarketHub/pkg/kafka"
)

type producer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaPublisher implements Publisher for Kafka. Messages are keyed by channel so a
// hash balancer keeps per-symbol order.
type KafkaPublisher struct {
	producer   producer
	topic      string
	eventTopic string
	metrics    repository.Metrics
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(p producer, topic, eventTopic string, m repository.Metrics) *KafkaPublisher {
	if m == nil {
		m = repository.NoopMetrics{}
	}
	return &KafkaPublisher{producer: p, topic: topic, eventTopic: eventTopic, metrics: m}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) Publish(ctx context.Context, m models.Message) error {
	return p.PublishBatch(ctx, []models.Message{m})
}

func (p *KafkaPublisher) PublishBatch(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]pkgkafka.Message, 0, len(msgs))
	for _, m := range msgs {
		r, err := toRecord(m)
		if err != nil {
			return err
		}
		out = append(out, pkgkafka.Message{Key: []byte(m.Channel), Value: r})
	}
	if err := p.producer.PublishBatch(ctx, p.topic, out); err != nil {
		return fmt.Errorf("kafka publish %d messages: %w", len(msgs), err)
	}
	for _, m := range msgs {
		p.metrics.RecordMessageSent("kafka", m.Channel)
	}
	return nil
}

type eventRecord struct {
	Name    string `json:"name"`
	At      int64  `json:"at"`
	Message record `json:"message"`
}

func (p *KafkaPublisher) PublishEvent(ctx context.Context, ev models.Event) error {
	if p.eventTopic == "" {
		return nil
	}
	r, err := toRecord(ev.Message)
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, p.eventTopic, []byte(ev.Channel), eventRecord{
		Name:    ev.Name,
		At:      ev.At.UnixMilli(),
		Message: r,
	})
}

// Write implements the sink interface used by the pipeline.
func (p *KafkaPublisher) Write(ctx context.Context, batch []models.Message) error {
	return p.PublishBatch(ctx, batch)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
