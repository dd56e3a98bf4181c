package usecase

import (
	"context"
	"fmt"

	"MarketHub/internal/domain/models"
	"MarketHub/internal/hub"
	"MarketHub/internal/middleware"
	"MarketHub/pkg/logger"
)

// Subscriber registers callbacks on (feed, channel) pairs.
type Subscriber interface {
	Subscribe(feed, channel string, cb hub.Callback) (*hub.Subscription, error)
}

// SinkBinder subscribes message consumers (pipelines, recorders) to a fixed set of
// feed channels and releases them together.
type SinkBinder struct {
	hub    Subscriber
	logger *logger.Logger
	subs   []*hub.Subscription
}

func NewSinkBinder(h Subscriber, l *logger.Logger) *SinkBinder {
	if l == nil {
		l = logger.Nop()
	}
	return &SinkBinder{hub: h, logger: l}
}

// Bind subscribes every consumer to each default channel of each feed, and to the
// given analytics symbols. On error the subscriptions made by this call are released.
func (b *SinkBinder) Bind(feeds []models.FeedConfig, analyticsSymbols []string, consumers ...hub.Callback) error {
	pairs := make([][2]string, 0)
	for _, f := range feeds {
		for _, ch := range f.DefaultChannels {
			pairs = append(pairs, [2]string{f.Name, ch})
		}
	}
	for _, sym := range analyticsSymbols {
		pairs = append(pairs, [2]string{hub.AnalyticsFeed, sym})
	}

	start := len(b.subs)
	for _, cb := range consumers {
		for _, p := range pairs {
			sub, err := b.hub.Subscribe(p[0], p[1], cb)
			if err != nil {
				for _, s := range b.subs[start:] {
					s.Unsubscribe()
				}
				b.subs = b.subs[:start]
				return fmt.Errorf("bind %s/%s: %w", p[0], p[1], err)
			}
			b.subs = append(b.subs, sub)
		}
	}
	b.logger.Info("sinks bound", logger.Int("consumers", len(consumers)), logger.Int("channels", len(pairs)))
	return nil
}

// Unbind releases every subscription made by Bind.
func (b *SinkBinder) Unbind() {
	for _, s := range b.subs {
		s.Unsubscribe()
	}
	b.subs = nil
}

// Count returns the number of live subscriptions.
func (b *SinkBinder) Count() int { return len(b.subs) }

// EventForwarder implements repository.EventSink by queueing events on a pipeline.
type EventForwarder struct {
	pipe   *middleware.SinkPipeline[models.Event]
	logger *logger.Logger
}

func NewEventForwarder(pipe *middleware.SinkPipeline[models.Event], l *logger.Logger) *EventForwarder {
	if l == nil {
		l = logger.Nop()
	}
	return &EventForwarder{pipe: pipe, logger: l}
}

func (f *EventForwarder) Emit(ev models.Event) {
	if err := f.pipe.Consume(ev); err != nil {
		f.logger.Debug("event dropped", logger.String("event", ev.Name), logger.Error(err))
	}
}

// EventKey throttles events per name and channel.
func EventKey(ev models.Event) string { return ev.Name + "/" + ev.Feed + "/" + ev.Channel }

// EventPublisher publishes events one by one.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev models.Event) error
}

// EventSink adapts an EventPublisher to a pipeline sink.
func EventSink(name string, p EventPublisher) middleware.Sink[models.Event] {
	return middleware.SinkFunc[models.Event]{
		Label: name,
		Fn: func(ctx context.Context, batch []models.Event) error {
			for _, ev := range batch {
				if err := p.PublishEvent(ctx, ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
