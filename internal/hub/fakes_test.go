package hub

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"MarketHub/internal/domain/models"
	"MarketHub/internal/domain/repository"
)

// lineCodec decodes "CHANNEL:PRICE" payloads, several joined by ';', and writes
// "sub:CH", "unsub:CH" and "ping" control frames. Bad parts are skipped and reported.
type lineCodec struct{}

func (lineCodec) Name() string { return "line" }

func (lineCodec) Decode(feed string, raw []byte, receivedAt time.Time) ([]models.Message, error) {
	s := string(raw)
	if s == "pong" {
		return nil, nil
	}
	var out []models.Message
	var errs []error
	for _, part := range strings.Split(s, ";") {
		ch, v, ok := strings.Cut(part, ":")
		if !ok {
			errs = append(errs, fmt.Errorf("malformed payload %q", part))
			continue
		}
		price, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, models.Message{
			Feed:       feed,
			Channel:    ch,
			Kind:       models.KindPrice,
			Payload:    models.Price{Price: price},
			Timestamp:  receivedAt,
			ReceivedAt: receivedAt,
		})
	}
	return out, errors.Join(errs...)
}

func (lineCodec) SubscribeFrame(ch string) ([]byte, error)   { return []byte("sub:" + ch), nil }
func (lineCodec) UnsubscribeFrame(ch string) ([]byte, error) { return []byte("unsub:" + ch), nil }
func (lineCodec) HeartbeatFrame() ([]byte, error)            { return []byte("ping"), nil }

func lineCodecs(name string) (repository.Codec, error) {
	if name == "" || name == "line" {
		return lineCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

type fakeTransport struct {
	mu     sync.Mutex
	sent   []string
	closed bool
}

func (t *fakeTransport) Send(raw []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("closed")
	}
	t.sent = append(t.sent, string(raw))
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

func (t *fakeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// fakeProvider opens in-memory transports. With fail set every Open fails synchronously;
// with autoOpen set every transport reports open immediately.
type fakeProvider struct {
	mu         sync.Mutex
	fail       bool
	autoOpen   bool
	opens      int
	handlers   []repository.TransportHandler
	transports []*fakeTransport
}

func (p *fakeProvider) Open(_ context.Context, _ string, h repository.TransportHandler) (repository.Transport, error) {
	p.mu.Lock()
	p.opens++
	if p.fail {
		p.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	t := &fakeTransport{}
	p.handlers = append(p.handlers, h)
	p.transports = append(p.transports, t)
	auto := p.autoOpen
	p.mu.Unlock()

	if auto {
		h.OnOpen()
	}
	return t, nil
}

func (p *fakeProvider) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

func (p *fakeProvider) SetFail(fail bool) {
	p.mu.Lock()
	p.fail = fail
	p.mu.Unlock()
}

func (p *fakeProvider) Last() (repository.TransportHandler, *fakeTransport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.handlers) == 0 {
		return nil, nil
	}
	return p.handlers[len(p.handlers)-1], p.transports[len(p.transports)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *recordingSink) Emit(ev models.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) Events() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Event(nil), s.events...)
}

// recordingWire counts wire actions per channel.
type recordingWire struct {
	mu    sync.Mutex
	subs  map[string]int
	unsub map[string]int
}

func newRecordingWire() *recordingWire {
	return &recordingWire{subs: map[string]int{}, unsub: map[string]int{}}
}

func (w *recordingWire) SendSubscribe(feed, channel string) {
	w.mu.Lock()
	w.subs[feed+"/"+channel]++
	w.mu.Unlock()
}

func (w *recordingWire) SendUnsubscribe(feed, channel string) {
	w.mu.Lock()
	w.unsub[feed+"/"+channel]++
	w.mu.Unlock()
}

func (w *recordingWire) counts(key string) (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.subs[key], w.unsub[key]
}

func priceMsg(feed, channel string, price float64, at time.Time) models.Message {
	return models.Message{
		Feed:       feed,
		Channel:    channel,
		Kind:       models.KindPrice,
		Payload:    models.Price{Price: price},
		Timestamp:  at,
		ReceivedAt: at,
	}
}

func testFeed(name string) models.FeedConfig {
	return models.FeedConfig{
		Name:                 name,
		Endpoint:             "mem://" + name,
		Transport:            "mem",
		Codec:                "line",
		MaxReconnectAttempts: 3,
	}
}

func newTestHub(p *fakeProvider, opts ...Option) *Hub {
	return New(p, lineCodecs, opts...)
}

// countingMetrics counts RecordError calls by kind.
type countingMetrics struct {
	repository.NoopMetrics
	mu     sync.Mutex
	errors map[string]int
}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors == nil {
		m.errors = map[string]int{}
	}
	m.errors[kind]++
}

func (m *countingMetrics) Errors(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}
