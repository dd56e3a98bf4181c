package hub

import (
	"context"
	"fmt"
	"time"

	"MarketHub/internal/domain/models"
	"MarketHub/internal/domain/repository"
	"MarketHub/pkg/logger"
)

// AnalyticsFeed is the internal feed analysis results are published on.
const AnalyticsFeed = models.AnalyticsFeed

const DefaultBufferCleanInterval = 30 * time.Second

// Hub ties the event loop, registry, subscription table, router, snapshot store and
// health monitor together.
type Hub struct {
	loop      *Loop
	table     *SubscriptionTable
	snapshots *SnapshotStore
	router    *Router
	registry  *Registry
	health    *HealthMonitor

	ctx           context.Context
	cancel        context.CancelFunc
	cleanInterval time.Duration
	cleaner       *Timer
	now           func() time.Time
	logger        *logger.Logger
}

type options struct {
	logger          *logger.Logger
	metrics         repository.Metrics
	sink            repository.EventSink
	now             func() time.Time
	health          HealthConfig
	cleanInterval   time.Duration
	snapshotHistory int
}

// Option configures a Hub.
type Option func(*options)

func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m repository.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithEventSink sets where handler-derived events go.
func WithEventSink(s repository.EventSink) Option {
	return func(o *options) { o.sink = s }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithHealth(cfg HealthConfig) Option {
	return func(o *options) { o.health = cfg }
}

func WithBufferCleanInterval(d time.Duration) Option {
	return func(o *options) { o.cleanInterval = d }
}

func WithSnapshotHistory(n int) Option {
	return func(o *options) { o.snapshotHistory = n }
}

// New builds a hub. Feeds open transports through provider and resolve codecs by name
// through codecs. Nothing runs until Run is called; feeds started before that connect
// once the loop starts.
func New(provider repository.TransportProvider, codecs CodecResolver, opts ...Option) *Hub {
	o := options{
		logger:        logger.Nop(),
		metrics:       repository.NoopMetrics{},
		now:           time.Now,
		cleanInterval: DefaultBufferCleanInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop()
	table := NewSubscriptionTable(o.logger, o.metrics)
	snapshots := NewSnapshotStore(o.snapshotHistory)
	router := NewRouter(table, snapshots, o.sink, o.logger, o.metrics)
	registry := NewRegistry(ctx, loop, provider, codecs, table, router, o.now, o.logger, o.metrics)
	table.SetWireSender(registry)

	router.AddFeed(models.FeedConfig{
		Name:  AnalyticsFeed,
		Kinds: []models.Kind{models.KindAnalysis},
	}, nil)

	return &Hub{
		loop:          loop,
		table:         table,
		snapshots:     snapshots,
		router:        router,
		registry:      registry,
		health:        NewHealthMonitor(o.health, registry, loop, o.now, o.logger),
		ctx:           ctx,
		cancel:        cancel,
		cleanInterval: o.cleanInterval,
		now:           o.now,
		logger:        o.logger,
	}
}

// Run starts health monitoring and buffer cleaning, then processes events until ctx
// is done. On return every feed is stopped.
func (h *Hub) Run(ctx context.Context) {
	h.health.Start()
	h.cleaner = h.loop.Every(h.cleanInterval, func() { h.router.Clean(h.now()) })
	h.logger.Info("hub running", logger.Int("feeds", len(h.registry.Names())))

	h.loop.Run(ctx)

	h.Shutdown()
}

// Shutdown stops timers and feeds. It is safe to call more than once.
func (h *Hub) Shutdown() {
	h.health.Stop()
	h.cleaner.Stop()
	h.registry.Shutdown()
	h.cancel()
}

// StartFeed registers and connects a feed.
func (h *Hub) StartFeed(cfg models.FeedConfig) error { return h.registry.Start(cfg) }

// StopFeed disconnects and removes a feed.
func (h *Hub) StopFeed(name string) error { return h.registry.Stop(name) }

// RestartFeed reconnects a feed with a fresh attempt budget.
func (h *Hub) RestartFeed(name string) error { return h.registry.Restart(name) }

func (h *Hub) Status(name string) (models.FeedStatus, error) { return h.registry.Status(name) }

func (h *Hub) StatusAll() map[string]models.FeedStatus { return h.registry.StatusAll() }

func (h *Hub) FeedConfig(name string) (models.FeedConfig, error) { return h.registry.Config(name) }

// Watch registers fn for feed state transitions.
func (h *Hub) Watch(fn StateListener) { h.registry.Watch(fn) }

// Subscribe registers cb for messages on (feed, channel). The feed need not be
// started yet; the wire subscription is sent once it opens.
func (h *Hub) Subscribe(feed, channel string, cb Callback) (*Subscription, error) {
	return h.table.Subscribe(feed, channel, cb)
}

// SetHandler replaces the event handler of a feed.
func (h *Hub) SetHandler(feed string, fn Handler) { h.router.SetHandler(feed, fn) }

// Buffer returns up to limit of the feed's most recent messages, oldest first.
func (h *Hub) Buffer(feed string, limit int) ([]models.Message, error) {
	return h.router.Buffer(feed, limit)
}

func (h *Hub) Snapshot(symbol string) (models.Snapshot, bool) { return h.snapshots.Get(symbol) }

func (h *Hub) Snapshots() []models.Snapshot { return h.snapshots.All() }

// OnSnapshot registers fn for every snapshot update. fn runs on the loop and must not block.
func (h *Hub) OnSnapshot(fn func(models.Snapshot)) { h.snapshots.OnUpdate(fn) }

// Publish routes an already decoded message, such as an analysis result, through
// the loop. It never blocks.
func (h *Hub) Publish(msg models.Message) error {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = h.now()
	}
	if !h.loop.Post(func() { _ = h.router.Route(h.ctx, msg) }) {
		return fmt.Errorf("publish %s: %w", msg.Feed, ErrLoopClosed)
	}
	return nil
}

func (h *Hub) Loop() *Loop            { return h.loop }
func (h *Hub) Health() *HealthMonitor { return h.health }
