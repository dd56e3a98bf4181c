package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"MarketHub/internal/domain/models"
	domrepo "MarketHub/internal/domain/repository"
	"MarketHub/internal/service/ratelimit"
	"MarketHub/pkg/logger"
)

// ErrBufferFull is returned by Consume when the pipeline cannot take more items.
var ErrBufferFull = errors.New("sink buffer full")

// Sink writes batches to a downstream system.
type Sink[T any] interface {
	Name() string
	Write(ctx context.Context, batch []T) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc[T any] struct {
	Label string
	Fn    func(ctx context.Context, batch []T) error
}

func (f SinkFunc[T]) Name() string                               { return f.Label }
func (f SinkFunc[T]) Write(ctx context.Context, batch []T) error { return f.Fn(ctx, batch) }

// SinkPipeline sits between the hub loop and a slow downstream. Consume validates,
// throttles per key and enqueues without blocking; a background worker writes batches
// and retries failed ones with capped exponential backoff.
type SinkPipeline[T any] struct {
	sink     Sink[T]
	metrics  domrepo.Metrics
	logger   *logger.Logger
	limiter  *ratelimit.Limiter
	key      func(T) string
	validate func(T) error
	filter   func(T) bool

	bufCh      chan T
	batchSize  int
	flushEvery time.Duration
	maxRetries int
	backoffMin time.Duration
	backoffMax time.Duration

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	done    chan struct{}
}

type config struct {
	maxRPS     int
	bufSize    int
	batchSize  int
	flushEvery time.Duration
	maxRetries int
	backoffMin time.Duration
	backoffMax time.Duration
}

// PipelineOption configures a SinkPipeline.
type PipelineOption func(*config)

// WithMaxRPS sets the max items per second per key. 0 disables throttling.
func WithMaxRPS(n int) PipelineOption {
	return func(c *config) {
		if n >= 0 {
			c.maxRPS = n
		}
	}
}

// WithBufferSize sets the number of items held while downstream is slow or unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(c *config) {
		if n > 0 {
			c.bufSize = n
		}
	}
}

// WithBatch sets the maximum batch size and how long a partial batch may wait.
func WithBatch(size int, flush time.Duration) PipelineOption {
	return func(c *config) {
		if size > 0 {
			c.batchSize = size
		}
		if flush > 0 {
			c.flushEvery = flush
		}
	}
}

// WithRetry sets retry attempts per batch and the backoff range.
func WithRetry(retries int, lo, hi time.Duration) PipelineOption {
	return func(c *config) {
		if retries >= 0 {
			c.maxRetries = retries
		}
		if lo > 0 {
			c.backoffMin = lo
		}
		if hi > 0 {
			c.backoffMax = hi
		}
	}
}

// NewSinkPipeline creates a pipeline for sink. key groups items for throttling;
// validate may be nil.
func NewSinkPipeline[T any](sink Sink[T], key func(T) string, validate func(T) error, metrics domrepo.Metrics, l *logger.Logger, opts ...PipelineOption) *SinkPipeline[T] {
	cfg := config{
		maxRPS:     20,
		bufSize:    1000,
		batchSize:  100,
		flushEvery: time.Second,
		maxRetries: 3,
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if metrics == nil {
		metrics = domrepo.NoopMetrics{}
	}
	if l == nil {
		l = logger.Nop()
	}
	return &SinkPipeline[T]{
		sink:       sink,
		metrics:    metrics,
		logger:     l.With("sink", sink.Name()),
		limiter:    ratelimit.New(float64(cfg.maxRPS), float64(cfg.maxRPS)),
		key:        key,
		validate:   validate,
		bufCh:      make(chan T, cfg.bufSize),
		batchSize:  cfg.batchSize,
		flushEvery: cfg.flushEvery,
		maxRetries: cfg.maxRetries,
		backoffMin: cfg.backoffMin,
		backoffMax: cfg.backoffMax,
	}
}

// WithFilter drops items for which keep returns false before throttling.
func (p *SinkPipeline[T]) WithFilter(keep func(T) bool) *SinkPipeline[T] {
	p.filter = keep
	return p
}

// Name returns the sink name.
func (p *SinkPipeline[T]) Name() string { return p.sink.Name() }

// Consume validates, throttles and enqueues item. It never blocks.
func (p *SinkPipeline[T]) Consume(item T) error {
	if p.validate != nil {
		if err := p.validate(item); err != nil {
			p.metrics.RecordError("pipeline_validate")
			return fmt.Errorf("%s: %w", p.sink.Name(), err)
		}
	}
	if p.filter != nil && !p.filter(item) {
		return nil
	}
	if p.key != nil && !p.limiter.Allow(p.key(item)) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}
	select {
	case p.bufCh <- item:
		return nil
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		return fmt.Errorf("%s: %w", p.sink.Name(), ErrBufferFull)
	}
}

// OnMessage adapts Consume to a hub subscriber callback.
func (p *SinkPipeline[T]) OnMessage(_ context.Context, item T) error {
	return p.Consume(item)
}

// Pending returns the number of queued items.
func (p *SinkPipeline[T]) Pending() int { return len(p.bufCh) }

// Start launches the background writer. It is a no-op when already started.
func (p *SinkPipeline[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(ctx, p.stopCh, p.done)
}

// Stop stops the writer after flushing what is queued, bounded by ctx.
func (p *SinkPipeline[T]) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	close(p.stopCh)
	done := p.done
	p.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *SinkPipeline[T]) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.flushEvery)
	defer ticker.Stop()

	batch := make([]T, 0, p.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.write(ctx, stop, batch)
		batch = make([]T, 0, p.batchSize)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			for {
				select {
				case item := <-p.bufCh:
					batch = append(batch, item)
					if len(batch) >= p.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		case item := <-p.bufCh:
			batch = append(batch, item)
			if len(batch) >= p.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (p *SinkPipeline[T]) write(ctx context.Context, stop <-chan struct{}, batch []T) {
	backoff := p.backoffMin
	for attempt := 0; ; attempt++ {
		start := time.Now()
		err := p.sink.Write(ctx, batch)
		if err == nil {
			p.metrics.RecordLatency("sink_"+p.sink.Name(), time.Since(start).Seconds())
			return
		}
		p.metrics.RecordError("pipeline_flush")
		if attempt >= p.maxRetries || ctx.Err() != nil {
			p.metrics.RecordError("pipeline_batch_drop")
			p.logger.Error("sink batch dropped",
				logger.Int("items", len(batch)),
				logger.Int("attempts", attempt+1),
				logger.Error(err),
			)
			return
		}
		p.logger.Warn("sink write failed, retrying",
			logger.Int("attempt", attempt+1),
			logger.Duration("backoff", backoff),
			logger.Error(err),
		)

		t := time.NewTimer(backoff)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		case <-stop:
			// keep retrying during the final drain, without waiting
			t.Stop()
		}
		if backoff < p.backoffMax {
			backoff *= 2
			if backoff > p.backoffMax {
				backoff = p.backoffMax
			}
		}
	}
}

// MessageKey throttles messages per feed and channel.
func MessageKey(m models.Message) string { return m.Feed + "/" + m.Channel }

// SnapshotKey throttles snapshots per symbol.
func SnapshotKey(s models.Snapshot) string { return s.Symbol }

// ValidateMessage rejects messages a sink cannot store.
func ValidateMessage(m models.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.Timestamp.IsZero() && m.ReceivedAt.IsZero() {
		return fmt.Errorf("timestamp invalid")
	}
	return nil
}

// ValidateSnapshot rejects snapshots without a symbol or with a negative price.
func ValidateSnapshot(s models.Snapshot) error {
	if s.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if s.Price < 0 || s.Volume < 0 {
		return fmt.Errorf("negative price/volume")
	}
	return nil
}
