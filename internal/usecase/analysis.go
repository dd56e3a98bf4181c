package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"MarketHub/internal/domain/models"
	domsvc "MarketHub/internal/domain/service"
	"MarketHub/internal/hub"
	imetrics "MarketHub/internal/service/metrics"
	"MarketHub/pkg/logger"
)

// ErrNoSnapshot is returned when a symbol has not been seen on any feed yet.
var ErrNoSnapshot = errors.New("no snapshot for symbol")

// SnapshotSource reads merged snapshots.
type SnapshotSource interface {
	Snapshot(symbol string) (models.Snapshot, bool)
	Snapshots() []models.Snapshot
}

// MessagePublisher routes a locally produced message through the hub.
type MessagePublisher interface {
	Publish(msg models.Message) error
}

// AnalysisService runs every analyzer over the tracked symbols on a timer and on
// demand. Results are kept per symbol and published as analysis messages on the
// analytics feed, so subscribers receive them like any other update.
type AnalysisService struct {
	analyzers []domsvc.Analyzer
	source    SnapshotSource
	publisher MessagePublisher
	metrics   *imetrics.Analytics
	logger    *logger.Logger

	interval time.Duration
	timeout  time.Duration
	symbols  []string // empty: every symbol with a snapshot

	mu     sync.RWMutex
	latest map[string]map[string]models.Recommendation
	stop   chan struct{}
	done   chan struct{}
}

func NewAnalysisService(source SnapshotSource, publisher MessagePublisher, analyzers []domsvc.Analyzer,
	interval, timeout time.Duration, symbols []string, m *imetrics.Analytics, l *logger.Logger) *AnalysisService {
	if l == nil {
		l = logger.Nop()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &AnalysisService{
		analyzers: analyzers,
		source:    source,
		publisher: publisher,
		metrics:   m,
		logger:    l.With("component", "analysis"),
		interval:  interval,
		timeout:   timeout,
		symbols:   append([]string(nil), symbols...),
		latest:    make(map[string]map[string]models.Recommendation),
	}
}

// Start runs RunOnce every interval until ctx ends or Stop is called. interval <= 0
// leaves the service on-demand only.
func (s *AnalysisService) Start(ctx context.Context) {
	if s.interval <= 0 || s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-t.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop ends the timer loop and waits for a running pass to finish.
func (s *AnalysisService) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
}

// RunOnce analyzes every tracked symbol that has a snapshot and returns the number of
// recommendations produced.
func (s *AnalysisService) RunOnce(ctx context.Context) int {
	n := 0
	for _, sym := range s.tracked() {
		recs, err := s.Analyze(ctx, sym)
		if err != nil && !errors.Is(err, ErrNoSnapshot) {
			s.logger.Debug("analysis pass incomplete", logger.String("symbol", sym), logger.Error(err))
		}
		n += len(recs)
	}
	return n
}

// Analyze runs every analyzer on symbol now. Analyzer failures are logged and skipped;
// an error is returned only when no analyzer produced a result.
func (s *AnalysisService) Analyze(ctx context.Context, symbol string) ([]models.Recommendation, error) {
	snap, ok := s.source.Snapshot(symbol)
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoSnapshot)
	}

	var (
		out   []models.Recommendation
		first error
	)
	for _, a := range s.analyzers {
		actx, cancel := context.WithTimeout(ctx, s.timeout)
		start := time.Now()
		rec, err := a.Analyze(actx, symbol, snap.Clone())
		cancel()
		s.metrics.Observe(a.Name(), time.Since(start), err)
		if err != nil {
			s.logger.Warn("analyzer failed",
				logger.String("analyzer", a.Name()),
				logger.String("symbol", symbol),
				logger.Error(err),
			)
			if first == nil {
				first = err
			}
			continue
		}
		rec.Symbol, rec.Analyzer = symbol, a.Name()
		s.store(rec)
		s.publish(rec)
		out = append(out, rec)
	}
	if len(out) == 0 && first != nil {
		return nil, first
	}
	return out, nil
}

// Latest returns the most recent recommendation of each analyzer for symbol, sorted
// by analyzer name.
func (s *AnalysisService) Latest(symbol string) []models.Recommendation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byAnalyzer := s.latest[symbol]
	out := make([]models.Recommendation, 0, len(byAnalyzer))
	for _, r := range byAnalyzer {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Analyzer < out[j].Analyzer })
	return out
}

func (s *AnalysisService) tracked() []string {
	if len(s.symbols) > 0 {
		return s.symbols
	}
	snaps := s.source.Snapshots()
	out := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, snap.Symbol)
	}
	return out
}

func (s *AnalysisService) store(rec models.Recommendation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.latest[rec.Symbol]
	if !ok {
		m = make(map[string]models.Recommendation)
		s.latest[rec.Symbol] = m
	}
	m[rec.Analyzer] = rec
}

func (s *AnalysisService) publish(rec models.Recommendation) {
	if s.publisher == nil {
		return
	}
	msg := models.Message{
		Feed:      hub.AnalyticsFeed,
		Channel:   rec.Symbol,
		Kind:      models.KindAnalysis,
		Payload:   rec,
		Timestamp: rec.At,
	}
	if err := s.publisher.Publish(msg); err != nil {
		s.logger.Warn("publish analysis failed", logger.String("symbol", rec.Symbol), logger.Error(err))
	}
}
