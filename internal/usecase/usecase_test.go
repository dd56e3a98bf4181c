package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"MarketHub/internal/domain/models"
	domsvc "MarketHub/internal/domain/service"
	"MarketHub/internal/hub"
	"MarketHub/internal/middleware"
	"MarketHub/internal/services/analytics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshots map[string]models.Snapshot

func (s snapshots) Snapshot(sym string) (models.Snapshot, bool) {
	snap, ok := s[sym]
	return snap, ok
}

func (s snapshots) Snapshots() []models.Snapshot {
	out := make([]models.Snapshot, 0, len(s))
	for _, snap := range s {
		out = append(out, snap)
	}
	return out
}

type memPublisher struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (p *memPublisher) Publish(m models.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, m)
	return nil
}

type failingAnalyzer struct{}

func (failingAnalyzer) Name() string { return "broken" }

func (failingAnalyzer) Analyze(context.Context, string, models.Snapshot) (models.Recommendation, error) {
	return models.Recommendation{}, errors.New("model offline")
}

func TestAnalysisService_AnalyzePublishesAndKeepsLatest(t *testing.T) {
	src := snapshots{"BTCUSDT": {Symbol: "BTCUSDT", Price: 42000, ChangePct: 2}}
	pub := &memPublisher{}
	svc := NewAnalysisService(src, pub, []domsvc.Analyzer{analytics.NewMomentumAnalyzer(1.5, -1.5), failingAnalyzer{}}, 0, time.Second, nil, nil, nil)

	recs, err := svc.Analyze(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.RecommendBuy, recs[0].Recommendation)

	require.Len(t, pub.msgs, 1)
	m := pub.msgs[0]
	assert.Equal(t, hub.AnalyticsFeed, m.Feed)
	assert.Equal(t, "BTCUSDT", m.Channel)
	assert.Equal(t, models.KindAnalysis, m.Kind)
	assert.NoError(t, m.Validate())

	latest := svc.Latest("BTCUSDT")
	require.Len(t, latest, 1)
	assert.Equal(t, "momentum", latest[0].Analyzer)
	assert.Empty(t, svc.Latest("ETHUSDT"))
}

func TestAnalysisService_Errors(t *testing.T) {
	src := snapshots{"X": {Symbol: "X", Price: 1}}
	svc := NewAnalysisService(src, nil, []domsvc.Analyzer{failingAnalyzer{}}, 0, 0, nil, nil, nil)

	_, err := svc.Analyze(context.Background(), "MISSING")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, err = svc.Analyze(context.Background(), "X")
	assert.ErrorContains(t, err, "model offline")
}

func TestAnalysisService_RunOnceTrackedSymbols(t *testing.T) {
	src := snapshots{
		"A": {Symbol: "A", Price: 1},
		"B": {Symbol: "B", Price: 2, ChangePct: -3},
	}
	pub := &memPublisher{}
	all := NewAnalysisService(src, pub, []domsvc.Analyzer{analytics.NewMomentumAnalyzer(1.5, -1.5)}, 0, 0, nil, nil, nil)
	assert.Equal(t, 2, all.RunOnce(context.Background()))

	some := NewAnalysisService(src, pub, []domsvc.Analyzer{analytics.NewMomentumAnalyzer(1.5, -1.5)}, 0, 0, []string{"B", "C"}, nil, nil)
	assert.Equal(t, 1, some.RunOnce(context.Background()))
	assert.Equal(t, models.RecommendSell, some.Latest("B")[0].Recommendation)
}

func TestAnalysisService_Timer(t *testing.T) {
	src := snapshots{"A": {Symbol: "A", Price: 1}}
	pub := &memPublisher{}
	svc := NewAnalysisService(src, pub, []domsvc.Analyzer{analytics.NewMomentumAnalyzer(1.5, -1.5)}, 5*time.Millisecond, 0, nil, nil, nil)

	svc.Start(context.Background())
	require.Eventually(t, func() bool { return len(svc.Latest("A")) == 1 }, 2*time.Second, 5*time.Millisecond)
	svc.Stop()
	svc.Stop()
}

func TestSinkBinder_BindAndUnbind(t *testing.T) {
	table := hub.NewSubscriptionTable(nil, nil)
	b := NewSinkBinder(table, nil)

	var got []string
	cb := func(_ context.Context, m models.Message) error {
		got = append(got, m.Feed+"/"+m.Channel)
		return nil
	}
	feeds := []models.FeedConfig{
		{Name: "crypto", DefaultChannels: []string{"BTCUSDT", "ETHUSDT"}},
		{Name: "stocks", DefaultChannels: []string{"AAPL"}},
	}
	require.NoError(t, b.Bind(feeds, []string{"BTCUSDT"}, cb))
	assert.Equal(t, 4, b.Count())
	assert.Equal(t, 1, table.Count(hub.AnalyticsFeed, "BTCUSDT"))

	table.Notify(context.Background(), models.Message{Feed: "stocks", Channel: "AAPL"})
	assert.Equal(t, []string{"stocks/AAPL"}, got)

	b.Unbind()
	assert.Zero(t, b.Count())
	assert.Zero(t, table.FeedCount("crypto"))
}

func TestSinkBinder_RollsBackOnError(t *testing.T) {
	table := hub.NewSubscriptionTable(nil, nil)
	b := NewSinkBinder(table, nil)
	cb := func(context.Context, models.Message) error { return nil }

	err := b.Bind([]models.FeedConfig{{Name: "crypto", DefaultChannels: []string{"BTCUSDT", ""}}}, nil, cb)
	require.Error(t, err)
	assert.Zero(t, table.FeedCount("crypto"))
}

type memEvents struct {
	mu  sync.Mutex
	evs []models.Event
}

func (m *memEvents) PublishEvent(_ context.Context, ev models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evs = append(m.evs, ev)
	return nil
}

func TestEventForwarder(t *testing.T) {
	dst := &memEvents{}
	pipe := middleware.NewSinkPipeline[models.Event](EventSink("events", dst), EventKey, nil, nil, nil, middleware.WithMaxRPS(0))
	fwd := NewEventForwarder(pipe, nil)

	pipe.Start(context.Background())
	fwd.Emit(models.Event{Name: models.EventPriceUpdated, Feed: "crypto", Channel: "BTCUSDT"})
	fwd.Emit(models.Event{Name: models.EventTradeExecuted, Feed: "crypto", Channel: "BTCUSDT"})
	require.NoError(t, pipe.Stop(context.Background()))

	assert.Len(t, dst.evs, 2)
}
