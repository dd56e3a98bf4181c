package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"MarketHub/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_FailsAfterMaxAttempts(t *testing.T) {
	p := &fakeProvider{fail: true}
	h := newTestHub(p)

	require.NoError(t, h.StartFeed(testFeed("market")))
	h.Loop().RunPending()

	st, err := h.Status("market")
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, st.State)
	assert.Equal(t, 3, st.Attempts)
	assert.False(t, st.Healthy)
	assert.Contains(t, st.LastError, "connection refused")
	assert.Equal(t, 4, p.Opens(), "initial open plus three retries")

	h.Loop().RunPending()
	assert.Equal(t, 4, p.Opens(), "failed feed must not reconnect")
}

func TestRegistry_RestartRevivesFailedFeed(t *testing.T) {
	p := &fakeProvider{fail: true, autoOpen: true}
	h := newTestHub(p)
	require.NoError(t, h.StartFeed(testFeed("market")))
	h.Loop().RunPending()

	p.SetFail(false)
	require.NoError(t, h.RestartFeed("market"))
	h.Loop().RunPending()

	st, err := h.Status("market")
	require.NoError(t, err)
	assert.Equal(t, models.StateOpen, st.State)
	assert.Equal(t, 0, st.Attempts)
	assert.True(t, st.Healthy)
}

func TestRegistry_StartTwiceFails(t *testing.T) {
	h := newTestHub(&fakeProvider{})
	require.NoError(t, h.StartFeed(testFeed("market")))

	err := h.StartFeed(testFeed("market"))
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestRegistry_UnknownFeed(t *testing.T) {
	h := newTestHub(&fakeProvider{})

	assert.ErrorIs(t, h.StopFeed("nope"), ErrNotFound)
	assert.ErrorIs(t, h.RestartFeed("nope"), ErrNotFound)
	_, err := h.Status("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_RejectsUnknownCodec(t *testing.T) {
	h := newTestHub(&fakeProvider{})
	cfg := testFeed("market")
	cfg.Codec = "nope"

	assert.Error(t, h.StartFeed(cfg))
	assert.Empty(t, h.StatusAll())
}

func TestRegistry_OpenReplaysDefaultAndActiveChannels(t *testing.T) {
	p := &fakeProvider{autoOpen: true}
	h := newTestHub(p)
	_, err := h.Subscribe("market", "ETHUSDT", noop)
	require.NoError(t, err)
	_, err = h.Subscribe("market", "BTCUSDT", noop)
	require.NoError(t, err)

	cfg := testFeed("market")
	cfg.DefaultChannels = []string{"BTCUSDT"}
	require.NoError(t, h.StartFeed(cfg))
	h.Loop().RunPending()

	_, tr := p.Last()
	require.NotNil(t, tr)
	assert.Equal(t, []string{"sub:BTCUSDT", "sub:ETHUSDT"}, tr.Sent())

	sol, err := h.Subscribe("market", "SOLUSDT", noop)
	require.NoError(t, err)
	sol.Unsubscribe()
	assert.Equal(t, []string{"sub:BTCUSDT", "sub:ETHUSDT", "sub:SOLUSDT", "unsub:SOLUSDT"}, tr.Sent())

	st, err := h.Status("market")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Subscriptions)
}

func TestRegistry_NoWireActionWhileConnecting(t *testing.T) {
	p := &fakeProvider{}
	h := newTestHub(p)
	require.NoError(t, h.StartFeed(testFeed("market")))
	h.Loop().RunPending()

	_, err := h.Subscribe("market", "BTCUSDT", noop)
	require.NoError(t, err)
	handler, tr := p.Last()
	assert.Empty(t, tr.Sent())

	handler.OnOpen()
	h.Loop().RunPending()
	assert.Equal(t, []string{"sub:BTCUSDT"}, tr.Sent())
}

func TestRegistry_MessagesReachSubscribers(t *testing.T) {
	p := &fakeProvider{autoOpen: true}
	h := newTestHub(p)
	var got []float64
	_, err := h.Subscribe("market", "BTCUSDT", func(_ context.Context, m models.Message) error {
		got = append(got, m.Payload.(models.Price).Price)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, h.StartFeed(testFeed("market")))
	h.Loop().RunPending()

	handler, _ := p.Last()
	handler.OnMessage([]byte("BTCUSDT:1"))
	handler.OnMessage([]byte("not a tick"))
	handler.OnMessage([]byte("BTCUSDT:2"))
	h.Loop().RunPending()

	assert.Equal(t, []float64{1, 2}, got)
	st, err := h.Status("market")
	require.NoError(t, err)
	assert.EqualValues(t, 3, st.Messages)
	assert.Equal(t, 2, st.Buffered)
	assert.False(t, st.LastMessageAt.IsZero())
}

func TestRegistry_ReconnectsAfterDropAndIgnoresOldHandle(t *testing.T) {
	p := &fakeProvider{autoOpen: true}
	h := newTestHub(p)
	require.NoError(t, h.StartFeed(testFeed("market")))
	h.Loop().RunPending()

	oldHandler, oldTransport := p.Last()
	oldHandler.OnClose()
	h.Loop().RunPending()

	assert.True(t, oldTransport.Closed())
	assert.Equal(t, 2, p.Opens())
	st, err := h.Status("market")
	require.NoError(t, err)
	assert.Equal(t, models.StateOpen, st.State)
	assert.Equal(t, 0, st.Attempts)

	oldHandler.OnMessage([]byte("BTCUSDT:1"))
	oldHandler.OnError(assert.AnError)
	h.Loop().RunPending()

	st, err = h.Status("market")
	require.NoError(t, err)
	assert.Equal(t, models.StateOpen, st.State)
	assert.Zero(t, st.Messages)
	assert.Equal(t, 2, p.Opens())
}

func TestRegistry_StopCancelsPendingReconnect(t *testing.T) {
	p := &fakeProvider{fail: true}
	h := newTestHub(p)
	cfg := testFeed("market")
	cfg.ReconnectInterval = time.Hour
	require.NoError(t, h.StartFeed(cfg))
	h.Loop().RunPending()

	st, err := h.Status("market")
	require.NoError(t, err)
	assert.Equal(t, models.StateDisconnected, st.State)
	assert.Equal(t, 1, st.Attempts)

	require.NoError(t, h.StopFeed("market"))

	h.loop.mu.Lock()
	pending := len(h.loop.timers)
	h.loop.mu.Unlock()
	assert.Zero(t, pending)

	_, err = h.Status("market")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.Buffer("market", 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_StopDropsQueuedMessages(t *testing.T) {
	p := &fakeProvider{autoOpen: true}
	h := newTestHub(p)
	calls := 0
	_, err := h.Subscribe("market", "BTCUSDT", func(context.Context, models.Message) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, h.StartFeed(testFeed("market")))
	h.Loop().RunPending()

	handler, tr := p.Last()
	handler.OnMessage([]byte("BTCUSDT:1"))
	require.NoError(t, h.StopFeed("market"))
	h.Loop().RunPending()

	assert.Zero(t, calls)
	assert.True(t, tr.Closed())
}

func TestRegistry_WatchReportsTransitions(t *testing.T) {
	p := &fakeProvider{autoOpen: true}
	h := newTestHub(p)
	var mu sync.Mutex
	var states []models.FeedState
	h.Watch(func(feed string, s models.FeedState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	require.NoError(t, h.StartFeed(testFeed("market")))
	h.Loop().RunPending()
	require.NoError(t, h.StopFeed("market"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.FeedState{models.StateConnecting, models.StateOpen, models.StateDisconnected}, states)
}

func TestHub_PublishAnalysis(t *testing.T) {
	h := newTestHub(&fakeProvider{})
	var got models.Recommendation
	_, err := h.Subscribe(AnalyticsFeed, "BTCUSDT", func(_ context.Context, m models.Message) error {
		got = m.Payload.(models.Recommendation)
		return nil
	})
	require.NoError(t, err)

	rec := models.Recommendation{Symbol: "BTCUSDT", Analyzer: "momentum", Recommendation: models.RecommendBuy, Confidence: 70}
	require.NoError(t, h.Publish(models.Message{
		Feed:    AnalyticsFeed,
		Channel: "BTCUSDT",
		Kind:    models.KindAnalysis,
		Payload: rec,
	}))
	h.Loop().RunPending()

	assert.Equal(t, models.RecommendBuy, got.Recommendation)
	buf, err := h.Buffer(AnalyticsFeed, 0)
	require.NoError(t, err)
	assert.Len(t, buf, 1)
	_, ok := h.Snapshot("BTCUSDT")
	assert.False(t, ok, "analysis results do not create snapshots")
}

func TestRegistry_AnalyticsNameIsReserved(t *testing.T) {
	h := newTestHub(&fakeProvider{})

	err := h.StartFeed(testFeed(AnalyticsFeed))
	require.ErrorIs(t, err, ErrReservedFeed)
	assert.ErrorIs(t, h.StopFeed(AnalyticsFeed), ErrNotFound)

	delivered := 0
	_, err = h.Subscribe(AnalyticsFeed, "BTCUSDT", func(context.Context, models.Message) error {
		delivered++
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, h.Publish(models.Message{
		Feed:    AnalyticsFeed,
		Channel: "BTCUSDT",
		Kind:    models.KindAnalysis,
		Payload: models.Recommendation{Symbol: "BTCUSDT", Recommendation: models.RecommendHold},
	}))
	h.Loop().RunPending()

	assert.Equal(t, 1, delivered)
	_, err = h.Buffer(AnalyticsFeed, 0)
	assert.NoError(t, err)
}

func TestRegistry_StartAfterStopKeepsRoute(t *testing.T) {
	p := &fakeProvider{autoOpen: true}
	h := newTestHub(p)
	calls := 0
	_, err := h.Subscribe("market", "BTCUSDT", func(context.Context, models.Message) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, h.StartFeed(testFeed("market")))
	h.Loop().RunPending()
	require.NoError(t, h.StopFeed("market"))
	require.NoError(t, h.StartFeed(testFeed("market")))
	h.Loop().RunPending()

	handler, _ := p.Last()
	handler.OnMessage([]byte("BTCUSDT:2"))
	h.Loop().RunPending()

	assert.Equal(t, 1, calls)
	buf, err := h.Buffer("market", 0)
	require.NoError(t, err)
	assert.Len(t, buf, 1)
}

func TestRegistry_UnroutedFrameIsCounted(t *testing.T) {
	m := &countingMetrics{}
	h := newTestHub(&fakeProvider{}, WithMetrics(m))

	h.registry.dispatch(context.Background(), "ghost", []byte("BTCUSDT:1"), time.Now())
	assert.Equal(t, 1, m.Errors("dispatch"))

	require.NoError(t, h.StartFeed(testFeed("market")))
	h.registry.dispatch(context.Background(), "market", []byte("garbage"), time.Now())
	assert.Equal(t, 1, m.Errors("dispatch"), "parse errors are counted by the router")
}
