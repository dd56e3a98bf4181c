package hub

import (
	"context"
	"testing"
	"time"

	"MarketHub/internal/domain/models"
	"MarketHub/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRouter builds a router; a nil sink is passed as a nil interface so events
// are discarded.
func newTestRouter(sink *recordingSink) (*Router, *SubscriptionTable, *SnapshotStore) {
	table := NewSubscriptionTable(nil, nil)
	snapshots := NewSnapshotStore(10)
	var events repository.EventSink
	if sink != nil {
		events = sink
	}
	return NewRouter(table, snapshots, events, nil, nil), table, snapshots
}

func TestRouter_DispatchRoutesToEveryStage(t *testing.T) {
	sink := &recordingSink{}
	router, table, snapshots := newTestRouter(sink)
	router.AddFeed(models.FeedConfig{Name: "market", BufferSize: 10}, lineCodec{})

	var delivered []models.Message
	_, err := table.Subscribe("market", "BTCUSDT", func(_ context.Context, m models.Message) error {
		delivered = append(delivered, m)
		return nil
	})
	require.NoError(t, err)

	now := time.Now()
	n, err := router.Dispatch(context.Background(), "market", []byte("BTCUSDT:42000.5"), now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, delivered, 1)
	assert.Equal(t, now, delivered[0].ReceivedAt)

	buf, err := router.Buffer("market", 10)
	require.NoError(t, err)
	assert.Len(t, buf, 1)

	snap, ok := snapshots.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 42000.5, snap.Price)
	assert.Equal(t, []string{"market"}, snap.Sources)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventPriceUpdated, events[0].Name)
}

func TestRouter_ParseErrorDoesNotStopFeed(t *testing.T) {
	router, table, _ := newTestRouter(nil)
	router.AddFeed(models.FeedConfig{Name: "market"}, lineCodec{})
	calls := 0
	_, err := table.Subscribe("market", "BTCUSDT", func(context.Context, models.Message) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	_, err = router.Dispatch(context.Background(), "market", []byte("garbage"), time.Now())
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "market", parseErr.Feed)
	assert.Equal(t, []byte("garbage"), parseErr.Raw)

	_, err = router.Dispatch(context.Background(), "market", []byte("BTCUSDT:1"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRouter_PartlyBadFrameRoutesGoodMessages(t *testing.T) {
	router, table, _ := newTestRouter(nil)
	router.AddFeed(models.FeedConfig{Name: "market"}, lineCodec{})
	var got []string
	_, err := table.Subscribe("market", "BTCUSDT", func(_ context.Context, m models.Message) error {
		got = append(got, m.Channel)
		return nil
	})
	require.NoError(t, err)

	n, err := router.Dispatch(context.Background(), "market", []byte("BTCUSDT:1;oops;BTCUSDT:2"), time.Now())
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"BTCUSDT", "BTCUSDT"}, got)
}

func TestRouter_ControlFramesYieldNothing(t *testing.T) {
	router, _, _ := newTestRouter(nil)
	router.AddFeed(models.FeedConfig{Name: "market"}, lineCodec{})

	n, err := router.Dispatch(context.Background(), "market", []byte("pong"), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRouter_RejectsUndeclaredKind(t *testing.T) {
	router, _, _ := newTestRouter(nil)
	router.AddFeed(models.FeedConfig{Name: "news", Kinds: []models.Kind{models.KindNews}}, lineCodec{})

	_, err := router.Dispatch(context.Background(), "news", []byte("AAPL:190"), time.Now())
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)

	buf, err := router.Buffer("news", 0)
	require.NoError(t, err)
	assert.Empty(t, buf)
}

func TestRouter_CustomHandler(t *testing.T) {
	sink := &recordingSink{}
	router, _, _ := newTestRouter(sink)
	router.AddFeed(models.FeedConfig{Name: "market"}, lineCodec{})
	router.SetHandler("market", func(m models.Message) []models.Event {
		p := m.Payload.(models.Price)
		if p.Price < 100 {
			return nil
		}
		return []models.Event{{Name: "big_print", Feed: m.Feed, Channel: m.Channel, Message: m, At: m.ReceivedAt}}
	})

	_, err := router.Dispatch(context.Background(), "market", []byte("X:5"), time.Now())
	require.NoError(t, err)
	_, err = router.Dispatch(context.Background(), "market", []byte("X:500"), time.Now())
	require.NoError(t, err)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "big_print", events[0].Name)
}

func TestRouter_UnknownFeed(t *testing.T) {
	router, _, _ := newTestRouter(nil)

	_, err := router.Buffer("nope", 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = router.Dispatch(context.Background(), "nope", []byte("X:1"), time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRouter_CleanAndRemove(t *testing.T) {
	router, _, _ := newTestRouter(nil)
	router.AddFeed(models.FeedConfig{Name: "market", BufferWindow: time.Minute}, lineCodec{})
	base := time.Now()
	require.NoError(t, router.Route(context.Background(), priceMsg("market", "X", 1, base)))
	require.NoError(t, router.Route(context.Background(), priceMsg("market", "X", 2, base.Add(50*time.Second))))

	assert.Equal(t, 1, router.Clean(base.Add(90*time.Second)))

	router.RemoveFeed("market")
	_, err := router.Buffer("market", 0)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, router.Feeds())
}
