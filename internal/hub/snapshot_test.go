package hub

import (
	"testing"
	"time"

	"MarketHub/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapMsg(feed, symbol string, kind models.Kind, p models.Payload, at time.Time) models.Message {
	return models.Message{Feed: feed, Channel: symbol, Kind: kind, Payload: p, Timestamp: at, ReceivedAt: at}
}

func TestSnapshotStore_MergesAcrossFeeds(t *testing.T) {
	s := NewSnapshotStore(10)
	t0 := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)

	s.Apply(snapMsg("stocks", "AAPL", models.KindPrice, models.Price{Price: 100}, t0))
	s.Apply(snapMsg("quotes", "AAPL", models.KindQuote, models.Quote{Bid: 109.9, Ask: 110.1}, t0.Add(time.Second)))
	s.Apply(snapMsg("stocks", "AAPL", models.KindVolume, models.Volume{Volume: 5000}, t0.Add(2*time.Second)))
	snap, ok := s.Apply(snapMsg("stocks", "AAPL", models.KindTrade, models.Trade{Price: 110, Size: 3}, t0.Add(3*time.Second)))
	require.True(t, ok)

	assert.Equal(t, 110.0, snap.Price)
	assert.InDelta(t, 10.0, snap.Change, 1e-9)
	assert.InDelta(t, 10.0, snap.ChangePct, 1e-9)
	assert.Equal(t, 109.9, snap.Bid)
	assert.Equal(t, 110.1, snap.Ask)
	assert.Equal(t, 5000.0, snap.Volume)
	require.NotNil(t, snap.LastTrade)
	assert.Equal(t, 3.0, snap.LastTrade.Size)
	assert.Equal(t, []string{"quotes", "stocks"}, snap.Sources)
	assert.Len(t, snap.History, 2)
	assert.Equal(t, t0.Add(3*time.Second), snap.UpdatedAt)
}

func TestSnapshotStore_PayloadChangeWins(t *testing.T) {
	s := NewSnapshotStore(10)
	snap, _ := s.Apply(snapMsg("crypto", "BTCUSDT", models.KindPrice, models.Price{Price: 42000, Change: -500, ChangePct: -1.18}, time.Now()))
	assert.Equal(t, -500.0, snap.Change)
	assert.Equal(t, -1.18, snap.ChangePct)
}

func TestSnapshotStore_HistoryIsBounded(t *testing.T) {
	s := NewSnapshotStore(3)
	t0 := time.Now()
	for i := 1; i <= 5; i++ {
		s.Apply(snapMsg("fx", "EURUSD", models.KindPrice, models.Price{Price: float64(i)}, t0.Add(time.Duration(i)*time.Second)))
	}
	snap, ok := s.Get("EURUSD")
	require.True(t, ok)
	require.Len(t, snap.History, 3)
	assert.Equal(t, 3.0, snap.History[0].Price)
	assert.Equal(t, 5.0, snap.History[2].Price)
}

func TestSnapshotStore_IgnoresAnalysisAndCopiesOut(t *testing.T) {
	s := NewSnapshotStore(0)
	_, ok := s.Apply(snapMsg(AnalyticsFeed, "BTCUSDT", models.KindAnalysis, models.Recommendation{Symbol: "BTCUSDT"}, time.Now()))
	assert.False(t, ok)
	assert.Empty(t, s.Symbols())

	var seen []models.Snapshot
	s.OnUpdate(func(snap models.Snapshot) { seen = append(seen, snap) })
	s.Apply(snapMsg("crypto", "ETHUSDT", models.KindPrice, models.Price{Price: 3000}, time.Now()))
	s.Apply(snapMsg("crypto", "BTCUSDT", models.KindNews, models.News{Headline: "ETF", Sentiment: 0.4}, time.Now()))
	require.Len(t, seen, 2)

	got, _ := s.Get("ETHUSDT")
	got.History[0].Price = 1
	again, _ := s.Get("ETHUSDT")
	assert.Equal(t, 3000.0, again.History[0].Price)

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "BTCUSDT", all[0].Symbol)
	assert.Equal(t, 0.4, all[0].Sentiment)
}
