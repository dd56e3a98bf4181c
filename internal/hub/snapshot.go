package hub

import (
	"sort"
	"sync"

	"MarketHub/internal/domain/models"
)

const DefaultSnapshotHistory = 120

// SnapshotStore merges routed messages into the latest known state per symbol.
// The channel of a market message is its symbol.
type SnapshotStore struct {
	mu        sync.RWMutex
	items     map[string]*models.Snapshot
	open      map[string]float64 // first price seen, used when a payload carries no change
	history   int
	listeners []func(models.Snapshot)
}

// NewSnapshotStore keeps up to history price points per symbol.
func NewSnapshotStore(history int) *SnapshotStore {
	if history <= 0 {
		history = DefaultSnapshotHistory
	}
	return &SnapshotStore{
		items:   make(map[string]*models.Snapshot),
		open:    make(map[string]float64),
		history: history,
	}
}

// OnUpdate registers fn to receive a copy of every updated snapshot.
// fn runs on the caller of Apply and must not block.
func (s *SnapshotStore) OnUpdate(fn func(models.Snapshot)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Apply merges msg into its symbol's snapshot. It reports false for messages that
// carry no market state (analysis results).
func (s *SnapshotStore) Apply(msg models.Message) (models.Snapshot, bool) {
	if msg.Kind == models.KindAnalysis || msg.Payload == nil {
		return models.Snapshot{}, false
	}

	s.mu.Lock()
	snap, ok := s.items[msg.Channel]
	if !ok {
		snap = &models.Snapshot{Symbol: msg.Channel}
		s.items[msg.Channel] = snap
	}

	switch p := msg.Payload.(type) {
	case models.Price:
		s.applyPrice(snap, p.Price, p.Change, p.ChangePct, msg)
	case models.Trade:
		t := p
		snap.LastTrade = &t
		s.applyPrice(snap, p.Price, 0, 0, msg)
	case models.Quote:
		snap.Bid, snap.Ask = p.Bid, p.Ask
	case models.Depth:
		if len(p.Bids) > 0 {
			snap.Bid = p.Bids[0].Price
		}
		if len(p.Asks) > 0 {
			snap.Ask = p.Asks[0].Price
		}
	case models.Volume:
		snap.Volume = p.Volume
	case models.News:
		snap.Sentiment = p.Sentiment
	}

	snap.Sources = addSource(snap.Sources, msg.Feed)
	snap.UpdatedAt = msg.ReceivedAt
	out := snap.Clone()
	listeners := s.listeners
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(out)
	}
	return out, true
}

// applyPrice must be called with the lock held.
func (s *SnapshotStore) applyPrice(snap *models.Snapshot, price, change, changePct float64, msg models.Message) {
	if price <= 0 {
		return
	}
	open, ok := s.open[snap.Symbol]
	if !ok {
		open = price
		s.open[snap.Symbol] = price
	}
	if change == 0 && changePct == 0 {
		change = price - open
		if open > 0 {
			changePct = change / open * 100
		}
	}
	snap.Price, snap.Change, snap.ChangePct = price, change, changePct

	at := msg.Timestamp
	if at.IsZero() {
		at = msg.ReceivedAt
	}
	snap.History = append(snap.History, models.PricePoint{Price: price, At: at})
	if over := len(snap.History) - s.history; over > 0 {
		snap.History = append(snap.History[:0:0], snap.History[over:]...)
	}
}

// Get returns a copy of the symbol's snapshot.
func (s *SnapshotStore) Get(symbol string) (models.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.items[symbol]
	if !ok {
		return models.Snapshot{}, false
	}
	return snap.Clone(), true
}

// All returns copies of every snapshot, ordered by symbol.
func (s *SnapshotStore) All() []models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Snapshot, 0, len(s.items))
	for _, snap := range s.items {
		out = append(out, snap.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Symbols returns the known symbols, sorted.
func (s *SnapshotStore) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.items))
	for sym := range s.items {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func addSource(sources []string, feed string) []string {
	i := sort.SearchStrings(sources, feed)
	if i < len(sources) && sources[i] == feed {
		return sources
	}
	sources = append(sources, "")
	copy(sources[i+1:], sources[i:])
	sources[i] = feed
	return sources
}
