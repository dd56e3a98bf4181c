package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"MarketHub/internal/domain/models"
	"MarketHub/internal/service/cache"
)

// SnapshotCache mirrors snapshots into a BytesCache as JSON under prefix:snapshot:SYMBOL.
type SnapshotCache struct {
	c      cache.BytesCache
	prefix string
	ttl    time.Duration
}

func NewSnapshotCache(c cache.BytesCache, prefix string, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{c: c, prefix: prefix, ttl: ttl}
}

func (s *SnapshotCache) key(symbol string) string {
	if s.prefix == "" {
		return "snapshot:" + symbol
	}
	return s.prefix + ":snapshot:" + symbol
}

func (s *SnapshotCache) Name() string { return "snapshot_cache" }

func (s *SnapshotCache) Put(ctx context.Context, snap models.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.Symbol, err)
	}
	return s.c.SetBytes(ctx, s.key(snap.Symbol), b, s.ttl)
}

func (s *SnapshotCache) Get(ctx context.Context, symbol string) (models.Snapshot, bool, error) {
	b, ok, err := s.c.GetBytes(ctx, s.key(symbol))
	if err != nil || !ok {
		return models.Snapshot{}, false, err
	}
	var snap models.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return models.Snapshot{}, false, fmt.Errorf("decode snapshot %s: %w", symbol, err)
	}
	return snap, true, nil
}

// Write stores the latest snapshot per symbol of a batch.
func (s *SnapshotCache) Write(ctx context.Context, batch []models.Snapshot) error {
	latest := make(map[string]models.Snapshot, len(batch))
	order := make([]string, 0, len(batch))
	for _, snap := range batch {
		if _, seen := latest[snap.Symbol]; !seen {
			order = append(order, snap.Symbol)
		}
		latest[snap.Symbol] = snap
	}
	for _, sym := range order {
		if err := s.Put(ctx, latest[sym]); err != nil {
			return err
		}
	}
	return nil
}
