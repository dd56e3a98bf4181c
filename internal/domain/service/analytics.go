package service

import (
	"context"

	"MarketHub/internal/domain/models"
)

// Analyzer turns a symbol snapshot into a recommendation. Implementations should be
// free of side effects on the snapshot; the hub hands them a copy.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, symbol string, snap models.Snapshot) (models.Recommendation, error)
}
