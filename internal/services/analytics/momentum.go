package analytics

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"MarketHub/internal/domain/models"
	domsvc "MarketHub/internal/domain/service"
)

// MomentumAnalyzer is a fixed rule over the snapshot's percentage change: at or above
// BuyPct recommends BUY, at or below SellPct recommends SELL, HOLD otherwise.
// Confidence grows with the distance past the threshold. It makes no predictions.
type MomentumAnalyzer struct {
	BuyPct  float64
	SellPct float64
	now     func() time.Time
}

func NewMomentumAnalyzer(buyPct, sellPct float64) *MomentumAnalyzer {
	if buyPct <= 0 {
		buyPct = 1.5
	}
	if sellPct >= 0 {
		sellPct = -1.5
	}
	return &MomentumAnalyzer{BuyPct: buyPct, SellPct: sellPct, now: time.Now}
}

func (a *MomentumAnalyzer) Name() string { return "momentum" }

func (a *MomentumAnalyzer) Analyze(_ context.Context, symbol string, snap models.Snapshot) (models.Recommendation, error) {
	if snap.Price <= 0 {
		return models.Recommendation{}, fmt.Errorf("momentum %s: no price yet", symbol)
	}

	chg := snap.ChangePct
	rec, conf := models.RecommendHold, 0.0
	switch {
	case chg >= a.BuyPct:
		rec, conf = models.RecommendBuy, 50+50*math.Min(1, (chg-a.BuyPct)/a.BuyPct)
	case chg <= a.SellPct:
		rec, conf = models.RecommendSell, 50+50*math.Min(1, (chg-a.SellPct)/a.SellPct)
	default:
		edge := a.BuyPct
		if chg < 0 {
			edge = -a.SellPct
		}
		conf = 50 + 50*(1-math.Abs(chg)/edge)
	}

	returns := logReturns(snap.History)
	trend := "flat"
	if s := sum(returns); s > 0 {
		trend = "up"
	} else if s < 0 {
		trend = "down"
	}

	return models.Recommendation{
		Symbol:         symbol,
		Analyzer:       a.Name(),
		Recommendation: rec,
		Confidence:     math.Round(conf*10) / 10,
		Signals: map[string]string{
			"change_pct": strconv.FormatFloat(chg, 'f', 2, 64),
			"trend":      trend,
			"volatility": strconv.FormatFloat(volatility(returns)*100, 'f', 3, 64),
			"spread":     strconv.FormatFloat(snap.Spread(), 'f', 4, 64),
			"sentiment":  strconv.FormatFloat(snap.Sentiment, 'f', 2, 64),
		},
		At: a.now().UTC(),
	}, nil
}

var _ domsvc.Analyzer = (*MomentumAnalyzer)(nil)
