package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"MarketHub/internal/domain/models"
	domsvc "MarketHub/internal/domain/service"
)

// HTTPAnalyzer delegates to an external analytics service:
//
//	POST {base}/analyze  {"symbol","price","change_pct","returns","volatility"}
//	-> {"recommendation":"BUY","confidence":72.5,"signals":{...}}
type HTTPAnalyzer struct {
	base *HTTPServiceBase
}

func NewHTTPAnalyzer(baseURL string, timeout time.Duration) *HTTPAnalyzer {
	return &HTTPAnalyzer{base: NewHTTPServiceBase(baseURL, timeout)}
}

type analyzeRequest struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	ChangePct  float64   `json:"change_pct"`
	Returns    []float64 `json:"returns"`
	Volatility float64   `json:"volatility"`
}

type analyzeResponse struct {
	Recommendation string            `json:"recommendation"`
	Confidence     float64           `json:"confidence"`
	Signals        map[string]string `json:"signals"`
}

func (a *HTTPAnalyzer) Name() string { return "remote" }

func (a *HTTPAnalyzer) Analyze(ctx context.Context, symbol string, snap models.Snapshot) (models.Recommendation, error) {
	returns := logReturns(snap.History)
	var resp analyzeResponse
	err := a.base.PostJSONWithRetry(ctx, "/analyze", analyzeRequest{
		Symbol:     symbol,
		Price:      snap.Price,
		ChangePct:  snap.ChangePct,
		Returns:    returns,
		Volatility: volatility(returns),
	}, &resp, 3)
	if err != nil {
		return models.Recommendation{}, fmt.Errorf("analyze %s: %w", symbol, err)
	}

	switch resp.Recommendation {
	case models.RecommendBuy, models.RecommendSell, models.RecommendHold:
	default:
		return models.Recommendation{}, fmt.Errorf("analyze %s: unknown recommendation %q", symbol, resp.Recommendation)
	}
	return models.Recommendation{
		Symbol:         symbol,
		Analyzer:       a.Name(),
		Recommendation: resp.Recommendation,
		Confidence:     math.Max(0, math.Min(100, resp.Confidence)),
		Signals:        resp.Signals,
		At:             time.Now().UTC(),
	}, nil
}

var _ domsvc.Analyzer = (*HTTPAnalyzer)(nil)
