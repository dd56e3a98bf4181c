package models

import "time"

// Payload is the closed set of message bodies. Only types in this package implement it.
type Payload interface {
	Kind() Kind
	isPayload()
}

// Price is a last-price update.
type Price struct {
	Price     float64 `json:"price"`
	Change    float64 `json:"change"`
	ChangePct float64 `json:"change_pct"`
}

// Volume is a cumulative traded volume update.
type Volume struct {
	Volume float64 `json:"volume"`
}

// Level is a single order book level.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Depth is an order book snapshot, best level first on both sides.
type Depth struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// Trade is a single execution.
type Trade struct {
	ID    string  `json:"id,omitempty"`
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
	Side  string  `json:"side,omitempty"` // "buy" | "sell"
}

// Quote is a top-of-book quote.
type Quote struct {
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
	BidSize float64 `json:"bid_size"`
	AskSize float64 `json:"ask_size"`
}

// News is a headline tied to a symbol.
type News struct {
	Headline  string  `json:"headline"`
	Source    string  `json:"source,omitempty"`
	URL       string  `json:"url,omitempty"`
	Sentiment float64 `json:"sentiment"` // -1..1
}

// Recommendation is the output of an analyzer for one symbol.
type Recommendation struct {
	Symbol         string            `json:"symbol"`
	Analyzer       string            `json:"analyzer"`
	Recommendation string            `json:"recommendation"` // BUY, SELL or HOLD
	Confidence     float64           `json:"confidence"`     // 0..100
	Signals        map[string]string `json:"signals"`
	At             time.Time         `json:"at"`
}

const (
	RecommendBuy  = "BUY"
	RecommendSell = "SELL"
	RecommendHold = "HOLD"
)

func (Price) Kind() Kind          { return KindPrice }
func (Volume) Kind() Kind         { return KindVolume }
func (Depth) Kind() Kind          { return KindDepth }
func (Trade) Kind() Kind          { return KindTrade }
func (Quote) Kind() Kind          { return KindQuote }
func (News) Kind() Kind           { return KindNews }
func (Recommendation) Kind() Kind { return KindAnalysis }

func (Price) isPayload()          {}
func (Volume) isPayload()         {}
func (Depth) isPayload()          {}
func (Trade) isPayload()          {}
func (Quote) isPayload()          {}
func (News) isPayload()           {}
func (Recommendation) isPayload() {}
