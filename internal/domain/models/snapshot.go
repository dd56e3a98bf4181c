package models

import "time"

// PricePoint is one entry of a snapshot's short price history.
type PricePoint struct {
	Price float64   `json:"price"`
	At    time.Time `json:"at"`
}

// Snapshot is the most recently known merged state of a symbol across feeds.
type Snapshot struct {
	Symbol    string       `json:"symbol"`
	Price     float64      `json:"price"`
	Change    float64      `json:"change"`
	ChangePct float64      `json:"change_pct"`
	Bid       float64      `json:"bid"`
	Ask       float64      `json:"ask"`
	Volume    float64      `json:"volume"`
	LastTrade *Trade       `json:"last_trade,omitempty"`
	Sentiment float64      `json:"sentiment"`
	History   []PricePoint `json:"history"`
	Sources   []string     `json:"sources"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Spread returns ask minus bid, or 0 when either side is unknown.
func (s Snapshot) Spread() float64 {
	if s.Bid <= 0 || s.Ask <= 0 {
		return 0
	}
	return s.Ask - s.Bid
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.History = append([]PricePoint(nil), s.History...)
	out.Sources = append([]string(nil), s.Sources...)
	if s.LastTrade != nil {
		t := *s.LastTrade
		out.LastTrade = &t
	}
	return out
}
