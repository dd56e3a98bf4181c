package codec

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"MarketHub/internal/domain/models"
)

// FinnhubCodec decodes the Finnhub websocket protocol: trade batches and news.
// Finnhub pings clients itself, so it has no heartbeat frame.
type FinnhubCodec struct{}

func NewFinnhub() *FinnhubCodec { return &FinnhubCodec{} }

func (*FinnhubCodec) Name() string { return "finnhub" }

type fhTrade struct {
	S string   `json:"s"`
	P float64  `json:"p"`
	V float64  `json:"v"`
	T int64    `json:"t"` // ms
	C []string `json:"c,omitempty"`
}

type fhNews struct {
	Category string `json:"category"`
	Datetime int64  `json:"datetime"` // s
	Headline string `json:"headline"`
	ID       int64  `json:"id"`
	Related  string `json:"related"`
	Source   string `json:"source"`
	URL      string `json:"url"`
}

type fhMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	Msg  string          `json:"msg"`
}

func (*FinnhubCodec) Decode(feed string, raw []byte, receivedAt time.Time) ([]models.Message, error) {
	var m fhMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("finnhub frame: %w", err)
	}

	switch m.Type {
	case "ping":
		return nil, nil
	case "error":
		return nil, fmt.Errorf("finnhub error: %s", m.Msg)
	case "trade":
		var trades []fhTrade
		if err := json.Unmarshal(m.Data, &trades); err != nil {
			return nil, fmt.Errorf("finnhub trades: %w", err)
		}
		out := make([]models.Message, 0, len(trades))
		for i, d := range trades {
			if d.S == "" {
				return nil, fmt.Errorf("finnhub trade %d without symbol", i)
			}
			out = append(out, models.Message{
				Feed:       feed,
				Channel:    d.S,
				Kind:       models.KindTrade,
				Payload:    models.Trade{Price: d.P, Size: d.V},
				Timestamp:  time.UnixMilli(d.T).UTC(),
				ReceivedAt: receivedAt,
			})
		}
		return out, nil
	case "news":
		var items []fhNews
		if err := json.Unmarshal(m.Data, &items); err != nil {
			return nil, fmt.Errorf("finnhub news: %w", err)
		}
		var out []models.Message
		for _, n := range items {
			for _, sym := range strings.Split(n.Related, ",") {
				sym = strings.TrimSpace(sym)
				if sym == "" {
					continue
				}
				out = append(out, models.Message{
					Feed:       feed,
					Channel:    sym,
					Kind:       models.KindNews,
					Payload:    models.News{Headline: n.Headline, Source: n.Source, URL: n.URL},
					Timestamp:  time.Unix(n.Datetime, 0).UTC(),
					ReceivedAt: receivedAt,
				})
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("finnhub: unsupported frame type %q", m.Type)
	}
}

func (*FinnhubCodec) SubscribeFrame(channel string) ([]byte, error) {
	return json.Marshal(map[string]string{"type": "subscribe", "symbol": channel})
}

func (*FinnhubCodec) UnsubscribeFrame(channel string) ([]byte, error) {
	return json.Marshal(map[string]string{"type": "unsubscribe", "symbol": channel})
}

func (*FinnhubCodec) HeartbeatFrame() ([]byte, error) { return nil, nil }
