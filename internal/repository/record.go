package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"MarketHub/internal/domain/models"
	"MarketHub/internal/service/codec"
)

// record is the flat form of a message shared by the Kafka and ClickHouse sinks.
type record struct {
	Feed       string          `json:"feed"`
	Channel    string          `json:"channel"`
	Kind       string          `json:"kind"`
	TS         int64           `json:"ts"` // unix ms
	ReceivedAt int64           `json:"received_at"`
	Data       json.RawMessage `json:"data"`
}

func toRecord(m models.Message) (record, error) {
	data, err := json.Marshal(m.Payload)
	if err != nil {
		return record{}, fmt.Errorf("encode %s payload: %w", m.Kind, err)
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = m.ReceivedAt
	}
	return record{
		Feed:       m.Feed,
		Channel:    m.Channel,
		Kind:       string(m.Kind),
		TS:         ts.UnixMilli(),
		ReceivedAt: m.ReceivedAt.UnixMilli(),
		Data:       data,
	}, nil
}

func (r record) message() (models.Message, error) {
	kind, err := models.ParseKind(r.Kind)
	if err != nil {
		return models.Message{}, err
	}
	p, err := codec.DecodePayload(kind, r.Data)
	if err != nil {
		return models.Message{}, err
	}
	return models.Message{
		Feed:       r.Feed,
		Channel:    r.Channel,
		Kind:       kind,
		Payload:    p,
		Timestamp:  time.UnixMilli(r.TS).UTC(),
		ReceivedAt: time.UnixMilli(r.ReceivedAt).UTC(),
	}, nil
}
