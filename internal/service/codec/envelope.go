package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"MarketHub/internal/domain/models"
)

// Envelope is the hub's own wire format. Feeds speaking it send one envelope or a JSON
// array of envelopes per frame:
//
//	{"type":"price","channel":"BTCUSDT","ts":1700000000000,"data":{"price":42000.5}}
//
// Frames carrying an "op" field are control frames (acks, pongs) and yield no messages.
// A bad element in a batch is skipped: Decode returns the valid messages together
// with an error naming the skipped elements.
type Envelope struct {
	Op      string          `json:"op,omitempty"`
	Type    string          `json:"type,omitempty"`
	Channel string          `json:"channel,omitempty"`
	TS      int64           `json:"ts,omitempty"` // unix ms
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPing        = "ping"
	OpPong        = "pong"
)

// EnvelopeCodec implements repository.Codec for the envelope format.
type EnvelopeCodec struct{}

func NewEnvelope() *EnvelopeCodec { return &EnvelopeCodec{} }

func (*EnvelopeCodec) Name() string { return "envelope" }

func (*EnvelopeCodec) Decode(feed string, raw []byte, receivedAt time.Time) ([]models.Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	var envs []Envelope
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &envs); err != nil {
			return nil, fmt.Errorf("decode envelope batch: %w", err)
		}
	} else {
		var e Envelope
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		envs = []Envelope{e}
	}

	out := make([]models.Message, 0, len(envs))
	var errs []error
	for i, e := range envs {
		if e.Error != "" {
			errs = append(errs, fmt.Errorf("element %d: feed error: %s", i, e.Error))
			continue
		}
		if e.Op != "" {
			continue
		}
		m, err := e.message(feed, receivedAt)
		if err != nil {
			errs = append(errs, fmt.Errorf("element %d: %w", i, err))
			continue
		}
		out = append(out, m)
	}
	return out, errors.Join(errs...)
}

func (e Envelope) message(feed string, receivedAt time.Time) (models.Message, error) {
	kind, err := models.ParseKind(e.Type)
	if err != nil {
		return models.Message{}, err
	}
	if e.Channel == "" {
		return models.Message{}, fmt.Errorf("%s message without channel", kind)
	}
	payload, err := DecodePayload(kind, e.Data)
	if err != nil {
		return models.Message{}, err
	}
	ts := receivedAt
	if e.TS > 0 {
		ts = time.UnixMilli(e.TS).UTC()
	}
	return models.Message{
		Feed:       feed,
		Channel:    e.Channel,
		Kind:       kind,
		Payload:    payload,
		Timestamp:  ts,
		ReceivedAt: receivedAt,
	}, nil
}

func (*EnvelopeCodec) SubscribeFrame(channel string) ([]byte, error) {
	return ControlFrame(OpSubscribe, channel), nil
}

func (*EnvelopeCodec) UnsubscribeFrame(channel string) ([]byte, error) {
	return ControlFrame(OpUnsubscribe, channel), nil
}

func (*EnvelopeCodec) HeartbeatFrame() ([]byte, error) {
	return ControlFrame(OpPing, ""), nil
}

// ControlFrame builds an envelope control frame such as {"op":"subscribe","channel":"X"}.
func ControlFrame(op, channel string) []byte {
	b, _ := json.Marshal(Envelope{Op: op, Channel: channel})
	return b
}

// Encode renders m as an envelope.
func Encode(m models.Message) ([]byte, error) {
	data, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", m.Kind, err)
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = m.ReceivedAt
	}
	return json.Marshal(Envelope{
		Type:    string(m.Kind),
		Channel: m.Channel,
		TS:      ts.UnixMilli(),
		Data:    data,
	})
}

// ParseControl decodes a control frame sent to an envelope feed. It reports false
// for frames that are not control frames.
func ParseControl(raw []byte) (Envelope, bool) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil || e.Op == "" {
		return Envelope{}, false
	}
	return e, true
}

// DecodePayload decodes the JSON body of a message of the given kind.
func DecodePayload(kind models.Kind, data []byte) (models.Payload, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%s message without data", kind)
	}
	var (
		p   models.Payload
		err error
	)
	switch kind {
	case models.KindPrice:
		var v models.Price
		err = json.Unmarshal(data, &v)
		p = v
	case models.KindVolume:
		var v models.Volume
		err = json.Unmarshal(data, &v)
		p = v
	case models.KindDepth:
		var v models.Depth
		err = json.Unmarshal(data, &v)
		p = v
	case models.KindTrade:
		var v models.Trade
		err = json.Unmarshal(data, &v)
		p = v
	case models.KindQuote:
		var v models.Quote
		err = json.Unmarshal(data, &v)
		p = v
	case models.KindNews:
		var v models.News
		err = json.Unmarshal(data, &v)
		p = v
	case models.KindAnalysis:
		var v models.Recommendation
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown message kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}
