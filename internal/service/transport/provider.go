// Package transport opens feed connections over the supported wire protocols.
package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"MarketHub/internal/domain/repository"
	"MarketHub/pkg/logger"
)

// Schemes lists the endpoint schemes each transport name accepts.
var Schemes = map[string][]string{
	"websocket": {"ws", "wss"},
	"kafka":     {"kafka"},
	"nats":      {"nats", "tls"},
	"mqtt":      {"mqtt", "mqtts", "tcp", "ssl"},
	"sim":       {"sim"},
}

// Mux picks a provider by endpoint scheme.
type Mux struct {
	providers map[string]repository.TransportProvider
}

func NewMux() *Mux {
	return &Mux{providers: make(map[string]repository.TransportProvider)}
}

// NewDefaultMux registers every built-in transport.
func NewDefaultMux(timeout time.Duration, l *logger.Logger) *Mux {
	if l == nil {
		l = logger.Nop()
	}
	m := NewMux()
	m.Register("websocket", NewWebSocket(timeout, timeout, l.With("transport", "websocket")))
	m.Register("kafka", NewKafka(l.With("transport", "kafka")))
	m.Register("nats", NewNATS(timeout, l.With("transport", "nats")))
	m.Register("mqtt", NewMQTT(timeout, l.With("transport", "mqtt")))
	m.Register("sim", NewSim(l.With("transport", "sim")))
	return m
}

// Register binds p to the schemes of the named transport, or to name itself when it
// is not a built-in transport.
func (m *Mux) Register(name string, p repository.TransportProvider) {
	schemes, ok := Schemes[name]
	if !ok {
		schemes = []string{name}
	}
	for _, s := range schemes {
		m.providers[s] = p
	}
}

func (m *Mux) Open(ctx context.Context, endpoint string, h repository.TransportHandler) (repository.Transport, error) {
	scheme, err := SchemeOf(endpoint)
	if err != nil {
		return nil, err
	}
	p, ok := m.providers[scheme]
	if !ok {
		return nil, fmt.Errorf("no transport for scheme %q", scheme)
	}
	return p.Open(ctx, endpoint, h)
}

// SchemeOf returns the lower-cased scheme of an endpoint URL.
func SchemeOf(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("endpoint: %w", err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("endpoint %q has no scheme", endpoint)
	}
	return strings.ToLower(u.Scheme), nil
}

// Accepts reports whether the named transport serves endpoint.
func Accepts(transport, endpoint string) bool {
	scheme, err := SchemeOf(endpoint)
	if err != nil {
		return false
	}
	for _, s := range Schemes[transport] {
		if s == scheme {
			return true
		}
	}
	return false
}
