package metrics

import (
	"MarketHub/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var feedStates = []models.FeedState{
	models.StateDisconnected,
	models.StateConnecting,
	models.StateOpen,
	models.StateFailed,
}

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	messages         *prometheus.CounterVec
	parseErrors      *prometheus.CounterVec
	subscriberErrors *prometheus.CounterVec
	reconnects       *prometheus.CounterVec
	feedState        *prometheus.GaugeVec
	bufferDepth      *prometheus.GaugeVec
	messagesSent     *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	lastPrice        *prometheus.GaugeVec
	latency          *prometheus.HistogramVec
}

// New creates a recorder registered on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		messages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markethub_messages_total",
				Help: "Messages routed, by feed and kind",
			},
			[]string{"feed", "kind"},
		),
		parseErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markethub_parse_errors_total",
				Help: "Payloads dropped because they could not be decoded or classified",
			},
			[]string{"feed"},
		),
		subscriberErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markethub_subscriber_errors_total",
				Help: "Subscriber callbacks that returned an error or panicked",
			},
			[]string{"feed"},
		),
		reconnects: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markethub_reconnects_total",
				Help: "Scheduled reconnect attempts",
			},
			[]string{"feed"},
		),
		feedState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "markethub_feed_state",
				Help: "1 for the current state of each feed, 0 otherwise",
			},
			[]string{"feed", "state"},
		),
		bufferDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "markethub_buffer_depth",
				Help: "Messages held in the feed ring buffer",
			},
			[]string{"feed"},
		),
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markethub_messages_sent_total",
				Help: "Total number of messages sent to a backend",
			},
			[]string{"backend", "symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markethub_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "markethub_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "markethub_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordMessage(feed string, kind models.Kind) {
	r.messages.WithLabelValues(feed, string(kind)).Inc()
}

func (r *Recorder) RecordParseError(feed string) {
	r.parseErrors.WithLabelValues(feed).Inc()
}

func (r *Recorder) RecordSubscriberError(feed string) {
	r.subscriberErrors.WithLabelValues(feed).Inc()
}

func (r *Recorder) RecordReconnect(feed string) {
	r.reconnects.WithLabelValues(feed).Inc()
}

// RecordFeedState sets the gauge of the current state to 1 and every other state to 0.
func (r *Recorder) RecordFeedState(feed string, state models.FeedState) {
	for _, s := range feedStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.feedState.WithLabelValues(feed, string(s)).Set(v)
	}
}

func (r *Recorder) RecordBufferDepth(feed string, n int) {
	r.bufferDepth.WithLabelValues(feed).Set(float64(n))
}

// RecordMessageSent records a message sent to a backend.
func (r *Recorder) RecordMessageSent(backend, symbol string) {
	r.messagesSent.WithLabelValues(backend, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
