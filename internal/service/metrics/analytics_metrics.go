package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Analytics records analyzer runs.
type Analytics struct {
	Latency *prometheus.HistogramVec
	Errors  *prometheus.CounterVec
}

func NewAnalytics(reg prometheus.Registerer) *Analytics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Analytics{
		Latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "markethub",
				Subsystem: "analytics",
				Name:      "latency_seconds",
				Help:      "Latency of analyzer runs",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"analyzer"},
		),
		Errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "markethub",
				Subsystem: "analytics",
				Name:      "errors_total",
				Help:      "Errors by analyzer",
			},
			[]string{"analyzer"},
		),
	}
}

// Observe records one run. Safe on a nil receiver.
func (a *Analytics) Observe(analyzer string, d time.Duration, err error) {
	if a == nil {
		return
	}
	a.Latency.WithLabelValues(analyzer).Observe(d.Seconds())
	if err != nil {
		a.Errors.WithLabelValues(analyzer).Inc()
	}
}
