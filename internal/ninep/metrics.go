package ninep

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// clientMetrics instruments the request path. A nil registerer yields nil
// metrics and no instrumentation.
type clientMetrics struct {
	requestsTotal  *prometheus.CounterVec
	failuresTotal  *prometheus.CounterVec
	requestSeconds prometheus.Histogram
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	if reg == nil {
		return nil
	}
	return &clientMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ninep_client_requests_total",
			Help: "Requests sent, by message type.",
		}, []string{"type"}),
		failuresTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ninep_client_request_failures_total",
			Help: "Requests that failed, by message type.",
		}, []string{"type"}),
		requestSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "ninep_client_request_duration_seconds",
			Help:    "Round-trip time of one transaction.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *clientMetrics) observe(t MsgType, seconds float64, err error) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(t.String()).Inc()
	m.requestSeconds.Observe(seconds)
	if err != nil {
		m.failuresTotal.WithLabelValues(t.String()).Inc()
	}
}
