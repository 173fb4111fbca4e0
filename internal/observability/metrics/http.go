package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics contains Prometheus metrics for API requests.
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateLimited     prometheus.Counter
	authFailures    *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers the HTTP metrics.
func NewHTTPMetrics(registry prometheus.Registerer) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "florai_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "florai_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "florai_http_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "florai_http_auth_failures_total",
			Help: "Rejected bearer tokens by reason",
		}, []string{"reason"}),
	}
	for _, c := range []prometheus.Collector{m.requestsTotal, m.requestDuration, m.rateLimited, m.authFailures} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
		}
	}
	return m, nil
}

// ObserveRequest records a completed request.
func (m *HTTPMetrics) ObserveRequest(method, route string, code int, seconds float64) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(seconds)
}

// IncRateLimited counts a request rejected by the rate limiter.
func (m *HTTPMetrics) IncRateLimited() {
	m.rateLimited.Inc()
}

// IncAuthFailure counts a rejected token.
func (m *HTTPMetrics) IncAuthFailure(reason string) {
	m.authFailures.WithLabelValues(reason).Inc()
}
