package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP holds the request metrics of one API process
type HTTP struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	size     *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewHTTP registers the request metrics on the default registry. Call it
// once per process; use NewHTTPWithRegistry in tests.
func NewHTTP(service string) *HTTP {
	return NewHTTPWithRegistry(prometheus.DefaultRegisterer, service)
}

func NewHTTPWithRegistry(reg prometheus.Registerer, service string) *HTTP {
	f := promauto.With(reg)
	labels := prometheus.Labels{"service": service}
	return &HTTP{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "HTTP requests by route and status",
			ConstLabels: labels,
		}, []string{"method", "endpoint", "status"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency in seconds",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		size: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_response_size_bytes",
			Help:        "HTTP response body size",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(64, 4, 7),
		}, []string{"endpoint"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name:        "http_requests_in_flight",
			Help:        "HTTP requests being served",
			ConstLabels: labels,
		}),
	}
}

// Begin marks a request in flight; call the returned func when it is done
func (m *HTTP) Begin() (done func()) {
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// Observe records one finished request. Negative sizes are skipped.
func (m *HTTP) Observe(method, endpoint string, status, size int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, endpoint).Observe(elapsed.Seconds())
	if size >= 0 {
		m.size.WithLabelValues(endpoint).Observe(float64(size))
	}
}
