package transport

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		requests: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "launchkey",
				Subsystem: "sdk",
				Name:      "transport_requests_total",
				Help:      "Number of LaunchKey API calls by operation and HTTP status code.",
			}, []string{"operation", "code"})),
		duration: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "launchkey",
				Subsystem: "sdk",
				Name:      "transport_request_duration_seconds",
				Help:      "Duration of LaunchKey API calls, including encryption and verification.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"})),
	}
}

// register registers c, or returns the collector already registered under
// the same descriptor so that several transports can share a registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

// observe records a call. A zero status means no response was received.
func (m *metrics) observe(operation string, status int, elapsed time.Duration) {
	code := "error"
	if status != 0 {
		code = strconv.Itoa(status)
	}

	m.requests.WithLabelValues(operation, code).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
