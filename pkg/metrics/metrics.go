// Package metrics instruments the transport with Prometheus counters and a
// latency histogram. A Collector implements transport.Observer.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sufield/vdp/pkg/apierr"
)

const namespace = "vdp_client"

// Collector records request outcomes. Register it once per registry; several
// clients may share one Collector.
type Collector struct {
	requests *prometheus.CounterVec
	failures *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewCollector builds the metric vectors without registering them.
func NewCollector() *Collector {
	return &Collector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Number of requests that received a response, by method and status code",
			},
			[]string{"method", "code"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "request_failures_total",
				Help:      "Number of requests that failed before a response, by error category",
			},
			[]string{"method", "category"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request latency including the TLS handshake when one was needed",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}
}

// Register adds the collector's metrics to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, m := range []prometheus.Collector{c.requests, c.failures, c.latency} {
		if err := reg.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// ObserveRequest implements transport.Observer. Paths are not used as
// labels; they can carry identifiers.
func (c *Collector) ObserveRequest(method, _ string, status int, category apierr.Category, elapsed time.Duration) {
	c.latency.WithLabelValues(method).Observe(elapsed.Seconds())
	if category != apierr.CategoryUnknown {
		c.failures.WithLabelValues(method, category.String()).Inc()
		return
	}
	c.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
