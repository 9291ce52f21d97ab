package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mlgateway"

// Exporter mirrors collector events into a Prometheus registry.
type Exporter struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	failures  *prometheus.CounterVec
	backendUp prometheus.Gauge
}

func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by route and status."},
			[]string{"route", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Request latency by route.",
				Buckets:   []float64{0.05, 0.1, 0.3, 1, 2, 5, 10, 30},
			},
			[]string{"route"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "upstream_failures_total", Help: "Failed calls to the analytics backend."},
			[]string{"route", "kind"},
		),
		backendUp: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "backend_up", Help: "1 when the last health probe succeeded."},
		),
	}
	e.backendUp.Set(1)

	e.registry.MustRegister(
		e.requests, e.duration, e.failures, e.backendUp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return e
}

func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func (e *Exporter) observe(event MetricEvent) {
	if e == nil {
		return
	}

	switch event.Type {
	case EventResponseCompleted:
		e.requests.WithLabelValues(event.Route, strconv.Itoa(event.StatusCode)).Inc()
		e.duration.WithLabelValues(event.Route).Observe(event.Duration.Seconds())
	case EventUpstreamFailure:
		e.failures.WithLabelValues(event.Route, event.FailureKind).Inc()
	case EventHealthChanged:
		if event.Healthy {
			e.backendUp.Set(1)
		} else {
			e.backendUp.Set(0)
		}
	}
}
