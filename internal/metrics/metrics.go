// Package metrics exposes Prometheus collectors for the portal.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	backendCallsTotal          *prometheus.CounterVec
	backendCallDurationSeconds *prometheus.HistogramVec
	requesterPaysFlaggedTotal  prometheus.Counter
	errorsReportedTotal        prometheus.Counter
	overrideRules              prometheus.Gauge
	overrideReloadsTotal       *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		backendCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_backend_calls_total",
				Help: "Total number of backend calls, labeled by service, method and outcome.",
			},
			[]string{"service", "method", "outcome"},
		)

		backendCallDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_backend_call_duration_seconds",
				Help:    "Histogram of backend call latencies, labeled by service.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"service"},
		)

		requesterPaysFlaggedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_requester_pays_flagged_total",
				Help: "Total number of buckets newly discovered to be requester pays.",
			},
		)

		errorsReportedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_errors_reported_total",
				Help: "Total number of failures passed to the error reporter.",
			},
		)

		overrideRules = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "portal_override_rules",
				Help: "Number of request override rules currently installed.",
			},
		)

		overrideReloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_override_reloads_total",
				Help: "Total number of override file reloads, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveOverrideReload records an override file reload and the resulting rule count.
func ObserveOverrideReload(rules int, err error) {
	if err != nil {
		overrideReloadsTotal.WithLabelValues("error").Inc()
		return
	}
	overrideReloadsTotal.WithLabelValues("ok").Inc()
	overrideRules.Set(float64(rules))
}

// Recorder feeds pipeline and portal callbacks into the collectors. It implements
// ajax.Observer, events.Counter and errorreport.Counter.
type Recorder struct{}

// NewRecorder initializes the collectors and returns a Recorder.
func NewRecorder() Recorder {
	Init()
	return Recorder{}
}

// ObserveCall implements ajax.Observer.
func (Recorder) ObserveCall(service, method, outcome string, _ int, duration time.Duration) {
	backendCallsTotal.WithLabelValues(service, method, outcome).Inc()
	backendCallDurationSeconds.WithLabelValues(service).Observe(duration.Seconds())
}

// RequesterPaysFlagged counts a newly flagged bucket.
func (Recorder) RequesterPaysFlagged() {
	requesterPaysFlaggedTotal.Inc()
}

// ErrorReported counts a reported failure.
func (Recorder) ErrorReported(string) {
	errorsReportedTotal.Inc()
}
