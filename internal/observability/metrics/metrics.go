// Package metrics provides Prometheus instrumentation for deployments and the
// HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deployer"

// Deployment outcome labels.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Recorder owns a dedicated registry so several instances can coexist in tests.
type Recorder struct {
	registry *prometheus.Registry

	deployments    *prometheus.CounterVec
	deployDuration *prometheus.HistogramVec
	estimatedGas   *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewRecorder registers all collectors on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_total",
			Help:      "Total number of contract deployments by chain and outcome.",
		}, []string{"chain", "status", "code"}),
		deployDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deploy_duration_seconds",
			Help:      "Time from dialing the node to confirmed inclusion.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"chain"}),
		estimatedGas: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "estimated_gas",
			Help:      "Gas limit estimated for contract creation transactions.",
			Buckets:   prometheus.ExponentialBuckets(50_000, 2, 10),
		}, []string{"chain"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler", "method"}),
	}

	r.registry.MustRegister(
		r.deployments,
		r.deployDuration,
		r.estimatedGas,
		r.httpRequests,
		r.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveDeployment records the outcome of one deployment. code is the error
// code for failures and empty on success.
func (r *Recorder) ObserveDeployment(chain, status, code string, duration time.Duration) {
	if r == nil {
		return
	}
	r.deployments.WithLabelValues(chain, status, code).Inc()
	if status == StatusSucceeded {
		r.deployDuration.WithLabelValues(chain).Observe(duration.Seconds())
	}
}

// ObserveEstimatedGas records a gas estimate.
func (r *Recorder) ObserveEstimatedGas(chain string, gas uint64) {
	if r == nil {
		return
	}
	r.estimatedGas.WithLabelValues(chain).Observe(float64(gas))
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (r *Recorder) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler exposes the metrics in Prometheus text exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
