// Package metrics exposes prometheus instrumentation for the dispatch path.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat_relay"

type Recorder struct {
	gatherer prometheus.Gatherer

	dispatches *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	dropped    prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		gatherer: gatherer,
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_requests_total",
			Help:      "Chat completion requests forwarded upstream, by provider and upstream status.",
		}, []string{"provider", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_upstream_duration_seconds",
			Help:      "Time until the upstream returned response headers.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"provider"}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logsink_dropped_total",
			Help:      "Log sink entries dropped because the buffer was full.",
		}),
	}
}

// ObserveDispatch records an upstream exchange. status 0 means no response.
func (r *Recorder) ObserveDispatch(provider string, status int, d time.Duration) {
	if r == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	r.dispatches.WithLabelValues(provider, label).Inc()
	r.latency.WithLabelValues(provider).Observe(d.Seconds())
}

func (r *Recorder) ObserveDropped() {
	if r == nil {
		return
	}
	r.dropped.Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil || r.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
