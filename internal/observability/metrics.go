package observability

import (
	"math"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// -----------------------------------------------------------------------
// Registry — Prometheus metrics for the hunter process
// -----------------------------------------------------------------------

// LatencyBuckets are the default bounds, in seconds, for latency histograms.
var LatencyBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Registry wraps a private Prometheus registry. Components keep their own
// atomic counters; counters and gauges here read them at scrape time instead
// of mirroring every increment.
type Registry struct {
	reg *prometheus.Registry

	mu         sync.Mutex
	histograms map[string]prometheus.Histogram
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		reg:        prometheus.NewRegistry(),
		histograms: make(map[string]prometheus.Histogram),
	}
}

// RegisterRuntime adds the Go runtime and process collectors.
func (r *Registry) RegisterRuntime() {
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// CounterFunc registers a counter read from fn at scrape time. It panics if
// name is already registered.
func (r *Registry) CounterFunc(name, help string, fn func() float64) prometheus.CounterFunc {
	c := prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, safe(fn))
	r.reg.MustRegister(c)
	return c
}

// GaugeFunc registers a gauge read from fn at scrape time.
func (r *Registry) GaugeFunc(name, help string, fn func() float64) prometheus.GaugeFunc {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, safe(fn))
	r.reg.MustRegister(g)
	return g
}

// Histogram returns the histogram registered under name, creating it with
// buckets on first use.
func (r *Registry) Histogram(name, help string, buckets []float64) prometheus.Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets})
	r.reg.MustRegister(h)
	r.histograms[name] = h
	return h
}

// PrometheusHandler serves the registry in the Prometheus exposition format.
func PrometheusHandler(r *Registry) http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}

// safe turns a panicking collector into NaN so one bad component cannot
// break a scrape.
func safe(fn func() float64) func() float64 {
	return func() (v float64) {
		defer func() {
			if recover() != nil {
				v = math.NaN()
			}
		}()
		return fn()
	}
}
