// Package prom implements a Prometheus scrape backend for the metrics
// package.
//
// Collectors live in a private registry exposed through Handler, so several
// databases in one process never collide on registration.
package prom

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/sheetdb/internal/metrics"
)

// Backend records engine metrics into Prometheus collectors.
type Backend struct {
	reg *prometheus.Registry

	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	labels     map[string][]string
}

// New registers the engine collectors on a fresh registry.
func New() (*Backend, error) {
	b := &Backend{
		reg:        prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labels:     make(map[string][]string),
	}

	counters := []struct {
		name, help string
		labels     []string
	}{
		{metrics.OperationsTotal, "Engine operations, partitioned by table, op and status.", []string{"table", "op", "status"}},
		{metrics.CacheLookups, "Cached reads, partitioned by table and hit or miss.", []string{"table", "result"}},
		{metrics.IntegrityRepairs, "Junction rows moved to history by integrity checks.", []string{"table"}},
	}
	for _, c := range counters {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: c.name, Help: c.help}, c.labels)
		if err := b.reg.Register(vec); err != nil {
			return nil, fmt.Errorf("prom: register %s: %w", c.name, err)
		}
		b.counters[c.name] = vec
		b.labels[c.name] = c.labels
	}

	histograms := []struct {
		name, help string
		labels     []string
	}{
		{metrics.OperationDuration, "Duration of engine operations in seconds.", []string{"table", "op", "status"}},
		{metrics.LockWaitSeconds, "Time spent waiting for a table lock in seconds.", []string{"table", "outcome"}},
	}
	for _, h := range histograms {
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    h.name,
			Help:    h.help,
			Buckets: prometheus.DefBuckets,
		}, h.labels)
		if err := b.reg.Register(vec); err != nil {
			return nil, fmt.Errorf("prom: register %s: %w", h.name, err)
		}
		b.histograms[h.name] = vec
		b.labels[h.name] = h.labels
	}

	if err := b.reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("prom: register go collector: %w", err)
	}
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are dropped.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	vec, ok := b.counters[name]
	if !ok {
		return
	}
	vec.WithLabelValues(b.values(name, labels)...).Add(delta)
}

// ObserveHistogram implements metrics.Backend. Unknown names are dropped.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	vec, ok := b.histograms[name]
	if !ok {
		return
	}
	vec.WithLabelValues(b.values(name, labels)...).Observe(value)
}

// Registry returns the registry holding the engine collectors.
func (b *Backend) Registry() *prometheus.Registry {
	return b.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (b *Backend) Handler() http.Handler {
	return promhttp.HandlerFor(b.reg, promhttp.HandlerOpts{})
}

func (b *Backend) values(name string, labels metrics.Labels) []string {
	keys := b.labels[name]
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = labels[k]
	}
	return out
}
