// Package engmetrics wraps github.com/prometheus/client_golang, following
// the teacher's infrastructure/metrics package shape, but registers
// collectors lazily by name since the engine's metrics hook (spec §6)
// takes an arbitrary (kind, name, labels) triple at call time rather than
// a fixed, compile-time set of fields.
package engmetrics

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Kind is the closed set of Prometheus collector shapes the engine's
// metrics hook supports (spec §6: "metrics(counter/histogram/gauge,
// name, labels, value)").
type Kind string

const (
	KindCounter   Kind = "counter"
	KindHistogram Kind = "histogram"
	KindGauge     Kind = "gauge"
)

// Registry lazily creates and caches a collector per (kind, name) pair,
// inferring each collector's label schema from the first call's label
// keys. Subsequent calls for the same name must supply the same label
// keys; Observe returns an error rather than panicking prometheus's
// client on a label-cardinality mismatch.
type Registry struct {
	registerer prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	labelKeys  map[string][]string
}

// New creates a Registry backed by registerer. Pass prometheus.DefaultRegisterer
// for the process-wide default registry, or a fresh *prometheus.Registry
// per test to avoid collisions across test cases.
func New(registerer prometheus.Registerer) *Registry {
	return &Registry{
		registerer: registerer,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		labelKeys:  make(map[string][]string),
	}
}

// Observe records value against the named collector of the given kind,
// creating it on first use with labels' keys as its label schema.
func (r *Registry) Observe(kind Kind, name string, labels map[string]string, value float64) error {
	keys := sortedKeys(labels)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = labels[k]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.labelKeys[name]; ok {
		if !equalKeys(existing, keys) {
			return fmt.Errorf("engmetrics: %q previously registered with labels %v, got %v", name, existing, keys)
		}
	} else {
		r.labelKeys[name] = keys
	}

	switch kind {
	case KindCounter:
		c, ok := r.counters[name]
		if !ok {
			c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, keys)
			if err := r.register(c); err != nil {
				return err
			}
			r.counters[name] = c
		}
		c.WithLabelValues(values...).Add(value)
	case KindHistogram:
		h, ok := r.histograms[name]
		if !ok {
			h = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: name}, keys)
			if err := r.register(h); err != nil {
				return err
			}
			r.histograms[name] = h
		}
		h.WithLabelValues(values...).Observe(value)
	case KindGauge:
		g, ok := r.gauges[name]
		if !ok {
			g = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, keys)
			if err := r.register(g); err != nil {
				return err
			}
			r.gauges[name] = g
		}
		g.WithLabelValues(values...).Set(value)
	default:
		return fmt.Errorf("engmetrics: unknown kind %q", kind)
	}
	return nil
}

func (r *Registry) register(c prometheus.Collector) error {
	if r.registerer == nil {
		return nil
	}
	if err := r.registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

// CounterVec returns the counter collector registered under name, if any.
// Exposed for tests that need to assert on recorded values directly.
func (r *Registry) CounterVec(name string) *prometheus.CounterVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

func sortedKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
