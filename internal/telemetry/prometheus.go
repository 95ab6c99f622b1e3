package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// promMetrics records counters, timers, and gauges via Prometheus
// client_golang, registered lazily per metric name the first time each is
// used (mirrors the teacher's ClueMetrics lazy-instrument pattern, swapped
// for Prometheus collectors since this repo's domain stack favors a scraped
// /metrics endpoint over OTEL push metrics).
type promMetrics struct {
	reg *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPrometheusMetrics constructs a Metrics recorder registered against reg.
// Pass the registry also mounted at the process's /metrics endpoint.
func NewPrometheusMetrics(reg *prometheus.Registry) Metrics {
	return &promMetrics{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func tagLabels(tags []string) (names, values []string) {
	for i := 0; i+1 < len(tags); i += 2 {
		names = append(names, tags[i])
		values = append(values, tags[i+1])
	}
	return names, values
}

func (m *promMetrics) IncCounter(name string, value float64, tags ...string) {
	names, values := tagLabels(tags)
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, names)
		m.reg.MustRegister(c)
		m.counters[name] = c
	}
	m.mu.Unlock()
	c.WithLabelValues(values...).Add(value)
}

func (m *promMetrics) RecordTimer(name string, d time.Duration, tags ...string) {
	names, values := tagLabels(tags)
	m.mu.Lock()
	h, ok := m.histograms[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name}, names)
		m.reg.MustRegister(h)
		m.histograms[name] = h
	}
	m.mu.Unlock()
	h.WithLabelValues(values...).Observe(d.Seconds())
}

func (m *promMetrics) RecordGauge(name string, value float64, tags ...string) {
	names, values := tagLabels(tags)
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, names)
		m.reg.MustRegister(g)
		m.gauges[name] = g
	}
	m.mu.Unlock()
	g.WithLabelValues(values...).Set(value)
}
