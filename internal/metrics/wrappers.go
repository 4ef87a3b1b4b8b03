package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// register adds the collector to the default registry. When a collector with
// the same fully-qualified name and label set already exists, the existing
// one is returned so callers can create wrappers idempotently.
func register[C prometheus.Collector](c C) C {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// Counter is a registered counter with constant labels, for metrics whose
// label values are only known at runtime, such as the session id.
type Counter struct {
	counter prometheus.Counter
}

func NewCounter(name, help string, labels map[string]string) *Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	})
	return &Counter{counter: register(prometheus.Counter(c))}
}

func (c *Counter) Inc() { c.counter.Inc() }

func (c *Counter) Add(v float64) { c.counter.Add(v) }

// Gauge is a registered gauge with constant labels.
type Gauge struct {
	gauge prometheus.Gauge
}

func NewGauge(name, help string, labels map[string]string) *Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	})
	return &Gauge{gauge: register(prometheus.Gauge(g))}
}

func (g *Gauge) Set(v float64) { g.gauge.Set(v) }

func (g *Gauge) Inc() { g.gauge.Inc() }

func (g *Gauge) Dec() { g.gauge.Dec() }

func (g *Gauge) Add(v float64) { g.gauge.Add(v) }

func (g *Gauge) Sub(v float64) { g.gauge.Sub(v) }

// Histogram is a registered histogram with constant labels. nil buckets fall
// back to the client default.
type Histogram struct {
	histogram prometheus.Histogram
}

func NewHistogram(name, help string, labels map[string]string, buckets []float64) *Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        name,
		Help:        help,
		ConstLabels: labels,
		Buckets:     buckets,
	})
	return &Histogram{histogram: register(prometheus.Histogram(h))}
}

func (h *Histogram) Observe(v float64) { h.histogram.Observe(v) }
