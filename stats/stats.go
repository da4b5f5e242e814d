// Package stats defines the metrics client the Storage Manager reports
// through, backed by prometheus/client_golang.
package stats

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Client is the metrics surface the storage engine reports through: tile
// cache hit/miss counts, thread pool queue depth, in-progress query
// count, fragment load timings.
type Client interface {
	Count(name string, value int64, tags ...string)
	Gauge(name string, value float64, tags ...string)
	Timing(name string, d time.Duration, tags ...string)
}

// NopClient discards everything.
var NopClient Client = nopClient{}

type nopClient struct{}

func (nopClient) Count(name string, value int64, tags ...string)      {}
func (nopClient) Gauge(name string, value float64, tags ...string)    {}
func (nopClient) Timing(name string, d time.Duration, tags ...string) {}

// PromClient reports to a prometheus registry. Counters and gauges are
// created lazily per metric name on first use and cached, since the
// Storage Manager calls through the Client interface without knowing in
// advance which metric names it will ever touch (tile cache keys, pool
// names).
type PromClient struct {
	namespace string
	reg       prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPromClient builds a Client reporting into reg under namespace. Pass
// prometheus.DefaultRegisterer to use the global registry.
func NewPromClient(namespace string, reg prometheus.Registerer) *PromClient {
	return &PromClient{
		namespace:  namespace,
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// sanitizeName turns a dotted metric name (the convention the storage
// engine names its own metrics with, e.g. "sm.tile_cache.hit") into a
// valid Prometheus metric name, which permits only [a-zA-Z0-9_:].
func sanitizeName(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

func (c *PromClient) counter(name string) *prometheus.CounterVec {
	name = sanitizeName(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.counters[name]; ok {
		return v
	}
	v := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      name,
	}, []string{"tag"})
	c.reg.MustRegister(v)
	c.counters[name] = v
	return v
}

func (c *PromClient) gauge(name string) *prometheus.GaugeVec {
	name = sanitizeName(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.gauges[name]; ok {
		return v
	}
	v := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Name:      name,
	}, []string{"tag"})
	c.reg.MustRegister(v)
	c.gauges[name] = v
	return v
}

func (c *PromClient) histogram(name string) *prometheus.HistogramVec {
	name = sanitizeName(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.histograms[name]; ok {
		return v
	}
	v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Name:      name,
	}, []string{"tag"})
	c.reg.MustRegister(v)
	c.histograms[name] = v
	return v
}

func firstTag(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return tags[0]
}

func (c *PromClient) Count(name string, value int64, tags ...string) {
	c.counter(name).WithLabelValues(firstTag(tags)).Add(float64(value))
}

func (c *PromClient) Gauge(name string, value float64, tags ...string) {
	c.gauge(name).WithLabelValues(firstTag(tags)).Set(value)
}

func (c *PromClient) Timing(name string, d time.Duration, tags ...string) {
	c.histogram(name).WithLabelValues(firstTag(tags)).Observe(d.Seconds())
}
