// Package metrics is a lightweight in-process metrics collector. It keeps
// counters and gauges and renders them in Prometheus exposition format for
// the status command, without pulling in the prometheus client library.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default is the process-wide collector.
var Default = New()

// Collector aggregates named counters and gauges.
type Collector struct {
	mu        sync.Mutex
	counters  map[string]*Counter
	gauges    map[string]*Gauge
	startTime time.Time
}

// New creates an empty collector.
func New() *Collector {
	return &Collector{
		counters:  make(map[string]*Counter),
		gauges:    make(map[string]*Gauge),
		startTime: time.Now(),
	}
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Counter returns the counter with the given name, creating it on first use.
func (c *Collector) Counter(name, help string) *Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.counters[name]; ok {
		return ctr
	}
	ctr := &Counter{name: name, help: help}
	c.counters[name] = ctr
	return ctr
}

// Gauge returns the gauge with the given name, creating it on first use.
func (c *Collector) Gauge(name, help string) *Gauge {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.gauges[name]; ok {
		return g
	}
	g := &Gauge{name: name, help: help}
	c.gauges[name] = g
	return g
}

// Uptime returns how long the collector has existed.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Handler serves the exposition-format dump over HTTP.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprint(w, c.Render())
	})
}

// Render produces the exposition-format dump, metrics sorted by name.
func (c *Collector) Render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	names := make([]string, 0, len(c.counters))
	for name := range c.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ctr := c.counters[name]
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, ctr.help, name, name, ctr.Value())
	}

	names = names[:0]
	for name := range c.gauges {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		g := c.gauges[name]
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", name, g.help, name, name, g.Value())
	}
	return b.String()
}
