// Package metrics exports cache and event statistics of a workspace as
// Prometheus metrics.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentic-research/skein/internal/delta"
	"github.com/agentic-research/skein/internal/store"
	"github.com/agentic-research/skein/internal/workspace"
)

const namespace = "skein"

// Source reports the state of the body and buffer stores.
type Source interface {
	Stats() ([]store.TierStats, store.BufferStats)
}

// Collector reads cache statistics on every scrape and counts published
// events.
type Collector struct {
	src Source

	tierLen       *prometheus.Desc
	tierCapacity  *prometheus.Desc
	tierHits      *prometheus.Desc
	tierMisses    *prometheus.Desc
	tierEvictions *prometheus.Desc
	tierRefusals  *prometheus.Desc

	bufLen       *prometheus.Desc
	bufCapacity  *prometheus.Desc
	bufDirty     *prometheus.Desc
	bufEvictions *prometheus.Desc
	bufRefusals  *prometheus.Desc

	events  *prometheus.CounterVec
	changes *prometheus.CounterVec
}

// New creates a collector over src.
func New(src Source) *Collector {
	tier := []string{"tier"}
	desc := func(sub, name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, sub, name), help, labels, nil)
	}
	return &Collector{
		src:           src,
		tierLen:       desc("bodies", "open", "Bodies held in the tier.", tier),
		tierCapacity:  desc("bodies", "capacity", "Tier capacity, 0 when pinned.", tier),
		tierHits:      desc("bodies", "hits_total", "Body lookups served from the tier.", tier),
		tierMisses:    desc("bodies", "misses_total", "Body lookups that missed the tier.", tier),
		tierEvictions: desc("bodies", "evictions_total", "Elements closed to bring the tier under capacity.", tier),
		tierRefusals:  desc("bodies", "refusals_total", "Eviction candidates that could not be closed.", tier),
		bufLen:        desc("buffers", "open", "Open buffers.", nil),
		bufCapacity:   desc("buffers", "capacity", "Buffer store capacity.", nil),
		bufDirty:      desc("buffers", "dirty", "Buffers with unsaved changes.", nil),
		bufEvictions:  desc("buffers", "evictions_total", "Buffers closed to bring the store under capacity.", nil),
		bufRefusals:   desc("buffers", "refusals_total", "Buffers kept open because they hold unsaved changes.", nil),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Deltas published, by operation.",
		}, []string{"op"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delta_nodes_total",
			Help:      "Elements reported in published deltas, by kind of change.",
		}, []string{"kind"}),
	}
}

// Observe counts ev. It is meant to be passed to Workspace.Subscribe.
func (c *Collector) Observe(ev workspace.Event) {
	c.events.WithLabelValues(string(ev.Op)).Inc()
	c.changes.WithLabelValues(kindLabel(delta.Added)).Add(float64(len(ev.Delta.Added())))
	c.changes.WithLabelValues(kindLabel(delta.Removed)).Add(float64(len(ev.Delta.Removed())))
	c.changes.WithLabelValues(kindLabel(delta.Changed)).Add(float64(len(ev.Delta.Changed())))
}

func kindLabel(k delta.Kind) string { return strings.ToLower(k.String()) }

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.tierLen, c.tierCapacity, c.tierHits, c.tierMisses, c.tierEvictions, c.tierRefusals,
		c.bufLen, c.bufCapacity, c.bufDirty, c.bufEvictions, c.bufRefusals,
	} {
		ch <- d
	}
	c.events.Describe(ch)
	c.changes.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	tiers, bufs := c.src.Stats()
	for _, t := range tiers {
		name := t.Tier.String()
		ch <- prometheus.MustNewConstMetric(c.tierLen, prometheus.GaugeValue, float64(t.Len), name)
		ch <- prometheus.MustNewConstMetric(c.tierCapacity, prometheus.GaugeValue, float64(t.Capacity), name)
		ch <- prometheus.MustNewConstMetric(c.tierHits, prometheus.CounterValue, float64(t.Hits), name)
		ch <- prometheus.MustNewConstMetric(c.tierMisses, prometheus.CounterValue, float64(t.Misses), name)
		ch <- prometheus.MustNewConstMetric(c.tierEvictions, prometheus.CounterValue, float64(t.Evictions), name)
		ch <- prometheus.MustNewConstMetric(c.tierRefusals, prometheus.CounterValue, float64(t.Refusals), name)
	}
	ch <- prometheus.MustNewConstMetric(c.bufLen, prometheus.GaugeValue, float64(bufs.Len))
	ch <- prometheus.MustNewConstMetric(c.bufCapacity, prometheus.GaugeValue, float64(bufs.Capacity))
	ch <- prometheus.MustNewConstMetric(c.bufDirty, prometheus.GaugeValue, float64(bufs.Dirty))
	ch <- prometheus.MustNewConstMetric(c.bufEvictions, prometheus.CounterValue, float64(bufs.Evictions))
	ch <- prometheus.MustNewConstMetric(c.bufRefusals, prometheus.CounterValue, float64(bufs.Refusals))
	c.events.Collect(ch)
	c.changes.Collect(ch)
}

// Register creates a collector over ws, subscribes it to ws events and
// registers it with reg. The returned func unsubscribes and unregisters.
func Register(reg prometheus.Registerer, ws *workspace.Workspace) (*Collector, func(), error) {
	c := New(ws)
	if err := reg.Register(c); err != nil {
		return nil, nil, err
	}
	cancel := ws.Subscribe(c.Observe)
	return c, func() {
		cancel()
		reg.Unregister(c)
	}, nil
}
