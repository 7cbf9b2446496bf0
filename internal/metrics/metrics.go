// Package metrics wires the engine's counters and gauges onto
// prometheus/client_golang — the teacher declares this dependency in
// go.mod but never imports it anywhere; this is the first real use of it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus metric the protocol engine updates over
// its lifetime. A nil *Collector is never passed around — use NewCollector
// or NewNopCollector (for tests/embedders that don't expose metrics).
type Collector struct {
	reg *prometheus.Registry

	ticksTotal        prometheus.Counter
	messagesSentTotal *prometheus.CounterVec
	messagesRecvTotal *prometheus.CounterVec
	bytesSentTotal    prometheus.Counter
	bytesRecvTotal    prometheus.Counter

	liveNodes prometheus.Gauge
	deadNodes prometheus.Gauge

	phiScore *prometheus.GaugeVec

	deltasTruncatedTotal prometheus.Counter
	gcRemovedTotal       prometheus.Counter
}

// NewCollector creates a Collector and registers every metric with a fresh
// prometheus.Registry, returned so the embedder can expose it however it
// likes (an HTTP handler, a push gateway, etc — out of this engine's scope).
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		reg: reg,
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chitchat",
			Name:      "ticks_total",
			Help:      "Number of gossip ticks executed.",
		}),
		messagesSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chitchat",
			Name:      "messages_sent_total",
			Help:      "Protocol messages sent, by tag.",
		}, []string{"tag"}),
		messagesRecvTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chitchat",
			Name:      "messages_received_total",
			Help:      "Protocol messages received, by tag.",
		}, []string{"tag"}),
		bytesSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chitchat",
			Name:      "bytes_sent_total",
			Help:      "Serialized bytes sent over the transport.",
		}),
		bytesRecvTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chitchat",
			Name:      "bytes_received_total",
			Help:      "Serialized bytes received over the transport.",
		}),
		liveNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chitchat",
			Name:      "live_nodes",
			Help:      "Current size of the live-node set.",
		}),
		deadNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chitchat",
			Name:      "dead_nodes",
			Help:      "Current size of the dead-node set.",
		}),
		phiScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chitchat",
			Name:      "phi_score",
			Help:      "Current phi suspicion score per peer.",
		}, []string{"node_id"}),
		deltasTruncatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chitchat",
			Name:      "deltas_truncated_total",
			Help:      "Deltas that hit the MTU budget before shipping full state.",
		}),
		gcRemovedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chitchat",
			Name:      "gc_removed_total",
			Help:      "NodeStates dropped by garbage collection.",
		}),
	}
	reg.MustRegister(
		c.ticksTotal, c.messagesSentTotal, c.messagesRecvTotal,
		c.bytesSentTotal, c.bytesRecvTotal, c.liveNodes, c.deadNodes,
		c.phiScore, c.deltasTruncatedTotal, c.gcRemovedTotal,
	)
	return c
}

// Registry exposes the underlying prometheus.Registry for the embedder to
// mount behind an HTTP handler or any other exporter.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Tick() { c.ticksTotal.Inc() }

func (c *Collector) MessageSent(tag string, bytes int) {
	c.messagesSentTotal.WithLabelValues(tag).Inc()
	c.bytesSentTotal.Add(float64(bytes))
}

func (c *Collector) MessageReceived(tag string, bytes int) {
	c.messagesRecvTotal.WithLabelValues(tag).Inc()
	c.bytesRecvTotal.Add(float64(bytes))
}

func (c *Collector) SetLiveDeadCounts(live, dead int) {
	c.liveNodes.Set(float64(live))
	c.deadNodes.Set(float64(dead))
}

func (c *Collector) SetPhi(nodeID string, phi float64) {
	c.phiScore.WithLabelValues(nodeID).Set(phi)
}

func (c *Collector) DeltaTruncated() { c.deltasTruncatedTotal.Inc() }

func (c *Collector) NodeGCed() { c.gcRemovedTotal.Inc() }

// NewNopCollector returns a Collector backed by its own throwaway
// prometheus.Registry, for embedders that want every engine call site to
// have a non-nil Collector without exposing metrics anywhere.
func NewNopCollector() *Collector {
	return NewCollector()
}
