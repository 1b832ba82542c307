package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics carries the engine's Prometheus collectors on a private registry
// so multiple engines in one process never collide.
type Metrics struct {
	registry *prometheus.Registry

	Ingests        prometheus.Counter
	FactsExtracted prometheus.Counter
	DedupHits      prometheus.Counter
	Merges         prometheus.Counter
	Supersessions  prometheus.Counter
	CausalHits     prometheus.Counter
	Retrievals     prometheus.Counter
	NodesServed    prometheus.Counter
	GuardConflicts prometheus.Counter
	QueueDepth     prometheus.Gauge
	ActiveNodes    prometheus.Gauge
}

// NewMetrics builds and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "synapse",
			Name:      name,
			Help:      help,
		})
		m.registry.MustRegister(c)
		return c
	}
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "synapse",
			Name:      name,
			Help:      help,
		})
		m.registry.MustRegister(g)
		return g
	}

	m.Ingests = counter("ingests_total", "Statements ingested.")
	m.FactsExtracted = counter("facts_extracted_total", "Facts produced by the extractor.")
	m.DedupHits = counter("dedup_hits_total", "Ingests resolved to an existing node.")
	m.Merges = counter("merges_total", "Semantic consolidations of near-identical nodes.")
	m.Supersessions = counter("supersessions_total", "Concept-key supersessions.")
	m.CausalHits = counter("causal_hits_total", "Sentences classified as causal relations.")
	m.Retrievals = counter("retrievals_total", "Context packet retrievals.")
	m.NodesServed = counter("nodes_served_total", "Nodes emitted into context packets.")
	m.GuardConflicts = counter("guard_conflicts_total", "Guardrail conflicts detected.")
	m.QueueDepth = gauge("correlator_queue_depth", "Items waiting in the correlator queue.")
	m.ActiveNodes = gauge("active_nodes", "Active nodes in the arena.")
	return m
}

// Registry returns the engine's private registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
