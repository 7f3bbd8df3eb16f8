package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the Prometheus view of the fabric's counters.
type Metrics struct {
	Published     prometheus.Counter
	Dropped       prometheus.Counter
	DedupHits     prometheus.Counter
	Gated         prometheus.Counter
	QKDViolations prometheus.Counter
	Fallbacks     prometheus.Counter
}

// NewMetrics builds and registers the counter set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glyphnet_messages_published_total",
			Help: "Envelopes published to the bus.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glyphnet_deliveries_dropped_total",
			Help: "Deliveries dropped to full subscriber queues.",
		}),
		DedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glyphnet_dedup_hits_total",
			Help: "Messages suppressed as duplicates.",
		}),
		Gated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glyphnet_envelopes_gated_total",
			Help: "Envelopes gated by the phase scheduler.",
		}),
		QKDViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glyphnet_qkd_violations_total",
			Help: "Dispatches rejected by QKD policy.",
		}),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glyphnet_transport_fallbacks_total",
			Help: "Dispatches that fell through to a lower-priority transport.",
		}),
	}
	reg.MustRegister(m.Published, m.Dropped, m.DedupHits, m.Gated, m.QKDViolations, m.Fallbacks)
	return m
}
