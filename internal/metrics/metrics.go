// Package metrics wires the broadcaster and EIT collector into a Prometheus
// registry. The repository has no HTTP surface, so nothing scrapes this
// registry today; a future exposition layer would mount it with
// promhttp.Handler via Gatherer.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds the counters and gauges incremented by the broadcaster and
// the EIT collector/feeder.
type Registry struct {
	reg *prometheus.Registry

	ChunksFannedOut prometheus.Counter
	ChunksDropped   prometheus.Counter
	Subscribers     prometheus.Gauge

	EitSections prometheus.Counter
	EitFlushes  prometheus.Counter
}

// New constructs a Registry with every metric registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		ChunksFannedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunerd_chunks_fanned_out_total",
			Help: "Total chunks successfully enqueued to a subscriber outbox.",
		}),
		ChunksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunerd_chunks_dropped_total",
			Help: "Total chunks dropped because a subscriber outbox was full.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tunerd_subscribers",
			Help: "Current number of subscribers across all broadcasters.",
		}),
		EitSections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunerd_eit_sections_total",
			Help: "Total EIT sections read by the collector.",
		}),
		EitFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunerd_eit_flushes_total",
			Help: "Total FlushSchedules calls issued by the collector.",
		}),
	}
	r.reg.MustRegister(r.ChunksFannedOut, r.ChunksDropped, r.Subscribers, r.EitSections, r.EitFlushes)
	return r
}

// Gatherer exposes the underlying registry for a future HTTP exposition
// layer to scrape.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
