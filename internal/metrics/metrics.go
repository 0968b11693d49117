package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the ingestion pipeline's Prometheus collectors.
type Metrics struct {
	BlocksIndexed   *prometheus.CounterVec
	RawEvents       *prometheus.CounterVec
	EventsIndexed   *prometheus.CounterVec
	ReorgsDetected  *prometheus.CounterVec
	RetryAttempts   prometheus.Counter
	CursorHeight    *prometheus.GaugeVec
	PublishFailures prometheus.Counter
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BlocksIndexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainscope_blocks_indexed_total",
			Help: "Blocks ingested per chain.",
		}, []string{"chain_id"}),
		RawEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainscope_raw_events_total",
			Help: "Raw events persisted per chain.",
		}, []string{"chain_id"}),
		EventsIndexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainscope_events_indexed_total",
			Help: "Normalized events persisted per chain and type.",
		}, []string{"chain_id", "event_type"}),
		ReorgsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainscope_reorgs_detected_total",
			Help: "Reorgs detected and remediated per chain.",
		}, []string{"chain_id"}),
		RetryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainscope_retry_attempts_total",
			Help: "RPC retry attempts across all chains.",
		}),
		CursorHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chainscope_cursor_height",
			Help: "Latest indexed height per chain.",
		}, []string{"chain_id"}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainscope_publish_failures_total",
			Help: "Failed event publishes.",
		}),
	}

	reg.MustRegister(
		m.BlocksIndexed,
		m.RawEvents,
		m.EventsIndexed,
		m.ReorgsDetected,
		m.RetryAttempts,
		m.CursorHeight,
		m.PublishFailures,
	)
	return m
}

// NewNop returns metrics bound to a throwaway registry, for tests and
// optional wiring.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
