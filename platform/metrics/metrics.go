// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	InboundEvents      *prometheus.CounterVec
	OutboundSends      *prometheus.CounterVec
	FlowControlWaits   prometheus.Counter
	FlowControlSeconds prometheus.Histogram
	GenerationAttempts *prometheus.CounterVec
	GenerationDuration prometheus.Histogram
	FollowUpsEnqueued  prometheus.Counter
	SweepDuration      prometheus.Histogram
	StoreSaveDuration  prometheus.Histogram
	StoreSaveFailures  prometheus.Counter
	BackupsWritten     prometheus.Counter
	MarketLookups      *prometheus.CounterVec
	LeadsByTemperature *prometheus.GaugeVec
}

// New registers all collectors with reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		InboundEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lead_inbound_events_total",
			Help: "Inbound events processed by outcome",
		}, []string{"outcome"}),
		OutboundSends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lead_outbound_sends_total",
			Help: "Outbound sends by outcome",
		}, []string{"outcome"}),
		FlowControlWaits: f.NewCounter(prometheus.CounterOpts{
			Name: "lead_flow_control_signals_total",
			Help: "Flow-control signals received from the transport",
		}),
		FlowControlSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lead_flow_control_wait_seconds",
			Help:    "Wait requested by flow-control signals",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900},
		}),
		GenerationAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lead_generation_attempts_total",
			Help: "Generation provider calls by outcome kind",
		}, []string{"kind"}),
		GenerationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lead_generation_duration_seconds",
			Help:    "Time to produce a reply including retries",
			Buckets: prometheus.DefBuckets,
		}),
		FollowUpsEnqueued: f.NewCounter(prometheus.CounterOpts{
			Name: "lead_followups_enqueued_total",
			Help: "Follow-ups enqueued by the scheduler",
		}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lead_followup_sweep_duration_seconds",
			Help:    "Time taken by a follow-up sweep",
			Buckets: prometheus.DefBuckets,
		}),
		StoreSaveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lead_store_save_duration_seconds",
			Help:    "Time taken to commit the store document",
			Buckets: prometheus.DefBuckets,
		}),
		StoreSaveFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "lead_store_save_failures_total",
			Help: "Failed store commits",
		}),
		BackupsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "lead_store_backups_total",
			Help: "Backups written",
		}),
		MarketLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "market_lookups_total",
			Help: "Market quote lookups by source",
		}, []string{"source"}),
		LeadsByTemperature: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "leads_by_temperature",
			Help: "Current number of leads per temperature",
		}, []string{"temperature"}),
	}
}

// Nop returns collectors bound to a throwaway registry.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) ObserveSince(h prometheus.Observer, start time.Time) {
	if m == nil || h == nil {
		return
	}
	h.Observe(time.Since(start).Seconds())
}
