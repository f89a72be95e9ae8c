package reminders

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the reminder dispatcher.
type Metrics struct {
	// SentTotal counts finished candidate sends by outcome and source.
	SentTotal *prometheus.CounterVec

	// SweepsTotal counts sweep invocations by source and result
	// (ok, skipped_quiet_hours, skipped_overlap, error).
	SweepsTotal *prometheus.CounterVec

	// CandidatesDue is the number of due candidates seen by the last sweep.
	CandidatesDue *prometheus.GaugeVec

	// SendDuration is the time to deliver one notification.
	SendDuration prometheus.Histogram
}

// NewMetrics creates and registers dispatcher metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SentTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminders_sent_total",
				Help:      "Total number of reminder sends by outcome",
			},
			[]string{"source", "status"},
		),

		SweepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminder_sweeps_total",
				Help:      "Total number of dispatcher sweeps by result",
			},
			[]string{"source", "result"},
		),

		CandidatesDue: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reminder_candidates_due",
				Help:      "Due candidates found by the most recent sweep",
			},
			[]string{"source"},
		),

		SendDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reminder_send_duration_seconds",
				Help:      "Time to deliver one reminder notification",
				Buckets:   []float64{.01, .05, .1, .5, 1, 2, 5},
			},
		),
	}
}

// IncSent increments the per-source send counter.
func (m *Metrics) IncSent(source, status string) {
	if m == nil {
		return
	}
	m.SentTotal.WithLabelValues(source, status).Inc()
}

// IncSweep increments the per-source sweep counter.
func (m *Metrics) IncSweep(source, result string) {
	if m == nil {
		return
	}
	m.SweepsTotal.WithLabelValues(source, result).Inc()
}

// SetDue records the due-candidate count for a source.
func (m *Metrics) SetDue(source string, n int) {
	if m == nil {
		return
	}
	m.CandidatesDue.WithLabelValues(source).Set(float64(n))
}

// ObserveSendDuration records a single delivery duration.
func (m *Metrics) ObserveSendDuration(seconds float64) {
	if m == nil {
		return
	}
	m.SendDuration.Observe(seconds)
}
