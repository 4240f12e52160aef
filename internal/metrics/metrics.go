// Package metrics holds the Prometheus collectors for batches, renders and
// sends. A nil *Recorder records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder groups the collectors registered on one registry.
type Recorder struct {
	rows           *prometheus.CounterVec
	batches        *prometheus.CounterVec
	renderDuration prometheus.Histogram
	sendDuration   *prometheus.HistogramVec
	relaySends     *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certmail_batch_rows_total",
				Help: "Batch rows processed, by outcome.",
			},
			[]string{"status"},
		),
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certmail_batches_total",
				Help: "Batch runs, by result.",
			},
			[]string{"result"},
		),
		renderDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "certmail_render_duration_seconds",
				Help:    "Time spent rendering one personalised image.",
				Buckets: prometheus.DefBuckets,
			},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "certmail_dispatch_duration_seconds",
				Help:    "Time spent handing one message to the mail transport.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		relaySends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certmail_relay_sends_total",
				Help: "Messages handled by the mail transport, by provider and status.",
			},
			[]string{"provider", "status"},
		),
	}
	reg.MustRegister(r.rows, r.batches, r.renderDuration, r.sendDuration, r.relaySends)
	return r
}

// Row counts one batch row outcome ("sent", "failed", "cancelled").
func (r *Recorder) Row(status string) {
	if r == nil {
		return
	}
	r.rows.WithLabelValues(status).Inc()
}

// Batch counts one batch run ("completed", "cancelled", "rejected").
func (r *Recorder) Batch(result string) {
	if r == nil {
		return
	}
	r.batches.WithLabelValues(result).Inc()
}

// Render observes the duration of one render.
func (r *Recorder) Render(d time.Duration) {
	if r == nil {
		return
	}
	r.renderDuration.Observe(d.Seconds())
}

// Dispatch observes the duration of one dispatch call.
func (r *Recorder) Dispatch(status string, d time.Duration) {
	if r == nil {
		return
	}
	r.sendDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RelaySend counts one message handled by the transport.
func (r *Recorder) RelaySend(provider, status string) {
	if r == nil {
		return
	}
	r.relaySends.WithLabelValues(provider, status).Inc()
}
