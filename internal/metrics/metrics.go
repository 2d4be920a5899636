package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "filez"

// Metrics groups the counters of the file lifecycle
type Metrics struct {
	FilesDeleted  *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	Downloads     *prometheus.CounterVec
	Extensions    *prometheus.CounterVec
	Uploads       prometheus.Counter
	SweepDuration prometheus.Histogram
}

// New registers the metrics on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FilesDeleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_deleted_total",
				Help:      "Files removed, by trigger and result.",
			},
			[]string{"trigger", "result"}),
		Notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Emails handed to the mail transport, by kind and result.",
			},
			[]string{"kind", "result"}),
		Downloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "download_decisions_total",
				Help:      "Download authorization decisions.",
			},
			[]string{"decision"}),
		Extensions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extensions_total",
				Help:      "Lifetime extension attempts, by result.",
			},
			[]string{"result"}),
		Uploads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "Files uploaded.",
			}),
		SweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Duration of expiration sweeps.",
				Buckets:   prometheus.DefBuckets,
			}),
	}
}
