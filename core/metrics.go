package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the exporter's prometheus instruments.
type Metrics struct {
	DumpSteps       prometheus.Counter
	DumpsStarted    prometheus.Counter
	DumpsInProgress prometheus.Gauge
	DumpsFailed     prometheus.Counter
	RecordsEmitted  *prometheus.CounterVec
	EmitErrors      *prometheus.CounterVec
	RecordBytes     prometheus.Histogram
}

// NewMetrics creates the instruments and registers them with registry.
// A nil registry leaves them unregistered, which tests rely on.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		DumpSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mrtd",
			Name:      "dump_steps_total",
			Help:      "Bounded walk steps executed",
		}),
		DumpsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mrtd",
			Name:      "dumps_started_total",
			Help:      "Table dumps started",
		}),
		DumpsInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mrtd",
			Name:      "dumps_in_progress",
			Help:      "Table dumps currently being walked",
		}),
		DumpsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mrtd",
			Name:      "dumps_failed_total",
			Help:      "Table dumps aborted because a record could not be built",
		}),
		RecordsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mrtd",
			Name:      "records_emitted_total",
			Help:      "MRT records handed to the sinks",
		}, []string{"subtype"}),
		EmitErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mrtd",
			Name:      "emit_errors_total",
			Help:      "MRT records a sink failed to write",
		}, []string{"sink"}),
		RecordBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mrtd",
			Name:      "record_bytes",
			Help:      "Size of emitted MRT records",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}),
	}

	if registry != nil {
		registry.MustRegister(
			m.DumpSteps,
			m.DumpsStarted,
			m.DumpsInProgress,
			m.DumpsFailed,
			m.RecordsEmitted,
			m.EmitErrors,
			m.RecordBytes,
		)
	}
	return m
}
