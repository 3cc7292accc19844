// Package metrics exposes Prometheus instrumentation for the validator and
// gateway processes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gatherx"

// Metrics holds the collectors shared across the process's components. Create
// one per process with New and expose it through Handler.
type Metrics struct {
	// EvaluationsTotal counts finished miner evaluations.
	// Labels: outcome (valid, invalid)
	EvaluationsTotal *prometheus.CounterVec

	// EvaluationSeconds measures end-to-end evaluation duration.
	EvaluationSeconds prometheus.Histogram

	// ValidatedBytesTotal counts content bytes that passed verification.
	ValidatedBytesTotal prometheus.Counter

	// TrackedMiners tracks the number of miners in the evaluation rotation.
	TrackedMiners prometheus.Gauge

	// RegistrySyncsTotal counts registry sync attempts.
	// Labels: status (success, error)
	RegistrySyncsTotal *prometheus.CounterVec

	// SnapshotPushesTotal counts databox snapshot pushes to ClickHouse.
	// Labels: status (success, error)
	SnapshotPushesTotal *prometheus.CounterVec

	// WSClients tracks live websocket subscribers on the gateway.
	WSClients prometheus.Gauge
}

// New registers the collectors on reg and returns them. Pass a fresh registry
// per process; registering the same collector twice panics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EvaluationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Finished miner evaluations by outcome",
			},
			[]string{"outcome"},
		),
		EvaluationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "End-to-end duration of one miner evaluation",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		ValidatedBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validated_bytes_total",
				Help:      "Content bytes that passed verification",
			},
		),
		TrackedMiners: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tracked_miners",
				Help:      "Miners currently in the evaluation rotation",
			},
		),
		RegistrySyncsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registry_syncs_total",
				Help:      "Registry sync attempts by status",
			},
			[]string{"status"},
		),
		SnapshotPushesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshot_pushes_total",
				Help:      "Databox snapshot pushes by status",
			},
			[]string{"status"},
		),
		WSClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_clients",
				Help:      "Live websocket subscribers",
			},
		),
	}
}

// ObserveEvaluation records one finished evaluation.
func (m *Metrics) ObserveEvaluation(valid bool, validatedBytes int64, duration time.Duration) {
	m.EvaluationsTotal.WithLabelValues(outcomeLabel(valid)).Inc()
	m.EvaluationSeconds.Observe(duration.Seconds())
	if validatedBytes > 0 {
		m.ValidatedBytesTotal.Add(float64(validatedBytes))
	}
}

// RecordRegistrySync records one registry sync attempt.
func (m *Metrics) RecordRegistrySync(err error) {
	m.RegistrySyncsTotal.WithLabelValues(statusLabel(err)).Inc()
}

// RecordSnapshotPush records one databox snapshot push.
func (m *Metrics) RecordSnapshotPush(err error) {
	m.SnapshotPushesTotal.WithLabelValues(statusLabel(err)).Inc()
}

func outcomeLabel(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// NewRegistry returns a registry pre-loaded with the standard process and Go
// runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves reg in the Prometheus text exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
