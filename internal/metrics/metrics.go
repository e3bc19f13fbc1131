// Package metrics records prediction and provider activity for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns its registry so several recorders can coexist in tests.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry         *prometheus.Registry
	predictions      *prometheus.CounterVec
	verifications    *prometheus.CounterVec
	executions       prometheus.Counter
	providerRequests *prometheus.CounterVec
	providerFailures *prometheus.CounterVec
	scanSymbols      *prometheus.CounterVec
	latency          *prometheus.HistogramVec
	accuracy         *prometheus.GaugeVec
}

// New creates a recorder with a fresh registry that also exports the Go
// runtime and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_predictions_total",
				Help: "Total number of predictions recorded",
			},
			[]string{"signal"},
		),
		verifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_verifications_total",
				Help: "Total number of predictions verified",
			},
			[]string{"signal", "outcome"},
		),
		executions: f.NewCounter(
			prometheus.CounterOpts{
				Name: "assistant_executions_total",
				Help: "Total number of predictions marked executed",
			},
		),
		providerRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_provider_requests_total",
				Help: "Total number of upstream provider requests",
			},
			[]string{"collaborator"},
		),
		providerFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_provider_failures_total",
				Help: "Total number of failed upstream provider requests",
			},
			[]string{"collaborator"},
		),
		scanSymbols: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_scan_symbols_total",
				Help: "Total number of symbols processed by scans",
			},
			[]string{"result"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		accuracy: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "assistant_accuracy_rate",
				Help: "Accuracy rate of verified predictions from the last report",
			},
			[]string{"signal"},
		),
	}
}

// RecordPrediction counts a stored prediction.
func (r *Recorder) RecordPrediction(signal string) {
	if r == nil {
		return
	}
	r.predictions.WithLabelValues(signal).Inc()
}

// RecordVerification counts a verified prediction.
func (r *Recorder) RecordVerification(signal, outcome string) {
	if r == nil {
		return
	}
	r.verifications.WithLabelValues(signal, outcome).Inc()
}

// RecordExecution counts a prediction marked executed.
func (r *Recorder) RecordExecution() {
	if r == nil {
		return
	}
	r.executions.Inc()
}

// RecordProviderCall counts an upstream request and its failure, if any.
func (r *Recorder) RecordProviderCall(collaborator string, err error) {
	if r == nil {
		return
	}
	r.providerRequests.WithLabelValues(collaborator).Inc()
	if err != nil {
		r.providerFailures.WithLabelValues(collaborator).Inc()
	}
}

// RecordScan counts scanned symbols by result.
func (r *Recorder) RecordScan(succeeded, failed int) {
	if r == nil {
		return
	}
	r.scanSymbols.WithLabelValues("ok").Add(float64(succeeded))
	r.scanSymbols.WithLabelValues("failed").Add(float64(failed))
}

// RecordAccuracy replaces the published accuracy rates: the overall rate
// under "all" plus one per signal type. Signals absent from bySignal are
// dropped rather than left stale.
func (r *Recorder) RecordAccuracy(overall float64, bySignal map[string]float64) {
	if r == nil {
		return
	}
	r.accuracy.Reset()
	r.accuracy.WithLabelValues("all").Set(overall)
	for signal, rate := range bySignal {
		r.accuracy.WithLabelValues(signal).Set(rate)
	}
}

// ObserveDuration records how long an operation took since start.
func (r *Recorder) ObserveDuration(op string, start time.Time) {
	if r == nil {
		return
	}
	r.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
