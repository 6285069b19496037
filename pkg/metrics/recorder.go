package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Outcome maps an error to its outcome label
func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

// Recorder handles metrics recording and exposure. A nil Recorder records
// nothing.
type Recorder struct {
	// Lattice metrics
	latticeFitCounter *prometheus.CounterVec
	latticeFitLatency *prometheus.HistogramVec
	liveLattices      prometheus.Gauge

	// Valuation metrics
	valuationCounter *prometheus.CounterVec
	valuationLatency *prometheus.HistogramVec
	oasIterations    prometheus.Histogram

	// API metrics
	apiRequestCounter   *prometheus.CounterVec
	apiLatencyHistogram *prometheus.HistogramVec

	// Stream metrics
	streamMessageCounter *prometheus.CounterVec
	streamLatency        prometheus.Histogram
}

// NewRecorder creates a recorder whose metrics are registered with reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		latticeFitCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oas_lattice_fits_total",
				Help: "The total number of lattice calibrations",
			},
			[]string{"kind", "outcome"},
		),
		latticeFitLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oas_lattice_fit_seconds",
				Help:    "Lattice calibration latency distribution",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // From 0.5ms to ~4s
			},
			[]string{"kind"},
		),
		liveLattices: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "oas_live_lattices",
				Help: "Number of lattices held by the store",
			},
		),

		valuationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oas_valuations_total",
				Help: "The total number of bond valuations",
			},
			[]string{"operation", "outcome"},
		),
		valuationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oas_valuation_seconds",
				Help:    "Bond valuation latency distribution",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // From 0.1ms to ~3s
			},
			[]string{"operation"},
		),
		oasIterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "oas_solver_iterations",
				Help:    "Iterations used by the OAS root finder",
				Buckets: prometheus.LinearBuckets(1, 4, 12),
			},
		),

		apiRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oas_api_requests_total",
				Help: "The total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		apiLatencyHistogram: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oas_api_latency_seconds",
				Help:    "API request latency distribution",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // From 1ms to ~16s
			},
			[]string{"method", "path"},
		),

		streamMessageCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oas_stream_messages_total",
				Help: "The total number of valuation stream messages",
			},
			[]string{"direction", "outcome"},
		),
		streamLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "oas_stream_processing_seconds",
				Help:    "Time from reading a valuation request to writing its result",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
		),
	}
}

// RecordLatticeFit records a lattice calibration of the given kind
func (r *Recorder) RecordLatticeFit(kind string, err error, latency time.Duration) {
	if r == nil {
		return
	}
	r.latticeFitCounter.WithLabelValues(kind, Outcome(err)).Inc()
	r.latticeFitLatency.WithLabelValues(kind).Observe(latency.Seconds())
}

// RecordLiveLattices records the number of lattices in the store
func (r *Recorder) RecordLiveLattices(n int) {
	if r == nil {
		return
	}
	r.liveLattices.Set(float64(n))
}

// RecordValuation records a bond operation
func (r *Recorder) RecordValuation(operation string, err error, latency time.Duration) {
	if r == nil {
		return
	}
	r.valuationCounter.WithLabelValues(operation, Outcome(err)).Inc()
	r.valuationLatency.WithLabelValues(operation).Observe(latency.Seconds())
}

// RecordOASIterations records the iterations an OAS solve needed
func (r *Recorder) RecordOASIterations(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.oasIterations.Observe(float64(n))
}

// RecordAPIRequest records metrics for an API request
func (r *Recorder) RecordAPIRequest(method, path string, status int, latency time.Duration) {
	if r == nil {
		return
	}
	r.apiRequestCounter.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.apiLatencyHistogram.WithLabelValues(method, path).Observe(latency.Seconds())
}

// RecordStreamMessage records a message read from or written to the stream
func (r *Recorder) RecordStreamMessage(direction string, err error) {
	if r == nil {
		return
	}
	r.streamMessageCounter.WithLabelValues(direction, Outcome(err)).Inc()
}

// RecordStreamLatency records the processing time of one stream request
func (r *Recorder) RecordStreamLatency(latency time.Duration) {
	if r == nil {
		return
	}
	r.streamLatency.Observe(latency.Seconds())
}
