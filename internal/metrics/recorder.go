// Package metrics exposes Prometheus collectors for model loading and inference.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "screenocr"

// Load results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultMissing = "missing_dependency"
)

// Recorder holds the service's collectors on its own registry.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	loadAttempts      *prometheus.CounterVec
	loadDuration      prometheus.Histogram
	warmupFailures    prometheus.Counter
	loadProgress      prometheus.Gauge
	inferenceRequests *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec
	inferenceImages   prometheus.Counter
	inferenceInFlight prometheus.Gauge
}

// NewRecorder creates a recorder with Go runtime and process collectors registered.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		loadAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_load_attempts_total",
			Help:      "Model load attempts by result.",
		}, []string{"result"}),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_load_duration_seconds",
			Help:      "Wall time of model load attempts.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		warmupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_warmup_failures_total",
			Help:      "Warmup inferences that failed during loading.",
		}),
		loadProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_load_progress_percent",
			Help:      "Progress of the current model load attempt.",
		}),
		inferenceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_requests_total",
			Help:      "Inference calls by kind (single, batch) and result.",
		}, []string{"kind", "result"}),
		inferenceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Inference latency including image decoding.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		inferenceImages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_images_total",
			Help:      "Images passed to the OCR engine.",
		}),
		inferenceInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inference_in_flight",
			Help:      "Inference calls currently holding the device.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.loadAttempts,
		r.loadDuration,
		r.warmupFailures,
		r.loadProgress,
		r.inferenceRequests,
		r.inferenceDuration,
		r.inferenceImages,
		r.inferenceInFlight,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RecordLoad records a finished load attempt.
func (r *Recorder) RecordLoad(result string, d time.Duration) {
	if r == nil {
		return
	}
	r.loadAttempts.WithLabelValues(result).Inc()
	r.loadDuration.Observe(d.Seconds())
}

// RecordWarmupFailure counts a swallowed warmup error.
func (r *Recorder) RecordWarmupFailure() {
	if r == nil {
		return
	}
	r.warmupFailures.Inc()
}

// SetLoadProgress mirrors the progress tracker percentage.
func (r *Recorder) SetLoadProgress(pct int) {
	if r == nil {
		return
	}
	r.loadProgress.Set(float64(pct))
}

// RecordInference records one Run or RunBatch call.
func (r *Recorder) RecordInference(kind string, images int, d time.Duration, err error) {
	if r == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	r.inferenceRequests.WithLabelValues(kind, result).Inc()
	r.inferenceDuration.WithLabelValues(kind).Observe(d.Seconds())
	if err == nil {
		r.inferenceImages.Add(float64(images))
	}
}

// InFlight adjusts the in-flight gauge by delta.
func (r *Recorder) InFlight(delta int) {
	if r == nil {
		return
	}
	r.inferenceInFlight.Add(float64(delta))
}
