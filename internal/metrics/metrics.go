// Package metrics exposes Prometheus counters for jobs and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maauso/framekit-api/internal/job"
)

// Compile-time check that Recorder implements job.Observer.
var _ job.Observer = (*Recorder)(nil)

// Recorder owns a private registry and every framekit metric.
type Recorder struct {
	registry        *prometheus.Registry
	jobsTotal       *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	activeJobs      prometheus.Gauge
	framesWritten   *prometheus.CounterVec
	cropFallbacks   prometheus.Counter
	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates a Recorder with Go and process collectors registered.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Recorder{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "framekit_jobs_total",
			Help: "Total jobs that reached a terminal state.",
		}, []string{"module", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "framekit_job_duration_seconds",
			Help:    "Job run time in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"module", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "framekit_active_jobs",
			Help: "Jobs currently running.",
		}),
		framesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "framekit_frames_written_total",
			Help: "Total frames written to disk or encoded into a GIF.",
		}, []string{"module"}),
		cropFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framekit_crop_fallbacks_total",
			Help: "Crop re-encodes that failed and fell back to the original video.",
		}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "framekit_http_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "framekit_http_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	registry.MustRegister(
		r.jobsTotal,
		r.jobDuration,
		r.activeJobs,
		r.framesWritten,
		r.cropFallbacks,
		r.requestTotal,
		r.requestDuration,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// JobStarted implements job.Observer.
func (r *Recorder) JobStarted(string) {
	r.activeJobs.Inc()
}

// JobFinished implements job.Observer.
func (r *Recorder) JobFinished(module string, status job.Status, elapsed time.Duration) {
	r.activeJobs.Dec()
	r.jobsTotal.WithLabelValues(module, string(status)).Inc()
	r.jobDuration.WithLabelValues(module, string(status)).Observe(elapsed.Seconds())
}

// FramesWritten adds n frames for module.
func (r *Recorder) FramesWritten(module string, n int) {
	r.framesWritten.WithLabelValues(module).Add(float64(n))
}

// CropFallback counts one failed crop re-encode.
func (r *Recorder) CropFallback() {
	r.cropFallbacks.Inc()
}

// Middleware records request counts and latency.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)

		route := RouteLabel(req.URL.Path)
		status := strconv.Itoa(rec.status)

		r.requestTotal.WithLabelValues(req.Method, route, status).Inc()
		r.requestDuration.WithLabelValues(req.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// RouteLabel collapses request paths to a bounded set of route labels.
func RouteLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/jobs/"):
		return "/api/jobs/{module_id}/{job_id}"
	case path == "/api/tasks/extract-frames", path == "/api/tasks/mp4-to-gif", path == "/api/tasks/extract-single-frame":
		return path
	case strings.HasPrefix(path, "/files/"):
		return "/files/"
	case path == "/health", path == "/api/health", path == "/metrics", path == "/api/download":
		return path
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
