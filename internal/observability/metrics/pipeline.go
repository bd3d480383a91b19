package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineMetrics exports HTTP server counters plus per-query pipeline
// outcomes on a dedicated registry.
type PipelineMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	queriesTotal       *prometheus.CounterVec
	queryDuration      *prometheus.HistogramVec
	queryConfidence    *prometheus.HistogramVec
	contextDocs        *prometheus.HistogramVec
	rerankDegradeTotal *prometheus.CounterVec
	fallbackTotal      *prometheus.CounterVec
	noContextTotal     *prometheus.CounterVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "arag",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "arag",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arag",
			Subsystem: "pipeline",
			Name:      "queries_total",
			Help:      "Total answered queries by generation mode.",
		},
		[]string{"service", "mode"},
	)
	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "arag",
			Subsystem: "pipeline",
			Name:      "query_duration_seconds",
			Help:      "End-to-end query duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "mode"},
	)
	queryConfidence := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "arag",
			Subsystem: "pipeline",
			Name:      "query_confidence",
			Help:      "Distribution of aggregate confidence per answered query.",
			Buckets:   []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
		[]string{"service", "mode"},
	)
	contextDocs := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "arag",
			Subsystem: "pipeline",
			Name:      "context_documents",
			Help:      "Distribution of context passages per answered query.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	rerankDegradeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arag",
			Subsystem: "pipeline",
			Name:      "rerank_degraded_total",
			Help:      "Total queries answered with a degraded rerank signal.",
		},
		[]string{"service"},
	)
	fallbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arag",
			Subsystem: "pipeline",
			Name:      "unfiltered_fallback_total",
			Help:      "Total queries answered through the unfiltered fallback path.",
		},
		[]string{"service"},
	)
	noContextTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arag",
			Subsystem: "pipeline",
			Name:      "no_context_total",
			Help:      "Total queries answered without any retrieved context.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		queriesTotal,
		queryDuration,
		queryConfidence,
		contextDocs,
		rerankDegradeTotal,
		fallbackTotal,
		noContextTotal,
	)

	return &PipelineMetrics{
		registry:           registry,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		queriesTotal:       queriesTotal,
		queryDuration:      queryDuration,
		queryConfidence:    queryConfidence,
		contextDocs:        contextDocs,
		rerankDegradeTotal: rerankDegradeTotal,
		fallbackTotal:      fallbackTotal,
		noContextTotal:     noContextTotal,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			r.URL.Path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// QueryObserver adapts PipelineMetrics to the pipeline's observation hook.
type QueryObserver struct {
	metrics *PipelineMetrics
	service string
}

func NewQueryObserver(metrics *PipelineMetrics, service string) *QueryObserver {
	return &QueryObserver{metrics: metrics, service: service}
}

func (o *QueryObserver) ObserveQuery(mode string, confidence float64, duration time.Duration, docCount int, degraded, fallback bool) {
	if mode == "" {
		mode = "unknown"
	}
	o.metrics.queriesTotal.WithLabelValues(o.service, mode).Inc()
	o.metrics.queryDuration.WithLabelValues(o.service, mode).Observe(duration.Seconds())
	o.metrics.queryConfidence.WithLabelValues(o.service, mode).Observe(confidence)
	o.metrics.contextDocs.WithLabelValues(o.service).Observe(float64(docCount))
	if degraded {
		o.metrics.rerankDegradeTotal.WithLabelValues(o.service).Inc()
	}
	if fallback {
		o.metrics.fallbackTotal.WithLabelValues(o.service).Inc()
	}
	if docCount == 0 {
		o.metrics.noContextTotal.WithLabelValues(o.service).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
