// Package metrics exposes Prometheus collectors for the HTTP surface and the scan pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kiwi",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kiwi",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		},
		[]string{"method", "route"},
	)

	scans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kiwi",
			Subsystem: "scan",
			Name:      "outcomes_total",
			Help:      "Scan attempts by outcome.",
		},
		[]string{"outcome"},
	)

	modelDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kiwi",
			Subsystem: "model",
			Name:      "call_duration_seconds",
			Help:      "Duration of vision model calls.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9), // 250ms to ~64s
		},
		[]string{"success"},
	)

	quotaRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kiwi",
			Subsystem: "quota",
			Name:      "rejections_total",
			Help:      "Scan requests rejected because the daily limit was reached.",
		},
	)
)

// Scan outcome labels.
const (
	OutcomeSuccess       = "success"
	OutcomeInvalidImage  = "invalid_image"
	OutcomeModelFailed   = "model_call_failed"
	OutcomeModelInvalid  = "model_response_invalid"
	OutcomeQuotaExceeded = "quota_exceeded"
	OutcomeError         = "error"
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		scans,
		modelDuration,
		quotaRejections,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveScan counts one scan attempt with the given outcome.
func ObserveScan(outcome string) {
	scans.WithLabelValues(outcome).Inc()
}

// ObserveModelCall records the latency of one model call.
func ObserveModelCall(d time.Duration, success bool) {
	modelDuration.WithLabelValues(strconv.FormatBool(success)).Observe(d.Seconds())
}

// ObserveQuotaRejection counts one request turned away by the quota guard.
func ObserveQuotaRejection() {
	quotaRejections.Inc()
}

// InstrumentHandler wraps next with request count and latency collection.
// Labels use the chi route pattern, not the raw path, to keep cardinality bounded.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
