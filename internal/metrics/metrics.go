// Package metrics provides Prometheus metrics for the media server.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bitflow_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bitflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Listing metrics
	listingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bitflow_listings_total",
			Help: "Total number of directory listings by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	listingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bitflow_listing_duration_seconds",
			Help:    "Time to list a directory",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	listedEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bitflow_listed_entries_total",
			Help: "Total number of entries returned by directory listings",
		},
	)

	degradedEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bitflow_degraded_entries_total",
			Help: "Entries whose metadata could not be read",
		},
	)

	// Progress metrics
	progressEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bitflow_progress_events_total",
			Help: "Total progress events delivered to clients",
		},
		[]string{"event"},
	)

	progressStreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bitflow_progress_streams_active",
			Help: "Number of clients currently receiving listing progress",
		},
	)

	// Stream metrics
	streamResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bitflow_stream_responses_total",
			Help: "Total file stream responses by mode and status",
		},
		[]string{"mode", "status"},
	)

	streamBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bitflow_stream_bytes_total",
			Help: "Total bytes written by file streams",
		},
		[]string{"mode"},
	)

	streamAbortsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bitflow_stream_aborts_total",
			Help: "Streams terminated before the last byte was sent",
		},
	)

	// Worker pool metrics
	poolBusyWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bitflow_pool_busy_workers",
			Help: "Number of workers currently running a job",
		},
		[]string{"pool"},
	)

	poolQueuedJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bitflow_pool_queued_jobs",
			Help: "Number of jobs waiting for a worker",
		},
		[]string{"pool"},
	)

	poolJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bitflow_pool_jobs_total",
			Help: "Total jobs handled by a pool by result",
		},
		[]string{"pool", "result"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bitflow_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordListing records a completed or failed directory listing.
func RecordListing(mode, outcome string, entries int, duration time.Duration) {
	listingsTotal.WithLabelValues(mode, outcome).Inc()
	listingDuration.WithLabelValues(mode).Observe(duration.Seconds())
	listedEntriesTotal.Add(float64(entries))
}

// RecordDegradedEntry records an entry listed without metadata.
func RecordDegradedEntry() {
	degradedEntriesTotal.Inc()
}

// RecordProgressEvent records a progress event handed to a transport.
func RecordProgressEvent(event string) {
	progressEventsTotal.WithLabelValues(event).Inc()
}

// SetProgressStreamsActive sets the number of open progress streams.
func SetProgressStreamsActive(count int) {
	progressStreamsActive.Set(float64(count))
}

// RecordStreamResponse records the status of a file stream response.
func RecordStreamResponse(mode string, status int) {
	streamResponsesTotal.WithLabelValues(mode, strconv.Itoa(status)).Inc()
}

// RecordStreamBytes records bytes written by a file stream.
func RecordStreamBytes(mode string, n int64) {
	streamBytesTotal.WithLabelValues(mode).Add(float64(n))
}

// RecordStreamAbort records a stream cut short by an error or disconnect.
func RecordStreamAbort() {
	streamAbortsTotal.Inc()
}

// SetPoolBusy sets the number of busy workers in a pool.
func SetPoolBusy(pool string, n int64) {
	poolBusyWorkers.WithLabelValues(pool).Set(float64(n))
}

// SetPoolQueued sets the number of queued jobs in a pool.
func SetPoolQueued(pool string, n int) {
	poolQueuedJobs.WithLabelValues(pool).Set(float64(n))
}

// RecordPoolJob records a finished pool job.
func RecordPoolJob(pool string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	poolJobsTotal.WithLabelValues(pool, result).Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		rw.statusCode = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijack not supported")
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics. Routes
// are labelled by their mux pattern to keep label cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		defer func() {
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
		}()
		next.ServeHTTP(rw, r)
	})
}
