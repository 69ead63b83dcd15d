// Package metrics exposes the Prometheus instruments shared by every
// passwatch component. All collectors live on the default registry.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "passwatch"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	catalogBuildsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "catalog_builds_total",
		Help:      "Number of pass catalogs built.",
	})

	catalogBuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "catalog_build_duration_seconds",
		Help:      "Time spent segmenting all stations into a pass catalog.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	catalogPasses = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "catalog_passes",
		Help:      "Number of passes in the most recently built catalog.",
	})

	stationFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "station_failures_total",
		Help:      "Stations omitted from a catalog, by reason.",
	}, []string{"reason"})

	propagationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "propagation_duration_seconds",
		Help:      "Time spent propagating one batch of instants.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	propagationSamplesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "propagation_samples_total",
		Help:      "Propagated instants, by result.",
	}, []string{"result"})

	propagationWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "propagation_workers",
		Help:      "Configured propagation worker count.",
	})

	liveProjectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "live_projections_total",
		Help:      "Number of live table projections computed.",
	})

	horizonRefreshSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "horizon_refresh_duration_seconds",
		Help:      "Time spent building a new horizon snapshot (propagation and catalog).",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	horizonRefreshErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "horizon_refresh_errors_total",
		Help:      "Failed horizon refresh attempts.",
	})

	horizonGracePeriod = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "horizon_grace_period_active",
		Help:      "1 while a replacement horizon is being built and the previous one is still served.",
	})

	horizonRemainingSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "horizon_remaining_seconds",
		Help:      "Seconds until the end of the current prediction horizon.",
	})

	tleDatasetAge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tle_dataset_age_seconds",
		Help:      "Age of the loaded TLE element set.",
	})

	tleFetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tle_fetches_total",
		Help:      "TLE fetch attempts, by result.",
	}, []string{"result"})

	streamConnectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_connections_total",
		Help:      "Stream connection events, by event.",
	}, []string{"event"})

	streamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "streams_active",
		Help:      "Currently connected stream clients.",
	})

	streamMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_messages_total",
		Help:      "Messages sent to stream clients.",
	})

	streamBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_bytes_total",
		Help:      "Bytes sent to stream clients.",
	})

	streamErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_errors_total",
		Help:      "Stream errors, by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		catalogBuildsTotal,
		catalogBuildSeconds,
		catalogPasses,
		stationFailuresTotal,
		propagationSeconds,
		propagationSamplesTotal,
		propagationWorkers,
		liveProjectionsTotal,
		horizonRefreshSeconds,
		horizonRefreshErrorsTotal,
		horizonGracePeriod,
		horizonRemainingSeconds,
		tleDatasetAge,
		tleFetchesTotal,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveCatalogBuild(d time.Duration, passes int) {
	catalogBuildsTotal.Inc()
	catalogBuildSeconds.Observe(d.Seconds())
	catalogPasses.Set(float64(passes))
}

func IncStationFailures(reason string) {
	stationFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordPropagation records one propagation batch.
func RecordPropagation(d time.Duration, ok, failed int) {
	propagationSeconds.Observe(d.Seconds())
	propagationSamplesTotal.WithLabelValues("ok").Add(float64(ok))
	propagationSamplesTotal.WithLabelValues("error").Add(float64(failed))
}

func SetPropagationWorkers(n int) {
	propagationWorkers.Set(float64(n))
}

func IncLiveProjections() {
	liveProjectionsTotal.Inc()
}

func ObserveHorizonRefresh(d time.Duration) {
	horizonRefreshSeconds.Observe(d.Seconds())
}

func IncHorizonRefreshErrors() {
	horizonRefreshErrorsTotal.Inc()
}

func SetHorizonGracePeriodActive(active bool) {
	if active {
		horizonGracePeriod.Set(1)
		return
	}
	horizonGracePeriod.Set(0)
}

func SetHorizonRemaining(d time.Duration) {
	horizonRemainingSeconds.Set(d.Seconds())
}

func SetTLEDatasetAge(d time.Duration) {
	tleDatasetAge.Set(d.Seconds())
}

// IncTLEFetches counts a fetch attempt; result is "ok", "error" or "fallback".
func IncTLEFetches(result string) {
	tleFetchesTotal.WithLabelValues(result).Inc()
}

func IncStreamConnections(event string) {
	streamConnectionsTotal.WithLabelValues(event).Inc()
}

func IncStreamsActive() { streamsActive.Inc() }
func DecStreamsActive() { streamsActive.Dec() }

func IncStreamMessages() { streamMessagesTotal.Inc() }

func AddStreamBytes(n int64) {
	streamBytesTotal.Add(float64(n))
}

func IncStreamErrors(reason string) {
	streamErrorsTotal.WithLabelValues(reason).Inc()
}

// knownRoutes are the exact paths served by the API; anything else is
// reported as "other" to keep label cardinality bounded.
var knownRoutes = map[string]bool{
	"/":                       true,
	"/index.html":             true,
	"/app.js":                 true,
	"/styles.css":             true,
	"/healthz":                true,
	"/readyz":                 true,
	"/metrics":                true,
	"/api/v1/spacecraft":      true,
	"/api/v1/stations":        true,
	"/api/v1/passes":          true,
	"/api/v1/live":            true,
	"/api/v1/track":           true,
	"/api/v1/horizon":         true,
	"/api/v1/horizon/refresh": true,
	"/api/v1/stream/live":     true,
	"/api/v1/stream/track":    true,
}

func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer for
// flushing and deadline control on streaming routes.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack supports WebSocket upgrades behind the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if rw.statusCode == http.StatusOK {
		rw.statusCode = http.StatusSwitchingProtocols
	}
	return http.NewResponseController(rw.ResponseWriter).Hijack()
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		path := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(duration)
	})
}
