package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Realtime gateway metrics.
var (
	wsClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connected_clients",
		Help: "Currently connected realtime clients.",
	})

	locationSamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_location_samples_total",
			Help: "Driver location samples by outcome.",
		},
		[]string{"outcome"}, // accepted | dropped
	)

	fleetBroadcastsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_fleet_broadcasts_total",
		Help: "Aggregate fleet snapshots broadcast to subscribers.",
	})

	revocationCascadesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_revocation_cascades_total",
		Help: "Blanket refresh-token revocations triggered by reuse or stale-version signals.",
	})
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		wsClients, locationSamplesTotal, fleetBroadcastsTotal,
		revocationCascadesTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ClientConnected / ClientDisconnected track the realtime client gauge.
func ClientConnected()    { wsClients.Inc() }
func ClientDisconnected() { wsClients.Dec() }

// LocationSampleAccepted and LocationSampleDropped count telemetry outcomes.
func LocationSampleAccepted() { locationSamplesTotal.WithLabelValues("accepted").Inc() }
func LocationSampleDropped()  { locationSamplesTotal.WithLabelValues("dropped").Inc() }

// FleetBroadcast counts one aggregate snapshot emission.
func FleetBroadcast() { fleetBroadcastsTotal.Inc() }

// RevocationCascade counts one blanket revocation.
func RevocationCascade() { revocationCascadesTotal.Inc() }

// CanonicalPath collapses resource identifiers so metric label cardinality
// stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	for _, prefix := range []string{"/fleet/vehicles/", "/fleet/orders/"} {
		rest := strings.TrimPrefix(path, prefix)
		if rest != path && rest != "" && !strings.Contains(rest, "/") {
			return prefix + ":id"
		}
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
