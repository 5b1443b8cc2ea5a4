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
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)
)

// Order-domain metrics.
var (
	orderMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_mutations_total",
			Help: "Order mutations by operation and result.",
		},
		[]string{"op", "result"},
	)

	orderConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "order_version_conflicts_total",
		Help: "Optimistic concurrency conflicts on order updates.",
	})

	authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_failures_total",
			Help: "Rejected authentication attempts by method.",
		},
		[]string{"method"},
	)

	tenantMismatchTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenant_mismatch_total",
		Help: "Requests refused because token and request tenants disagreed.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		orderMutationsTotal, orderConflictsTotal,
		authFailuresTotal, tenantMismatchTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveOrderMutation records the outcome of one engine operation.
func ObserveOrderMutation(op, result string) {
	orderMutationsTotal.WithLabelValues(op, result).Inc()
}

// ObserveOrderConflict counts a stale-version rejection.
func ObserveOrderConflict() {
	orderConflictsTotal.Inc()
}

// ObserveAuthFailure counts a rejected credential by authentication method.
func ObserveAuthFailure(method string) {
	authFailuresTotal.WithLabelValues(method).Inc()
}

// ObserveTenantMismatch counts a cross-tenant refusal.
func ObserveTenantMismatch() {
	tenantMismatchTotal.Inc()
}

// Instrument measures RPS, latency and in-flight requests for the wrapped handler.
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

// CanonicalPath collapses row identifiers out of metric labels so cardinality
// stays bounded. Unknown shapes pass through unchanged.
func CanonicalPath(raw string) string {
	if raw == "" {
		return "/"
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "orders" {
		switch len(parts) {
		case 3:
			return "/v1/orders/:id"
		case 4:
			switch parts[3] {
			case "status", "payments", "refunds", "audit":
				return "/v1/orders/:id/" + parts[3]
			}
		}
	}
	if !strings.HasPrefix(raw, "/") {
		return "/" + raw
	}
	return raw
}

// statusWriter captures the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE endpoints streaming through the instrumented wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
