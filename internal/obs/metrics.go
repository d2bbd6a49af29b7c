package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

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

	pipelineDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_pipeline_denials_total",
			Help: "Requests rejected by the security pipeline.",
		},
		[]string{"stage", "reason"},
	)

	tokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_tokens_issued_total",
			Help: "Signed tokens minted, by token type.",
		},
		[]string{"type"},
	)

	rateLimitClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "guardian_ratelimit_clients",
		Help: "Client windows tracked by the rate limiter after the last sweep.",
	})
)

// Init registers service metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight,
			httpRequestsTotal,
			httpRequestDuration,
			pipelineDenials,
			tokensIssued,
			rateLimitClients,
		)
	})
}

// Handler exposes the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordDenial counts a request rejected at the given pipeline stage.
func RecordDenial(stage, reason string) {
	pipelineDenials.WithLabelValues(stage, reason).Inc()
}

// RecordTokenIssued counts a minted token.
func RecordTokenIssued(kind string) {
	tokensIssued.WithLabelValues(kind).Inc()
}

// SetRateLimitClients publishes the number of tracked limiter windows.
func SetRateLimitClients(n int) {
	rateLimitClients.Set(float64(n))
}

// Instrument measures in-flight requests, throughput and latency.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// UnmatchedPath is the label recorded for requests outside the route table.
const UnmatchedPath = "unmatched"

const apiPrefix = "/guardian-auth/v1"

var knownPaths = map[string]struct{}{
	"/":                                   {},
	"/healthz":                            {},
	"/readyz":                             {},
	"/v1/info":                            {},
	"/metrics":                            {},
	apiPrefix + "/auth/login":             {},
	apiPrefix + "/auth/refresh":           {},
	apiPrefix + "/auth/logout":            {},
	apiPrefix + "/auth/password":          {},
	apiPrefix + "/auth/password/reset":    {},
	apiPrefix + "/auth/2fa/setup":         {},
	apiPrefix + "/auth/2fa/verify":        {},
	apiPrefix + "/auth/2fa/disable":       {},
	apiPrefix + "/auth/me":                {},
	apiPrefix + "/admins/:id/permissions": {},
	apiPrefix + "/admins/:id/unlock":      {},
}

// CanonicalPath maps a request path onto its route template so metric label
// cardinality stays bounded. Anything else becomes UnmatchedPath.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		p = "/"
	}
	const prefix = apiPrefix + "/admins/"
	if rest := strings.Split(strings.TrimPrefix(p, prefix), "/"); strings.HasPrefix(p, prefix) && len(rest) == 2 && rest[0] != "" {
		p = prefix + ":id/" + rest[1]
	}
	if _, ok := knownPaths[p]; ok {
		return p
	}
	return UnmatchedPath
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
