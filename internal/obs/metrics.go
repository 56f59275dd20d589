package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	tokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Token pairs issued, by origin (login or refresh).",
		},
		[]string{"origin"},
	)

	refreshFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_failures_total",
			Help: "Rejected refresh token redemptions by reason.",
		},
		[]string{"reason"},
	)

	deliveryRecordsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_records_created_total",
			Help: "Delivery records materialised by fan-out.",
		},
		[]string{"kind"},
	)

	gatewayPushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_pushes_total",
			Help: "Push attempts through the real-time gateway by outcome.",
		},
		[]string{"kind", "result"},
	)

	gatewayConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_connections",
			Help: "Open real-time connections.",
		},
		[]string{"kind"},
	)

	initOnce sync.Once
)

// Init registers every collector in the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			tokensIssued, refreshFailures,
			deliveryRecordsCreated, gatewayPushes, gatewayConnections,
			buildInfo,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests. It must run inside
// the chi router so the matched route pattern is available as the path label.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		path := CanonicalPath(r)
		status := strconv.Itoa(code)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// CanonicalPath returns the route pattern that served r, keeping label
// cardinality bounded. Requests no route matched collapse to "unmatched".
func CanonicalPath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// TokensIssued counts an issued token pair.
func TokensIssued(origin string) { tokensIssued.WithLabelValues(origin).Inc() }

// RefreshFailed counts a rejected refresh redemption.
func RefreshFailed(reason string) { refreshFailures.WithLabelValues(reason).Inc() }

// DeliveryRecordsCreated counts records created by one fan-out.
func DeliveryRecordsCreated(kind string, n int) {
	deliveryRecordsCreated.WithLabelValues(kind).Add(float64(n))
}

// GatewayPush counts a push attempt by outcome: delivered, offline,
// failed or mark_failed.
func GatewayPush(kind, result string) { gatewayPushes.WithLabelValues(kind, result).Inc() }

// GatewayConnectionOpened and GatewayConnectionClosed track open sessions.
func GatewayConnectionOpened(kind string) { gatewayConnections.WithLabelValues(kind).Inc() }

func GatewayConnectionClosed(kind string) { gatewayConnections.WithLabelValues(kind).Dec() }
