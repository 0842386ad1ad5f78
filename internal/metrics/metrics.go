package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ctxKey string

const routeLabelKey ctxKey = "metrics_route"

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formsheets_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formsheets_http_errors_total",
		Help: "Total number of HTTP requests resulting in server errors.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "formsheets_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	dbLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "formsheets_db_latency_seconds",
		Help:    "Histogram of database operation latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "route"})

	externalCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "formsheets_external_call_duration_seconds",
		Help:    "Latency of calls to the identity provider and the spreadsheet API.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	authorizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formsheets_authorizations_total",
		Help: "Completed authorization callbacks by outcome.",
	}, []string{"outcome"})

	sheetBindingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formsheets_sheet_bindings_total",
		Help: "Spreadsheet create/attach operations by outcome.",
	}, []string{"action", "outcome"})

	rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formsheets_rate_limited_total",
		Help: "Requests rejected by a rate limiter.",
	}, []string{"limiter"})
)

// Middleware records request metrics and enriches the context with the route label for downstream instrumentation.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), routeLabelKey, r.URL.Path)

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(ctx))

			// The pattern is only known once chi has routed the request.
			route := routePattern(r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			method := r.Method
			statusCode := strconv.Itoa(status)

			httpRequestsTotal.WithLabelValues(method, route).Inc()
			httpRequestDuration.WithLabelValues(method, route, statusCode).Observe(time.Since(start).Seconds())
			if status >= http.StatusInternalServerError {
				httpErrorsTotal.WithLabelValues(method, route, statusCode).Inc()
			}
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDBLatency records database latency for a given operation, associating it with the request route when available.
func ObserveDBLatency(ctx context.Context, operation string, start time.Time) {
	dbLatency.WithLabelValues(operation, routeFromContext(ctx)).Observe(time.Since(start).Seconds())
}

// ObserveExternalCall records the latency of a provider or spreadsheet API call.
func ObserveExternalCall(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	externalCallDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}

// AuthorizationCompleted counts a finished authorization callback. outcome is "created", "updated" or an error code.
func AuthorizationCompleted(outcome string) {
	authorizationsTotal.WithLabelValues(outcome).Inc()
}

// SheetBinding counts a create or attach attempt.
func SheetBinding(action, outcome string) {
	sheetBindingsTotal.WithLabelValues(action, outcome).Inc()
}

// RateLimited counts a rejected request.
func RateLimited(limiter string) {
	rateLimitedTotal.WithLabelValues(limiter).Inc()
}

func routeFromContext(ctx context.Context) string {
	if rctx := chi.RouteContext(ctx); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	if route, ok := ctx.Value(routeLabelKey).(string); ok && route != "" {
		return route
	}
	return "unknown"
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
