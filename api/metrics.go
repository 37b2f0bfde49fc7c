/*
metrics.go - Prometheus instrumentation

PURPOSE:
  Counts the business events operators alert on: credits purchased,
  credits spent, confirmation replays, compensating refunds. Plus a
  request-duration histogram for the HTTP surface.

SEE ALSO:
  - server.go: mounts /metrics and the duration middleware
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	creditsPurchased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credit_engine_credits_purchased_total",
		Help: "Credits added via confirmed payment intents.",
	})

	creditsSpent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credit_engine_credits_spent_total",
		Help: "Credits spent on course purchases.",
	})

	confirmReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credit_engine_confirmation_replays_total",
		Help: "Duplicate confirmation callbacks absorbed as no-ops.",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "credit_engine_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

// statusRecorder captures the response status for the histogram.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// metricsMiddleware observes request durations. The path label is the
// matched route pattern, not the raw URL, to keep cardinality bounded.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		requestDuration.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}
