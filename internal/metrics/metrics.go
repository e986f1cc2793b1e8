package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequests counts backend requests by route pattern and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamehost_http_requests_total",
		Help: "Total HTTP requests handled by the backend",
	}, []string{"route", "code"})

	// HTTPDuration tracks handler latency by route pattern.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gamehost_http_request_duration_seconds",
		Help:    "Duration of backend HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// CommandsCreated counts commands inserted into the queue by type.
	CommandsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamehost_commands_created_total",
		Help: "Commands inserted into the server_commands queue",
	}, []string{"command_type"})

	// CommandTransitions counts worker status updates by resulting status.
	CommandTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamehost_command_transitions_total",
		Help: "Command status updates written by workers",
	}, []string{"status"})

	// CommandsRejected counts worker updates refused as illegal transitions.
	CommandsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gamehost_command_transitions_rejected_total",
		Help: "Worker status updates rejected as illegal transitions",
	})

	// QueueDepth is the number of commands per status, refreshed on scrape.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gamehost_queue_depth",
		Help: "Current number of commands in each status",
	}, []string{"status"})

	// AuthAttempts counts sign-in attempts by method and outcome.
	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamehost_auth_attempts_total",
		Help: "Sign-in attempts by method and outcome",
	}, []string{"method", "outcome"})

	// RateLimited counts requests refused by the auth rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gamehost_rate_limited_total",
		Help: "Requests refused by the auth rate limiter",
	})

	// RealtimeSubscriptions is the number of live websocket subscriptions.
	RealtimeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gamehost_realtime_subscriptions",
		Help: "Active realtime websocket subscriptions",
	})

	// RealtimeEvents counts change events published to the bus by table.
	RealtimeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamehost_realtime_events_total",
		Help: "Change events published to realtime subscribers",
	}, []string{"table", "event"})
)

// Handler serves the Prometheus exposition format
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Instrument records request count and latency for next under the given route label
func Instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, req)
		HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	}
}
