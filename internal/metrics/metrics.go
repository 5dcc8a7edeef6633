package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poltergeist_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poltergeist_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	stickerEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poltergeist_sticker_events_total",
			Help: "Inbound sticker events observed on the realtime feed",
		},
		[]string{"scary"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poltergeist_deliveries_total",
			Help: "Per-tab delivery attempts by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	cooldownRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poltergeist_cooldown_rejections_total",
			Help: "Scary sends rejected by the per-recipient cooldown",
		},
	)

	subscriptionReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poltergeist_subscription_reconnects_total",
			Help: "Subscription starts triggered by the liveness check",
		},
	)

	tabsAttached = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poltergeist_tabs_attached",
			Help: "Currently attached tab sessions",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordStickerEvent records one inbound realtime event
func RecordStickerEvent(scary bool) {
	stickerEventsTotal.WithLabelValues(strconv.FormatBool(scary)).Inc()
}

// RecordDelivery records one per-tab delivery attempt
func RecordDelivery(method, outcome string) {
	deliveriesTotal.WithLabelValues(method, outcome).Inc()
}

// RecordCooldownRejection records a scary send denied by the cooldown
func RecordCooldownRejection() {
	cooldownRejections.Inc()
}

// RecordSubscriptionReconnect records a liveness-triggered reconnect
func RecordSubscriptionReconnect() {
	subscriptionReconnects.Inc()
}

// SetTabsAttached sets the attached session gauge
func SetTabsAttached(count int) {
	tabsAttached.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so websocket upgrades keep working behind the
// middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
