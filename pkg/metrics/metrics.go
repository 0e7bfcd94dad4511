package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the call service
type Metrics struct {
	// HTTP Request Metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Call Metrics
	callsTotal    *prometheus.CounterVec
	callsActive   prometheus.Gauge
	callsDuration prometheus.Histogram

	// Signaling Metrics
	signalingConnections   prometheus.Gauge
	signalingMessagesTotal *prometheus.CounterVec
	signalingErrorsTotal   *prometheus.CounterVec
	roomsActive            prometheus.Gauge

	// Notification Metrics
	notificationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		callsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Total number of calls started, by call type",
				ConstLabels: labels,
			},
			[]string{"type"},
		),
		callsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of currently active calls",
				ConstLabels: labels,
			},
		),
		callsDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "call_duration_seconds",
				Help:        "Duration of ended calls in seconds",
				ConstLabels: labels,
				Buckets:     []float64{30, 60, 300, 600, 1800, 3600, 7200},
			},
		),
		signalingConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "signaling_connections",
				Help:        "Number of open signaling WebSocket connections",
				ConstLabels: labels,
			},
		),
		signalingMessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_messages_total",
				Help:        "Total signaling messages processed, by type and direction",
				ConstLabels: labels,
			},
			[]string{"type", "direction"},
		),
		signalingErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_errors_total",
				Help:        "Total signaling error frames sent, by error code",
				ConstLabels: labels,
			},
			[]string{"code"},
		),
		roomsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "signaling_rooms_active",
				Help:        "Number of rooms currently registered",
				ConstLabels: labels,
			},
		),
		notificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "notifications_total",
				Help:        "Total notifications dispatched, by type and status",
				ConstLabels: labels,
			},
			[]string{"type", "status"},
		),
	}
}

// RecordHTTPRequest records one completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// CallStarted records a new call of the given type
func (m *Metrics) CallStarted(callType string) {
	m.callsTotal.WithLabelValues(callType).Inc()
	m.callsActive.Inc()
}

// CallEnded records a finished call and its duration
func (m *Metrics) CallEnded(duration time.Duration) {
	m.callsActive.Dec()
	m.callsDuration.Observe(duration.Seconds())
}

// ConnectionOpened increments the signaling connection gauge
func (m *Metrics) ConnectionOpened() { m.signalingConnections.Inc() }

// ConnectionClosed decrements the signaling connection gauge
func (m *Metrics) ConnectionClosed() { m.signalingConnections.Dec() }

// MessageReceived records one inbound signaling message
func (m *Metrics) MessageReceived(msgType string) {
	m.signalingMessagesTotal.WithLabelValues(msgType, "in").Inc()
}

// MessageSent records one outbound signaling message
func (m *Metrics) MessageSent(msgType string) {
	m.signalingMessagesTotal.WithLabelValues(msgType, "out").Inc()
}

// SignalingError records one error frame sent to a client
func (m *Metrics) SignalingError(code string) {
	m.signalingErrorsTotal.WithLabelValues(code).Inc()
}

// RoomOpened increments the active room gauge
func (m *Metrics) RoomOpened() { m.roomsActive.Inc() }

// RoomClosed decrements the active room gauge
func (m *Metrics) RoomClosed() { m.roomsActive.Dec() }

// NotificationDispatched records a notification attempt
func (m *Metrics) NotificationDispatched(notifType, status string) {
	m.notificationsTotal.WithLabelValues(notifType, status).Inc()
}
