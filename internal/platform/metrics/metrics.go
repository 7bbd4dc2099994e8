package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	SessionsActive       prometheus.Gauge
	SessionTransitions   *prometheus.CounterVec
	SessionStartRejected *prometheus.CounterVec
	Notifications        *prometheus.CounterVec
	NotificationLatency  *prometheus.HistogramVec
	CircuitOpen          *prometheus.GaugeVec
	Subscribers          prometheus.Gauge
	SubscribersEvicted   prometheus.Counter
}

// New creates and registers all Prometheus metrics on reg. Tests pass a fresh
// registry so repeated construction never collides.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "watchtower_sessions_active",
			Help: "Number of live (non-terminal) sessions",
		}),
		SessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtower_session_transitions_total",
			Help: "Session state transitions by resulting state",
		}, []string{"state"}),
		SessionStartRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtower_session_start_rejected_total",
			Help: "Rejected session starts by reason",
		}, []string{"reason"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtower_notifications_total",
			Help: "Notification dispatches by backend and outcome",
		}, []string{"backend", "outcome"}),
		NotificationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watchtower_notification_duration_seconds",
			Help:    "Time spent delivering a notification",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend"}),
		CircuitOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "watchtower_circuit_open",
			Help: "1 while the named circuit breaker is open",
		}, []string{"name"}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "watchtower_realtime_subscribers",
			Help: "Connected realtime subscribers",
		}),
		SubscribersEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "watchtower_realtime_subscribers_evicted_total",
			Help: "Subscribers dropped because their send buffer was full",
		}),
	}
}

func (m *Metrics) IncSessionsActive() { m.SessionsActive.Inc() }
func (m *Metrics) DecSessionsActive() { m.SessionsActive.Dec() }

func (m *Metrics) IncTransition(state string) {
	m.SessionTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) IncStartRejected(reason string) {
	m.SessionStartRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveNotification(backend, outcome string, elapsed time.Duration) {
	m.Notifications.WithLabelValues(backend, outcome).Inc()
	m.NotificationLatency.WithLabelValues(backend).Observe(elapsed.Seconds())
}

func (m *Metrics) SetCircuitOpen(name string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	m.CircuitOpen.WithLabelValues(name).Set(v)
}

func (m *Metrics) IncSubscribers()        { m.Subscribers.Inc() }
func (m *Metrics) DecSubscribers()        { m.Subscribers.Dec() }
func (m *Metrics) IncSubscribersEvicted() { m.SubscribersEvicted.Inc() }
