package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use through a nil pointer; every method is a no-op then.
type Metrics struct {
	onlineUsers    prometheus.Gauge
	liveSessions   prometheus.Gauge
	messages       *prometheus.CounterVec
	droppedEvents  *prometheus.CounterVec
	sidebarPushes  prometheus.Counter
	operationError *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hellochat",
			Name:      "online_users",
			Help:      "Users with at least one live session.",
		}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hellochat",
			Name:      "live_sessions",
			Help:      "Open websocket sessions.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hellochat",
			Name:      "messages_total",
			Help:      "Message lifecycle operations that committed to the store.",
		}, []string{"op"}),
		droppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hellochat",
			Name:      "dropped_events_total",
			Help:      "Outbound events dropped because a session queue was full.",
		}, []string{"type"}),
		sidebarPushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hellochat",
			Name:      "sidebar_pushes_total",
			Help:      "Sidebar state snapshots delivered to sessions.",
		}),
		operationError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hellochat",
			Name:      "operation_errors_total",
			Help:      "Failed message operations by error kind.",
		}, []string{"op", "kind"}),
	}

	reg.MustRegister(m.onlineUsers, m.liveSessions, m.messages, m.droppedEvents, m.sidebarPushes, m.operationError)
	return m
}

func (m *Metrics) SetOnline(users, sessions int) {
	if m == nil {
		return
	}
	m.onlineUsers.Set(float64(users))
	m.liveSessions.Set(float64(sessions))
}

func (m *Metrics) MessageOp(op string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(op).Inc()
}

func (m *Metrics) OperationFailed(op, kind string) {
	if m == nil {
		return
	}
	m.operationError.WithLabelValues(op, kind).Inc()
}

func (m *Metrics) EventDropped(eventType string) {
	if m == nil {
		return
	}
	m.droppedEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) SidebarPushed(n int) {
	if m == nil {
		return
	}
	m.sidebarPushes.Add(float64(n))
}
