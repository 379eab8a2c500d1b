package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics methods are no-ops on a nil receiver so components can run without
// a registry in tests.
type Metrics struct {
	Transitions   *prometheus.CounterVec
	Webhooks      *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	Reminders     prometheus.Counter
	GatewayCalls  *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ctpayments",
			Name:      "reconcile_outcomes_total",
			Help:      "Reconciliation outcomes by provider and result.",
		}, []string{"provider", "outcome"}),
		Webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ctpayments",
			Name:      "webhooks_total",
			Help:      "Inbound provider webhooks by handling result.",
		}, []string{"provider", "result"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ctpayments",
			Name:      "notifications_total",
			Help:      "Notification attempts by transport and result.",
		}, []string{"transport", "result"}),
		Reminders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ctpayments",
			Name:      "pending_reminders_total",
			Help:      "Reminders requested for long-pending orders.",
		}),
		GatewayCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ctpayments",
			Name:      "gateway_call_duration_ms",
			Help:      "Outbound gateway call latency in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"provider", "operation"}),
	}
	reg.MustRegister(m.Transitions, m.Webhooks, m.Notifications, m.Reminders, m.GatewayCalls)
	return m
}

func (m *Metrics) Outcome(provider, outcome string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) Webhook(provider, result string) {
	if m == nil {
		return
	}
	m.Webhooks.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) Notification(transport, result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(transport, result).Inc()
}

func (m *Metrics) Reminder() {
	if m == nil {
		return
	}
	m.Reminders.Inc()
}

func (m *Metrics) GatewayCall(provider, operation string, ms float64) {
	if m == nil {
		return
	}
	m.GatewayCalls.WithLabelValues(provider, operation).Observe(ms)
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
