package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics counts money-moving outcomes. A nil receiver is a no-op so
// services can run without a registry in tests.
type SettlementMetrics struct {
	settlements *prometheus.CounterVec
	refunds     *prometheus.CounterVec
	pickups     *prometheus.CounterVec
	webhooks    *prometheus.CounterVec
}

func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_attempts_total",
		Help: "Settlement attempts by trigger source and outcome.",
	}, []string{"source", "outcome"})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_total",
		Help: "Gateway refunds by final status.",
	}, []string{"status"})
	pickups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pickup_actions_total",
		Help: "Pickup generate and confirm calls by result.",
	}, []string{"action", "result"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Gateway webhook deliveries by event and result.",
	}, []string{"event", "result"})
	reg.MustRegister(settlements, refunds, pickups, webhooks)
	return &SettlementMetrics{
		settlements: settlements,
		refunds:     refunds,
		pickups:     pickups,
		webhooks:    webhooks,
	}
}

func (m *SettlementMetrics) IncSettlement(source, outcome string) {
	if m == nil || m.settlements == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

func (m *SettlementMetrics) IncRefund(status string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *SettlementMetrics) IncPickup(action, result string) {
	if m == nil || m.pickups == nil {
		return
	}
	m.pickups.WithLabelValues(normalizeLabel(action), normalizeLabel(result)).Inc()
}

func (m *SettlementMetrics) IncWebhook(event, result string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(event), normalizeLabel(result)).Inc()
}
