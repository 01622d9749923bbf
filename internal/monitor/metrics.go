package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zeli-parts/partsbot/internal/models"
)

var (
	inboundMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partsbot_inbound_messages_total",
			Help: "Inbound messages labeled by sender role",
		},
		[]string{"role"},
	)
	alertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partsbot_alerts_total",
			Help: "Operator alerts labeled by type and whether they passed the cooldown",
		},
		[]string{"type", "sent"},
	)
	statEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partsbot_events_total",
			Help: "Business events counted in the daily stats",
		},
		[]string{"event"},
	)
	sendFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "partsbot_send_failures_total",
			Help: "Outbound messages lost after the retry",
		},
	)
	sourcingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "partsbot_sourcing_duration_seconds",
			Help:    "Time to source one request item",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 35, 60},
		},
		[]string{"outcome"},
	)
	quoteMinutes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "partsbot_quote_minutes",
			Help:    "Minutes from sourcing start to the customer quote",
			Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120},
		},
	)
	statusGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "partsbot_status",
			Help: "Current counts from the status surface",
		},
		[]string{"kind"},
	)
)

// RecordInbound counts one inbound message for role (owner, supplier, store, customer).
func RecordInbound(role string) {
	if role == "" {
		role = "unknown"
	}
	inboundMessagesTotal.WithLabelValues(role).Inc()
}

// ObserveSourcing records how long one item took to source.
func ObserveSourcing(d time.Duration, found bool) {
	outcome := "not_found"
	if found {
		outcome = "found"
	}
	sourcingDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// SetStatus mirrors a status snapshot into gauges.
func SetStatus(st models.Status) {
	statusGauge.WithLabelValues("active_conversations").Set(float64(st.ActiveConversations))
	statusGauge.WithLabelValues("pending_approvals").Set(float64(st.PendingApprovals))
	statusGauge.WithLabelValues("pending_selections").Set(float64(st.PendingSelections))
	statusGauge.WithLabelValues("live_sessions").Set(float64(st.LiveSessions))
}

func recordAlert(kind string, sent bool) {
	s := "false"
	if sent {
		s = "true"
	}
	alertsTotal.WithLabelValues(kind, s).Inc()
}
