// Package metrics exposes the relay's prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturedTotal counts messages persisted by the capture path.
	CapturedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smsrelay_messages_captured_total",
		Help: "Messages captured and persisted to the outbox.",
	})

	// DeliveredTotal counts confirmed remote acknowledgments.
	DeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smsrelay_messages_delivered_total",
		Help: "Messages acknowledged by the collection endpoint and deleted.",
	})

	// RetryableTotal counts transient delivery failures.
	RetryableTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smsrelay_delivery_retryable_total",
		Help: "Delivery attempts that failed transiently and stayed pending.",
	})

	// KillSwitchBlockedTotal counts attempts suppressed by the kill switch.
	KillSwitchBlockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smsrelay_killswitch_blocked_total",
		Help: "Delivery attempts suppressed by the remote kill switch.",
	})

	// PendingMessages tracks the current outbox depth.
	PendingMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "smsrelay_messages_pending",
		Help: "Messages currently awaiting delivery.",
	})

	// SIMChangesTotal counts registry reconciliation changes by kind.
	SIMChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smsrelay_sim_changes_total",
		Help: "SIM set changes detected by reconciliation passes.",
	}, []string{"kind"})
)
