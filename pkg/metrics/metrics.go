package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docsync_active_sessions",
			Help: "Number of connected editing sessions",
		},
	)

	LogAppends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsync_log_appends_total",
			Help: "Committed operational log entries by operation kind",
		},
		[]string{"kind"},
	)

	AppendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsync_log_append_failures_total",
			Help: "Operational log appends that were aborted, by error kind",
		},
		[]string{"reason"},
	)

	BroadcastDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docsync_broadcast_drops_total",
			Help: "Sessions disconnected because their outbound queue was full",
		},
	)

	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docsync_auth_failures_total",
			Help: "Connections refused because of token or grant failures",
		},
	)

	PermissionDenials = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docsync_permission_denials_total",
			Help: "Write-class messages rejected for read-only sessions",
		},
	)

	RelayMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsync_relay_messages_total",
			Help: "Room broadcasts exchanged with other instances",
		},
		[]string{"direction"},
	)
)
