package daemon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the daemon loop's own counters, separate from whatever a run's
// turn produces. internal/controlplane exposes these at GET /v1/metrics.
type Metrics struct {
	LoopTickDuration    prometheus.Histogram
	CronExecutions      *prometheus.CounterVec
	ApprovalResolutions *prometheus.CounterVec
	HeartbeatCycles     *prometheus.CounterVec
}

// NewMetrics registers and returns the daemon's Prometheus collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		LoopTickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "clawdex_daemon_loop_tick_seconds",
			Help:    "Duration of one daemon loop iteration.",
			Buckets: prometheus.DefBuckets,
		}),
		CronExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clawdex_cron_executions_total",
			Help: "Cron job executions by terminal status.",
		}, []string{"status"}),
		ApprovalResolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clawdex_approval_resolutions_total",
			Help: "Approval requests resolved by decision.",
		}, []string{"decision"}),
		HeartbeatCycles: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clawdex_heartbeat_cycles_total",
			Help: "Heartbeat cycles by outcome (skipped, queued, delivered).",
		}, []string{"outcome"}),
	}
}
