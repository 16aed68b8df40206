package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	TasksCreated      *prometheus.CounterVec
	TaskDecisions     *prometheus.CounterVec
	ApprovalWait      prometheus.Histogram
	PendingWaiters    prometheus.Gauge
	ChannelSendErrors *prometheus.CounterVec
	CompressionRuns   *prometheus.CounterVec
	ActiveCells       prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TasksCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_created_total",
			Help:      "Tasks created by draft type.",
		}, []string{"draft_type"}),
		TaskDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_decisions_total",
			Help:      "Human decisions by action (approved, edited, cancelled, timeout).",
		}, []string{"action"}),
		ApprovalWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "approval_wait_seconds",
			Help:      "Time from task card presentation to human decision.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
		}),
		PendingWaiters: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_waiters",
			Help:      "Number of tasks with an armed in-process approval waiter.",
		}),
		ChannelSendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_send_errors_total",
			Help:      "Approval channel send failures by transport.",
		}, []string{"transport"}),
		CompressionRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compression_runs_total",
			Help:      "Cell state compression attempts by outcome (merged, skipped, failed).",
		}, []string{"outcome"}),
		ActiveCells: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_cells",
			Help:      "Number of active conversation cells.",
		}),
	}
}

func (m *Metrics) ObserveApprovalWait(d time.Duration) {
	m.ApprovalWait.Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
