package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики регистрируются в prometheus.DefaultRegisterer
// и отдаются через promhttp.Handler() на /metrics.
var (
	// FlowRunsStarted — количество созданных flow runs.
	FlowRunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowruns_started_total",
		Help: "Total flow runs created by StartRun",
	})

	// FlowRunTransitions — смены статуса flow run по целевому статусу.
	FlowRunTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowruns_status_transitions_total",
		Help: "Flow run status transitions by resulting status",
	}, []string{"status"})

	// StageEvents — обработанные события stage runs.
	// outcome: ok, unknown_stage_run, not_found, error.
	StageEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowruns_stage_events_total",
		Help: "Stage run events processed by type and outcome",
	}, []string{"type", "outcome"})

	// CascadingCancellations — отмены, отправленные из-за проблемного статуса flow run.
	CascadingCancellations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowruns_cascading_cancellations_total",
		Help: "Cancellation requests issued for stages launched in a failed or cancelled flow run",
	}, []string{"targeted"})

	// StagesLaunched — stages, запущенные после успеха всех предков.
	StagesLaunched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowruns_stages_launched_total",
		Help: "Child stages launched after their ancestors succeeded",
	})

	// LockWait — время ожидания блокировки flow run.
	LockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flowruns_lock_wait_seconds",
		Help:    "Time spent waiting for a flow run lock",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	// HTTPRequests — HTTP запросы к API.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowruns_http_requests_total",
		Help: "Total HTTP requests handled by the API",
	}, []string{"method", "code"})
)
