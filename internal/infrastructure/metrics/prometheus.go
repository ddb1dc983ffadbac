// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
)

const namespace = "vidmaint"

var (
	// VideosProcessedTotal tracks Orchestrator outcomes.
	// Labels:
	//   - status: ok, skipped, dry_run, error
	//   - error_kind: empty on success, otherwise the stable error kind
	VideosProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "videos_processed_total",
			Help:      "Total number of per-video maintenance runs",
		},
		[]string{"status", "error_kind"},
	)

	// MP4ActionsTotal tracks the plan chosen by the MP4 fixer.
	MP4ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mp4_actions_total",
			Help:      "Total number of MP4 fixer actions",
		},
		[]string{"action"},
	)

	// HLSOutcomesTotal tracks HLS validation and repair outcomes.
	HLSOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hls_outcomes_total",
			Help:      "Total number of HLS checks by outcome",
		},
		[]string{"status"},
	)

	// RowsRewrittenTotal counts database rows updated by the reference rewriter.
	RowsRewrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_rewritten_total",
			Help:      "Total number of database rows whose video references were rewritten",
		},
	)

	// TranscodeDuration observes wall time of transcoder invocations.
	// Labels:
	//   - operation: remux, audio, full, hls
	TranscodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcode_duration_seconds",
			Help:      "Duration of transcoder invocations",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		},
		[]string{"operation"},
	)

	// LockContentionTotal counts runs skipped because the per-key lock was held.
	LockContentionTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_contention_total",
			Help:      "Total number of runs skipped on a held per-key lock",
		},
	)

	// SchedulerTicksTotal tracks scheduler ticks.
	// Labels:
	//   - result: success, error
	SchedulerTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Total number of scheduler ticks",
		},
		[]string{"result"},
	)

	// TasksDispatchedTotal counts tasks published to the job queue.
	// Labels:
	//   - type: process_video, list_run
	TasksDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dispatched_total",
			Help:      "Total number of tasks published to the job queue",
		},
		[]string{"type"},
	)

	// SingleflightRequestsTotal tracks singleflight behavior.
	// Labels:
	//   - result: initiated (new execution), shared (reused result)
	SingleflightRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "singleflight_requests_total",
			Help:      "Total number of singleflight requests",
		},
		[]string{"result"},
	)
)

// Scheduler tick result constants.
const (
	TickSuccess = "success"
	TickError   = "error"
)

// Transcode operation constants.
const (
	OpRemux = "remux"
	OpAudio = "audio"
	OpFull  = "full"
	OpHLS   = "hls"
)

// Singleflight result constants.
const (
	SingleflightInitiated = "initiated"
	SingleflightShared    = "shared"
)

// ObserveResult records the outcome counters of one Orchestrator run.
func ObserveResult(r *model.Result) {
	if r == nil {
		return
	}
	VideosProcessedTotal.WithLabelValues(string(r.Status), string(r.ErrorKind)).Inc()
	if r.ErrorKind == model.KindLocked {
		LockContentionTotal.Inc()
	}
	if r.MP4 != nil && r.MP4.Action != "" {
		MP4ActionsTotal.WithLabelValues(string(r.MP4.Action)).Inc()
	}
	if r.HLS != nil && r.HLS.Status != "" {
		HLSOutcomesTotal.WithLabelValues(string(r.HLS.Status)).Inc()
	}
	if r.Rewrite != nil && r.Rewrite.Updated > 0 {
		RowsRewrittenTotal.Add(float64(r.Rewrite.Updated))
	}
}
