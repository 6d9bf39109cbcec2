package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	validationsTotal  *prometheus.CounterVec
	issuesTotal       *prometheus.CounterVec
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	storeOpsTotal     *prometheus.CounterVec
}

// promauto registers against the default registry, which panics on duplicate
// registration. The recorder is therefore a process-wide singleton.
//
//nolint:gochecknoglobals // Intentional singleton for default-registry metrics
var (
	promRecorder     *PrometheusRecorder
	promRecorderOnce sync.Once
)

// NewPrometheusRecorder returns the process-wide Prometheus recorder,
// creating and registering its metrics on first use.
func NewPrometheusRecorder() *PrometheusRecorder {
	promRecorderOnce.Do(func() {
		promRecorder = &PrometheusRecorder{
			validationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "contract_validations_total",
					Help: "Total number of contract validations by hop and verdict",
				},
				[]string{"agent_pair", "result"},
			),
			issuesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "contract_validation_issues_total",
					Help: "Total number of validation errors by kind",
				},
				[]string{"kind"},
			),
			executionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stage_executions_total",
					Help: "Total number of stage executions by stage and final status",
				},
				[]string{"stage", "status"},
			),
			executionDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "stage_execution_duration_seconds",
					Help:    "Duration of stage executions in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"stage"},
			),
			storeOpsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "state_store_operations_total",
					Help: "Total number of state store operations by backend, operation, and status",
				},
				[]string{"backend", "op", "status"},
			),
		}
	})
	return promRecorder
}

// RecordValidation records one contract validation verdict.
func (p *PrometheusRecorder) RecordValidation(agentPair string, valid bool) {
	result := "valid"
	if !valid {
		result = "invalid"
	}
	p.validationsTotal.WithLabelValues(agentPair, result).Inc()
}

// RecordIssue records one validation error by kind.
func (p *PrometheusRecorder) RecordIssue(kind string) {
	p.issuesTotal.WithLabelValues(kind).Inc()
}

// RecordStageExecution records a finished stage execution.
func (p *PrometheusRecorder) RecordStageExecution(stage, status string, duration time.Duration) {
	p.executionsTotal.WithLabelValues(stage, status).Inc()
	p.executionDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordStoreOperation records one state store operation.
func (p *PrometheusRecorder) RecordStoreOperation(backend, op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.storeOpsTotal.WithLabelValues(backend, op, status).Inc()
}
