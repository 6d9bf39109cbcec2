// Package metrics provides Prometheus-based metrics recording and querying
// for contract validation and stage execution.
package metrics

import "time"

// Recorder is the metrics sink injected into the validation engine, stage
// runtime, and state stores. Implementations must be safe for concurrent use.
type Recorder interface {
	// RecordValidation records one contract validation verdict for a hop.
	RecordValidation(agentPair string, valid bool)
	// RecordIssue records one validation error by kind.
	RecordIssue(kind string)
	// RecordStageExecution records a finished stage execution.
	RecordStageExecution(stage, status string, duration time.Duration)
	// RecordStoreOperation records one state store operation.
	RecordStoreOperation(backend, op string, err error)
}

// NoopRecorder discards all observations. Used when metrics are disabled.
type NoopRecorder struct{}

func (NoopRecorder) RecordValidation(string, bool)                      {}
func (NoopRecorder) RecordIssue(string)                                 {}
func (NoopRecorder) RecordStageExecution(string, string, time.Duration) {}
func (NoopRecorder) RecordStoreOperation(string, string, error)         {}

// NewRecorder returns a recorder for the configured exporter type.
func NewRecorder(exporter string) Recorder {
	if exporter == "prometheus" {
		return NewPrometheusRecorder()
	}
	return NoopRecorder{}
}
