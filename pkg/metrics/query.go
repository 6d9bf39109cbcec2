package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// WorkItemMetrics aggregates validation and execution counts for one work
// item across every stage it has passed through.
type WorkItemMetrics struct {
	WorkItemID          string  `json:"work_item_id"`
	ValidContracts      int64   `json:"valid_contracts"`
	InvalidContracts    int64   `json:"invalid_contracts"`
	CompletedExecutions int64   `json:"completed_executions"`
	FailedExecutions    int64   `json:"failed_executions"`
	TotalDurationSecs   float64 `json:"total_duration_seconds"`
}

// QueryService provides methods to query aggregated pipeline metrics from a
// Prometheus server.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetStageMetrics returns completed and failed execution counts for a stage.
func (q *QueryService) GetStageMetrics(ctx context.Context, stage string) (completed, failed int64, err error) {
	completed, err = q.sumQuery(ctx, fmt.Sprintf(`sum(stage_executions_total{stage=%q, status="completed"})`, stage))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query completed executions: %w", err)
	}
	failed, err = q.sumQuery(ctx, fmt.Sprintf(`sum(stage_executions_total{stage=%q, status="error"})`, stage))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query failed executions: %w", err)
	}
	return completed, failed, nil
}

// GetValidationMetrics returns valid and invalid verdict counts for a hop.
func (q *QueryService) GetValidationMetrics(ctx context.Context, agentPair string) (valid, invalid int64, err error) {
	valid, err = q.sumQuery(ctx, fmt.Sprintf(`sum(contract_validations_total{agent_pair=%q, result="valid"})`, agentPair))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query valid verdicts: %w", err)
	}
	invalid, err = q.sumQuery(ctx, fmt.Sprintf(`sum(contract_validations_total{agent_pair=%q, result="invalid"})`, agentPair))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query invalid verdicts: %w", err)
	}
	return valid, invalid, nil
}

// sumQuery runs an instant query and returns the first sample as int64.
// An empty vector (no observations yet) returns zero, not an error.
func (q *QueryService) sumQuery(ctx context.Context, query string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}

	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}
