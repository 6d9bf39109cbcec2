// Package pipeline walks a work item through the stage sequence, invoking one
// stage runtime per hop. Retry policy lives here, not in the runtimes: only
// storage faults are retried, because every other fault kind signals a
// problem a retry cannot fix.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"conductor/pkg/config"
	"conductor/pkg/contract"
	"conductor/pkg/logx"
	"conductor/pkg/stage"
	"conductor/pkg/state"
	"conductor/pkg/validation"
)

// DefaultStorageRetries bounds per-hop retries on storage faults.
const DefaultStorageRetries = 2

// HopResult records one completed hop of a run.
type HopResult struct {
	Stage    contract.Agent     `json:"stage"`
	Contract *contract.Contract `json:"contract"`
}

// RunResult summarizes one full pipeline iteration.
type RunResult struct {
	WorkItemID string             `json:"work_item_id"`
	Hops       []HopResult        `json:"hops"`
	Final      *contract.Contract `json:"final"`
}

// Pipeline routes contracts between registered stage runtimes.
type Pipeline struct {
	runtimes       map[contract.Agent]*stage.Runtime
	logger         *logx.Logger
	storageRetries int
}

// New creates an empty pipeline.
func New() *Pipeline {
	return &Pipeline{
		runtimes:       make(map[contract.Agent]*stage.Runtime),
		logger:         logx.NewLogger("pipeline"),
		storageRetries: DefaultStorageRetries,
	}
}

// SetStorageRetries overrides how often a hop is retried on storage faults.
func (p *Pipeline) SetStorageRetries(n int) {
	if n >= 0 {
		p.storageRetries = n
	}
}

// Register adds a stage runtime. Registering the same stage twice replaces
// the earlier runtime.
func (p *Pipeline) Register(rt *stage.Runtime) {
	p.runtimes[rt.Agent()] = rt
}

// RegisterStage builds and registers a runtime for one stage, wiring the
// configured per-stage collaborator timeout. Later options override it.
func (p *Pipeline) RegisterStage(agent contract.Agent, engine *validation.Engine, store state.Store, processor stage.Processor, opts ...stage.RuntimeOption) *stage.Runtime {
	withTimeout := append([]stage.RuntimeOption{stage.WithTimeout(config.StageTimeout(agent))}, opts...)
	rt := stage.NewRuntime(agent, engine, store, processor, withTimeout...)
	p.Register(rt)
	return rt
}

// Run executes one pipeline iteration starting from the given contract: each
// hop's target stage consumes the contract and produces the next one, until
// the closing edge back to the project manager is reached or a fault stops
// the run. The returned error is the stage fault, unchanged, so callers can
// branch on the fault kind with errors.Is.
func (p *Pipeline) Run(ctx context.Context, initial *contract.Contract) (*RunResult, error) {
	if initial == nil {
		return nil, fmt.Errorf("initial contract is nil")
	}

	result := &RunResult{
		WorkItemID: initial.WorkItemID,
		Hops:       []HopResult{},
	}

	current := initial
	for {
		target := current.TargetAgent
		rt, registered := p.runtimes[target]
		if !registered {
			return result, fmt.Errorf("no runtime registered for stage %s", target)
		}

		output, err := p.executeHop(ctx, rt, current)
		if err != nil {
			p.logger.Error("run for %s stopped at %s: %v", result.WorkItemID, target, err)
			return result, err
		}

		result.Hops = append(result.Hops, HopResult{Stage: target, Contract: output})
		result.Final = output
		p.logger.Info("hop %s complete for %s", contract.TypeFor(output.SourceAgent, output.TargetAgent), result.WorkItemID)

		// The closing edge hands the reviewed item back to planning; one
		// iteration is done.
		if output.SourceAgent == contract.AgentQualityReviewer {
			return result, nil
		}
		current = output
	}
}

// executeHop runs one stage with bounded retries for storage faults only.
func (p *Pipeline) executeHop(ctx context.Context, rt *stage.Runtime, input *contract.Contract) (*contract.Contract, error) {
	var lastErr error
	for attempt := 0; attempt <= p.storageRetries; attempt++ {
		output, err := rt.Execute(ctx, input)
		if err == nil {
			return output, nil
		}
		lastErr = err
		if !errors.Is(err, stage.ErrStorageFault) {
			return nil, err
		}
		p.logger.Warn("storage fault at %s (attempt %d/%d): %v",
			rt.Agent(), attempt+1, p.storageRetries+1, err)
	}
	return nil, lastErr
}
