package stage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"conductor/pkg/contract"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/state"
	"conductor/pkg/validation"
)

// DefaultTimeout bounds a collaborator invocation when no per-stage timeout
// is configured.
const DefaultTimeout = 5 * time.Minute

// statusTransitions is the legal state machine per work item:
// started -> in_progress -> completed, with error reachable from the two
// non-terminal states. completed and error are terminal.
//
//nolint:gochecknoglobals // Static transition table, immutable after init
var statusTransitions = map[state.Status][]state.Status{
	state.StatusStarted:    {state.StatusInProgress, state.StatusError},
	state.StatusInProgress: {state.StatusCompleted, state.StatusError},
	state.StatusCompleted:  {},
	state.StatusError:      {},
}

func canTransition(from, to state.Status) bool {
	for _, legal := range statusTransitions[from] {
		if legal == to {
			return true
		}
	}
	return false
}

// Processor is the stage-specific processing collaborator. It receives the
// validated input contract and returns the candidate output contract. It may
// have its own side effects (writing report artifacts) but must not touch the
// runtime's state store keys.
type Processor interface {
	Process(ctx context.Context, input *contract.Contract) (*contract.Contract, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, input *contract.Contract) (*contract.Contract, error)

func (f ProcessorFunc) Process(ctx context.Context, input *contract.Contract) (*contract.Contract, error) {
	return f(ctx, input)
}

// GateChecker evaluates one declared quality gate against the stage's
// deliverables. Injected so real gate evaluation can be substituted without
// changing the runtime.
type GateChecker interface {
	Check(ctx context.Context, gate string, deliverables []string) (bool, error)
}

// GateCheckerFunc adapts a function to the GateChecker interface.
type GateCheckerFunc func(ctx context.Context, gate string, deliverables []string) (bool, error)

func (f GateCheckerFunc) Check(ctx context.Context, gate string, deliverables []string) (bool, error) {
	return f(ctx, gate, deliverables)
}

// Runtime executes one pipeline stage for one work item at a time. Two
// different work items execute fully independently and concurrently; for the
// same work item, at most one execution is in flight.
type Runtime struct {
	agent     contract.Agent
	engine    *validation.Engine
	store     state.Store
	processor Processor
	gates     GateChecker
	timeout   time.Duration
	recorder  metrics.Recorder
	logger    *logx.Logger

	mu       sync.Mutex // guards inflight map only
	inflight map[string]*sync.Mutex
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithTimeout sets the collaborator invocation timeout for this stage.
func WithTimeout(d time.Duration) RuntimeOption {
	return func(r *Runtime) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithGateChecker replaces the default gate check callback.
func WithGateChecker(g GateChecker) RuntimeOption {
	return func(r *Runtime) {
		if g != nil {
			r.gates = g
		}
	}
}

// WithRecorder attaches a metrics recorder for stage executions.
func WithRecorder(rec metrics.Recorder) RuntimeOption {
	return func(r *Runtime) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// NewRuntime creates the execution wrapper for one stage.
func NewRuntime(agent contract.Agent, engine *validation.Engine, store state.Store, processor Processor, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		agent:     agent,
		engine:    engine,
		store:     store,
		processor: processor,
		timeout:   DefaultTimeout,
		recorder:  metrics.NoopRecorder{},
		logger:    logx.NewLogger(string(agent)),
		inflight:  make(map[string]*sync.Mutex),
	}
	r.gates = defaultGateChecker(engine.Gates(), r.logger)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// defaultGateChecker passes machine-checkable gates through as successful and
// unknown gate names as passed-with-warning: a forward-incompatible gate name
// must not block the whole stage.
func defaultGateChecker(registry *validation.GateRegistry, logger *logx.Logger) GateChecker {
	return GateCheckerFunc(func(_ context.Context, gate string, _ []string) (bool, error) {
		if registry.Classify(gate) == validation.Manual {
			logger.Warn("unknown quality gate %q, defaulting to pass", gate)
		}
		return true, nil
	})
}

// Agent returns the stage identity this runtime executes.
func (r *Runtime) Agent() contract.Agent {
	return r.agent
}

// Timeout returns the collaborator invocation timeout for this stage.
func (r *Runtime) Timeout() time.Duration {
	return r.timeout
}

// Execute runs the full stage lifecycle for one input contract:
//
//  1. Validate the inbound contract; a stage never begins processing on an
//     invalid handoff.
//  2. Persist the started state.
//  3. Invoke the external collaborator (bounded by the stage timeout).
//  4. Validate the candidate output's compliance section.
//  5. Check every declared quality gate.
//  6. Re-validate the full output contract.
//  7. Persist completed with the output attached, or error with a typed
//     record on any fault above.
//
// Exactly one state store write happens per transition and exactly one
// collaborator invocation per execution. The runtime performs no retries;
// retry policy belongs to the orchestrator calling it.
func (r *Runtime) Execute(ctx context.Context, input *contract.Contract) (*contract.Contract, error) {
	if input == nil {
		return nil, &Fault{Kind: ErrSchemaFault, Err: fmt.Errorf("input contract is nil")}
	}

	// Serialize per work item. Different work items proceed in parallel.
	lock := r.workItemLock(input.WorkItemID)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now().UTC()
	key := state.Key{Agent: r.agent, WorkItemID: input.WorkItemID}
	finalStatus := state.StatusError
	defer func() {
		r.recorder.RecordStageExecution(string(r.agent), finalStatus.String(), time.Since(started))
	}()

	// Step 1: inbound validation. On failure only the failed attempt is
	// recorded; processing never starts.
	if result := r.engine.ValidateContract(input); !result.IsValid {
		fault := validationFault(&result)
		r.recordFailedAttempt(key, input, started, fault)
		return nil, fault
	}

	record := &state.ExecutionState{
		Agent:         r.agent,
		WorkItemID:    input.WorkItemID,
		Status:        state.StatusStarted,
		InputContract: input,
		ProgressData: map[string]any{
			"execution_id": uuid.NewString(),
		},
		StartedAt:   started,
		LastUpdated: started,
	}

	// Step 2: persist started.
	if err := r.store.Save(key, record); err != nil {
		return nil, &Fault{Kind: ErrStorageFault, Err: err}
	}
	r.logger.Debug("execution %s started for %s", record.ProgressData["execution_id"], key)

	if err := r.transition(key, record, state.StatusInProgress); err != nil {
		return nil, err
	}

	// Step 3: invoke the collaborator, bounded by the stage timeout. On
	// cancellation or timeout the error state is persisted before the fault
	// propagates, so an abandoned execution never sits in in_progress with no
	// retrievable marker.
	procCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	output, procErr := r.processor.Process(procCtx, input)
	if procErr != nil {
		fault := &Fault{Kind: ErrProcessingFault, Err: procErr}
		if ctxErr := procCtx.Err(); ctxErr != nil {
			fault.Err = fmt.Errorf("collaborator aborted (%v): %w", ctxErr, procErr)
		}
		r.persistFault(key, record, fault)
		return nil, fault
	}
	if output == nil {
		fault := &Fault{Kind: ErrProcessingFault, Err: fmt.Errorf("collaborator returned no output contract")}
		r.persistFault(key, record, fault)
		return nil, fault
	}

	// Step 4: the stage's own output must clear the compliance bar; it is
	// rejected here, never silently passed downstream.
	if issues := validation.ValidateCompliance(output.Compliance); len(issues) > 0 {
		fault := &Fault{Kind: ErrComplianceFault, Issues: issues}
		r.persistFault(key, record, fault)
		return nil, fault
	}

	// Step 5: every declared quality gate runs; the first failure names the
	// gate so the caller can decide on remediation.
	for _, gate := range output.QualityGates {
		passed, gateErr := r.gates.Check(ctx, gate, output.OutputSpecifications.DeliverableFiles)
		if gateErr != nil {
			fault := &Fault{Kind: ErrQualityGateFault, Gate: gate, Err: gateErr}
			r.persistFault(key, record, fault)
			return nil, fault
		}
		if !passed {
			fault := &Fault{Kind: ErrQualityGateFault, Gate: gate}
			r.persistFault(key, record, fault)
			return nil, fault
		}
	}

	// Step 6: full outbound validation (schema + business rules).
	if result := r.engine.ValidateContract(output); !result.IsValid {
		fault := validationFault(&result)
		r.persistFault(key, record, fault)
		return nil, fault
	}

	// Step 7: persist completed with the output attached.
	record.OutputContract = output
	if err := r.transition(key, record, state.StatusCompleted); err != nil {
		return nil, err
	}

	finalStatus = state.StatusCompleted
	r.logger.Info("✅ %s completed for %s", r.agent, input.WorkItemID)
	return output, nil
}

// State returns the persisted execution state for a work item.
func (r *Runtime) State(workItemID string) (*state.ExecutionState, bool, error) {
	return r.store.Load(state.Key{Agent: r.agent, WorkItemID: workItemID})
}

func (r *Runtime) workItemLock(workItemID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, exists := r.inflight[workItemID]
	if !exists {
		lock = &sync.Mutex{}
		r.inflight[workItemID] = lock
	}
	return lock
}

// transition moves the record to a new status and persists it: exactly one
// store write per transition.
func (r *Runtime) transition(key state.Key, record *state.ExecutionState, to state.Status) error {
	if !canTransition(record.Status, to) {
		return &Fault{Kind: ErrStorageFault,
			Err: fmt.Errorf("illegal status transition %s -> %s for %s", record.Status, to, key)}
	}
	from := record.Status
	record.Status = to
	record.LastUpdated = time.Now().UTC()
	if err := r.store.Save(key, record); err != nil {
		record.Status = from
		return &Fault{Kind: ErrStorageFault, Err: err}
	}
	r.logger.Debug("🔄 %s: %s → %s", key, from, to)
	return nil
}

// persistFault records the error state before the fault propagates. A save
// failure here is logged but must not mask the original fault.
func (r *Runtime) persistFault(key state.Key, record *state.ExecutionState, fault *Fault) {
	record.ErrorData = fault.errorRecord()
	if err := r.transition(key, record, state.StatusError); err != nil {
		r.logger.Error("failed to persist error state for %s: %v", key, err)
	}
}

// recordFailedAttempt persists a terminal error record for an execution that
// never got past inbound validation.
func (r *Runtime) recordFailedAttempt(key state.Key, input *contract.Contract, started time.Time, fault *Fault) {
	record := &state.ExecutionState{
		Agent:         r.agent,
		WorkItemID:    input.WorkItemID,
		Status:        state.StatusError,
		InputContract: input,
		ErrorData:     fault.errorRecord(),
		StartedAt:     started,
		LastUpdated:   time.Now().UTC(),
	}
	if !contract.WorkItemIDPattern.MatchString(input.WorkItemID) {
		// A malformed identifier cannot become a store key: underscores break
		// the file store's key encoding and path separators escape its
		// directory. Even such a contract leaves an inspectable record.
		record.WorkItemID = "UNKNOWN-" + uuid.NewString()[:8]
		key = state.Key{Agent: r.agent, WorkItemID: record.WorkItemID}
	}
	if err := r.store.Save(key, record); err != nil {
		r.logger.Error("failed to record failed validation attempt for %s: %v", key, err)
	}
}
