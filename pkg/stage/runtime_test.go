package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/contract"
	"conductor/pkg/state"
	"conductor/pkg/validation"
)

// forwardingProcessor produces the canonical contract for the stage's
// outbound hop, which is what a well-behaved collaborator hands back.
func forwardingProcessor(t *testing.T) Processor {
	t.Helper()
	return ProcessorFunc(func(_ context.Context, input *contract.Contract) (*contract.Contract, error) {
		next, ok := contract.NextAgent(input.TargetAgent)
		if !ok {
			return nil, fmt.Errorf("no outbound hop from %s", input.TargetAgent)
		}
		return contract.New(input.TargetAgent, next, input.WorkItemID), nil
	})
}

func newTestRuntime(t *testing.T, agent contract.Agent, processor Processor, opts ...RuntimeOption) *Runtime {
	t.Helper()
	store, err := state.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return NewRuntime(agent, validation.NewEngine(), store, processor, opts...)
}

func TestRuntimeExecuteCompletes(t *testing.T) {
	runtime := newTestRuntime(t, contract.AgentGameDesigner, forwardingProcessor(t))

	input := contract.New(contract.AgentProjectManager, contract.AgentGameDesigner, "STORY-GH-1001")
	output, err := runtime.Execute(context.Background(), input)
	require.NoError(t, err)
	require.NotNil(t, output)
	assert.Equal(t, contract.AgentGameDesigner, output.SourceAgent)
	assert.Equal(t, contract.AgentDeveloper, output.TargetAgent)

	record, found, err := runtime.State("STORY-GH-1001")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, state.StatusCompleted, record.Status)
	assert.Equal(t, output, record.OutputContract)
	assert.Nil(t, record.ErrorData)
	assert.NotEmpty(t, record.ProgressData["execution_id"])
}

func TestRuntimeRejectsComplianceViolation(t *testing.T) {
	processor := ProcessorFunc(func(_ context.Context, input *contract.Contract) (*contract.Contract, error) {
		output := contract.New(contract.AgentGameDesigner, contract.AgentDeveloper, input.WorkItemID)
		output.Compliance.DesignPrinciples["kiss"] = false
		return output, nil
	})
	runtime := newTestRuntime(t, contract.AgentGameDesigner, processor)

	input := contract.New(contract.AgentProjectManager, contract.AgentGameDesigner, "STORY-GH-1001")
	output, err := runtime.Execute(context.Background(), input)
	require.Error(t, err)
	assert.Nil(t, output)
	assert.ErrorIs(t, err, ErrComplianceFault)

	// The violating output never reaches completed; the error is on record.
	record, found, loadErr := runtime.State("STORY-GH-1001")
	require.NoError(t, loadErr)
	require.True(t, found)
	assert.Equal(t, state.StatusError, record.Status)
	require.NotNil(t, record.ErrorData)
	assert.Contains(t, record.ErrorData.Message, "kiss")
	assert.Nil(t, record.OutputContract)
}

func TestRuntimeInvalidInputNeverStartsProcessing(t *testing.T) {
	invoked := false
	processor := ProcessorFunc(func(_ context.Context, input *contract.Contract) (*contract.Contract, error) {
		invoked = true
		return nil, nil
	})
	runtime := newTestRuntime(t, contract.AgentDeveloper, processor)

	// project_manager -> developer skips two stages.
	input := contract.New(contract.AgentProjectManager, contract.AgentDeveloper, "STORY-GH-1001")
	_, err := runtime.Execute(context.Background(), input)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBusinessRuleFault)
	assert.False(t, invoked, "collaborator must not run on invalid input")

	// Only the failed attempt is on record.
	record, found, loadErr := runtime.State("STORY-GH-1001")
	require.NoError(t, loadErr)
	require.True(t, found)
	assert.Equal(t, state.StatusError, record.Status)
	require.NotNil(t, record.ErrorData)
}

func TestRuntimeUnusableIdentifierStillRecorded(t *testing.T) {
	// Identifiers that fail the format rule must never become store keys:
	// underscores misparse the file store's key encoding and path separators
	// escape its directory. The failed attempt is recorded under a synthetic
	// key instead, so it stays listable and evictable.
	cases := []struct {
		name       string
		workItemID string
	}{
		{"empty", ""},
		{"underscore", "bad_id"},
		{"path separator", "../escape"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, err := state.NewFileStore(t.TempDir())
			require.NoError(t, err)
			runtime := NewRuntime(contract.AgentGameDesigner, validation.NewEngine(), store, forwardingProcessor(t))

			input := contract.New(contract.AgentProjectManager, contract.AgentGameDesigner, tc.workItemID)
			_, execErr := runtime.Execute(context.Background(), input)
			require.Error(t, execErr)

			keys, listErr := store.List()
			require.NoError(t, listErr)
			require.Len(t, keys, 1, "failed attempt must be listable")
			assert.True(t, strings.HasPrefix(keys[0].WorkItemID, "UNKNOWN-"),
				"failed attempt should live under a synthetic key, got %q", keys[0].WorkItemID)

			record, found, loadErr := store.Load(keys[0])
			require.NoError(t, loadErr)
			require.True(t, found)
			assert.Equal(t, state.StatusError, record.Status)
			require.NotNil(t, record.ErrorData)
		})
	}
}

func TestRuntimeProcessorError(t *testing.T) {
	processor := ProcessorFunc(func(_ context.Context, _ *contract.Contract) (*contract.Contract, error) {
		return nil, errors.New("design tool crashed")
	})
	runtime := newTestRuntime(t, contract.AgentGameDesigner, processor)

	input := contract.New(contract.AgentProjectManager, contract.AgentGameDesigner, "STORY-GH-1001")
	_, err := runtime.Execute(context.Background(), input)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessingFault)

	record, found, loadErr := runtime.State("STORY-GH-1001")
	require.NoError(t, loadErr)
	require.True(t, found)
	assert.Equal(t, state.StatusError, record.Status)
	require.NotNil(t, record.ErrorData)
	assert.Contains(t, record.ErrorData.Message, "design tool crashed")
}

func TestRuntimeProcessorNilOutput(t *testing.T) {
	processor := ProcessorFunc(func(_ context.Context, _ *contract.Contract) (*contract.Contract, error) {
		return nil, nil
	})
	runtime := newTestRuntime(t, contract.AgentGameDesigner, processor)

	input := contract.New(contract.AgentProjectManager, contract.AgentGameDesigner, "STORY-GH-1001")
	_, err := runtime.Execute(context.Background(), input)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessingFault)
}

func TestRuntimeProcessorTimeout(t *testing.T) {
	processor := ProcessorFunc(func(ctx context.Context, _ *contract.Contract) (*contract.Contract, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	runtime := newTestRuntime(t, contract.AgentGameDesigner, processor, WithTimeout(20*time.Millisecond))

	input := contract.New(contract.AgentProjectManager, contract.AgentGameDesigner, "STORY-GH-1001")
	_, err := runtime.Execute(context.Background(), input)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessingFault)

	// An abandoned execution must not sit in in_progress.
	record, found, loadErr := runtime.State("STORY-GH-1001")
	require.NoError(t, loadErr)
	require.True(t, found)
	assert.Equal(t, state.StatusError, record.Status)
	require.NotNil(t, record.ErrorData)
}

func TestRuntimeQualityGateFailureNamesGate(t *testing.T) {
	processor := ProcessorFunc(func(_ context.Context, input *contract.Contract) (*contract.Contract, error) {
		output := contract.New(contract.AgentDeveloper, contract.AgentTestEngineer, input.WorkItemID)
		output.QualityGates = []string{"unit_test_coverage", "lint"}
		return output, nil
	})
	checker := GateCheckerFunc(func(_ context.Context, gate string, _ []string) (bool, error) {
		return gate != "lint", nil
	})
	runtime := newTestRuntime(t, contract.AgentDeveloper, processor, WithGateChecker(checker))

	input := contract.New(contract.AgentGameDesigner, contract.AgentDeveloper, "STORY-GH-1001")
	_, err := runtime.Execute(context.Background(), input)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQualityGateFault)

	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "lint", fault.Gate)

	record, _, loadErr := runtime.State("STORY-GH-1001")
	require.NoError(t, loadErr)
	assert.Equal(t, "lint", record.ErrorData.Gate)
}

func TestRuntimeRejectsInvalidOutput(t *testing.T) {
	processor := ProcessorFunc(func(_ context.Context, input *contract.Contract) (*contract.Contract, error) {
		// A reversed hop: valid compliance, invalid sequencing.
		return contract.New(contract.AgentGameDesigner, contract.AgentProjectManager, input.WorkItemID), nil
	})
	runtime := newTestRuntime(t, contract.AgentGameDesigner, processor)

	input := contract.New(contract.AgentProjectManager, contract.AgentGameDesigner, "STORY-GH-1001")
	_, err := runtime.Execute(context.Background(), input)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBusinessRuleFault)

	record, _, loadErr := runtime.State("STORY-GH-1001")
	require.NoError(t, loadErr)
	assert.Equal(t, state.StatusError, record.Status)
}

func TestRuntimeNilInput(t *testing.T) {
	runtime := newTestRuntime(t, contract.AgentGameDesigner, forwardingProcessor(t))
	_, err := runtime.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaFault)
}

func TestRuntimeStorageFaultPropagates(t *testing.T) {
	runtime := NewRuntime(contract.AgentGameDesigner, validation.NewEngine(), &failingStore{}, forwardingProcessor(t))

	input := contract.New(contract.AgentProjectManager, contract.AgentGameDesigner, "STORY-GH-1001")
	_, err := runtime.Execute(context.Background(), input)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageFault)
}

func TestRuntimeConcurrentWorkItems(t *testing.T) {
	runtime := newTestRuntime(t, contract.AgentGameDesigner, forwardingProcessor(t))

	workItems := []string{"STORY-GH-1", "STORY-GH-2", "STORY-GH-3", "STORY-GH-4"}
	var wg sync.WaitGroup
	for _, id := range workItems {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			input := contract.New(contract.AgentProjectManager, contract.AgentGameDesigner, id)
			if _, err := runtime.Execute(context.Background(), input); err != nil {
				t.Errorf("execute %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range workItems {
		record, found, err := runtime.State(id)
		require.NoError(t, err)
		require.True(t, found, "work item %s", id)
		assert.Equal(t, state.StatusCompleted, record.Status)
	}
}

func TestStatusTransitions(t *testing.T) {
	legal := [][2]state.Status{
		{state.StatusStarted, state.StatusInProgress},
		{state.StatusStarted, state.StatusError},
		{state.StatusInProgress, state.StatusCompleted},
		{state.StatusInProgress, state.StatusError},
	}
	for _, hop := range legal {
		assert.True(t, canTransition(hop[0], hop[1]), "%s -> %s should be legal", hop[0], hop[1])
	}

	illegal := [][2]state.Status{
		{state.StatusStarted, state.StatusCompleted},
		{state.StatusCompleted, state.StatusInProgress},
		{state.StatusCompleted, state.StatusError},
		{state.StatusError, state.StatusStarted},
		{state.StatusError, state.StatusCompleted},
	}
	for _, hop := range illegal {
		assert.False(t, canTransition(hop[0], hop[1]), "%s -> %s should be illegal", hop[0], hop[1])
	}
}

// failingStore errors on every write, for storage fault propagation tests.
type failingStore struct{}

func (f *failingStore) Save(key state.Key, _ *state.ExecutionState) error {
	return fmt.Errorf("%w: disk full saving %s", state.ErrStorage, key)
}

func (f *failingStore) Load(state.Key) (*state.ExecutionState, bool, error) {
	return nil, false, nil
}

func (f *failingStore) Clear(state.Key) error { return nil }

func (f *failingStore) List() ([]state.Key, error) { return nil, nil }

func (f *failingStore) Evict(time.Duration) (int, error) { return 0, nil }
