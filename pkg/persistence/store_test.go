package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/contract"
	"conductor/pkg/state"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRecord(agent contract.Agent, workItemID string) *state.ExecutionState {
	now := time.Now().UTC()
	return &state.ExecutionState{
		Agent:         agent,
		WorkItemID:    workItemID,
		Status:        state.StatusInProgress,
		InputContract: contract.New(contract.AgentProjectManager, agent, workItemID),
		ProgressData: map[string]any{
			"step":   "implementing",
			"nested": map[string]any{"files": []any{"main.go"}},
		},
		StartedAt:   now,
		LastUpdated: now,
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	key := state.Key{Agent: contract.AgentDeveloper, WorkItemID: "STORY-GH-1001"}
	record := testRecord(key.Agent, key.WorkItemID)
	require.NoError(t, store.Save(key, record))

	loaded, found, err := store.Load(key)
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, record.Status, loaded.Status)
	assert.Equal(t, record.InputContract, loaded.InputContract)
	assert.Equal(t, record.ProgressData, loaded.ProgressData)
	assert.True(t, record.StartedAt.Equal(loaded.StartedAt))
	assert.Nil(t, loaded.OutputContract)
	assert.Nil(t, loaded.ErrorData)
}

func TestSQLiteStoreLoadAbsent(t *testing.T) {
	store := newTestStore(t)

	loaded, found, err := store.Load(state.Key{Agent: contract.AgentDeveloper, WorkItemID: "STORY-GH-9999"})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, loaded)
}

func TestSQLiteStoreUpsert(t *testing.T) {
	store := newTestStore(t)

	key := state.Key{Agent: contract.AgentTestEngineer, WorkItemID: "STORY-GH-1001"}
	record := testRecord(key.Agent, key.WorkItemID)
	require.NoError(t, store.Save(key, record))

	// Saving again under the same key replaces the record.
	record.Status = state.StatusCompleted
	record.OutputContract = contract.New(key.Agent, contract.AgentQATester, key.WorkItemID)
	record.ErrorData = nil
	record.LastUpdated = time.Now().UTC()
	require.NoError(t, store.Save(key, record))

	loaded, found, err := store.Load(key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, state.StatusCompleted, loaded.Status)
	assert.Equal(t, record.OutputContract, loaded.OutputContract)

	keys, err := store.List()
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestSQLiteStoreSaveRejectsInvalidRecord(t *testing.T) {
	store := newTestStore(t)

	key := state.Key{Agent: contract.AgentDeveloper, WorkItemID: "STORY-GH-1001"}
	if err := store.Save(key, nil); err == nil {
		t.Error("expected error saving nil record")
	}

	record := testRecord(key.Agent, key.WorkItemID)
	record.Status = "finished"
	if err := store.Save(key, record); err == nil {
		t.Error("expected error saving record with invalid status")
	}
}

func TestSQLiteStoreClear(t *testing.T) {
	store := newTestStore(t)

	key := state.Key{Agent: contract.AgentQATester, WorkItemID: "STORY-GH-1001"}
	require.NoError(t, store.Save(key, testRecord(key.Agent, key.WorkItemID)))
	require.NoError(t, store.Clear(key))

	_, found, err := store.Load(key)
	require.NoError(t, err)
	assert.False(t, found)

	// Clearing an absent key is a no-op.
	assert.NoError(t, store.Clear(key))
}

func TestSQLiteStoreList(t *testing.T) {
	store := newTestStore(t)

	keys := []state.Key{
		{Agent: contract.AgentProjectManager, WorkItemID: "STORY-GH-1001"},
		{Agent: contract.AgentGameDesigner, WorkItemID: "STORY-GH-1001"},
		{Agent: contract.AgentGameDesigner, WorkItemID: "ISSUE-12345"},
	}
	for _, key := range keys {
		require.NoError(t, store.Save(key, testRecord(key.Agent, key.WorkItemID)))
	}

	listed, err := store.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, keys, listed)
}

func TestSQLiteStoreEvict(t *testing.T) {
	store := newTestStore(t)

	oldKey := state.Key{Agent: contract.AgentDeveloper, WorkItemID: "STORY-GH-1001"}
	oldRecord := testRecord(oldKey.Agent, oldKey.WorkItemID)
	oldRecord.LastUpdated = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, store.Save(oldKey, oldRecord))

	freshKey := state.Key{Agent: contract.AgentDeveloper, WorkItemID: "ISSUE-12345"}
	require.NoError(t, store.Save(freshKey, testRecord(freshKey.Agent, freshKey.WorkItemID)))

	evicted, err := store.Evict(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)

	_, found, err := store.Load(oldKey)
	require.NoError(t, err)
	assert.False(t, found, "stale record should be gone")

	_, found, err = store.Load(freshKey)
	require.NoError(t, err)
	assert.True(t, found, "fresh record must survive eviction")
}

func TestSQLiteStoreErrorRecordRoundTrip(t *testing.T) {
	store := newTestStore(t)

	key := state.Key{Agent: contract.AgentQualityReviewer, WorkItemID: "STORY-GH-1001"}
	record := testRecord(key.Agent, key.WorkItemID)
	record.Status = state.StatusError
	record.ErrorData = &state.ErrorRecord{
		Kind:    "quality_gate",
		Message: "gate lint failed",
		Gate:    "lint",
	}
	require.NoError(t, store.Save(key, record))

	loaded, found, err := store.Load(key)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, loaded.ErrorData)
	assert.Equal(t, "quality_gate", loaded.ErrorData.Kind)
	assert.Equal(t, "lint", loaded.ErrorData.Gate)
}

func TestSQLiteStoreSatisfiesStoreInterface(t *testing.T) {
	var _ state.Store = newTestStore(t)
}
