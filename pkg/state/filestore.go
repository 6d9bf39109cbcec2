package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"conductor/pkg/contract"
	"conductor/pkg/metrics"
)

const (
	statePrefix = "STATE_"
	stateSuffix = ".json"
)

// FileStore persists one JSON file per (stage, work item) key under a base
// directory. Writes go through a temp file and rename, so a concurrent reader
// never observes a half-written record. Lock granularity is per key; there is
// no global lock across keys.
type FileStore struct {
	baseDir  string
	recorder metrics.Recorder

	mu    sync.Mutex // guards locks map only
	locks map[string]*sync.Mutex
}

// NewFileStore creates a file-backed store, creating the base directory if
// needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create state directory %s: %v", ErrStorage, baseDir, err)
	}
	return &FileStore{
		baseDir:  baseDir,
		recorder: metrics.NoopRecorder{},
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// SetRecorder attaches a metrics recorder for store operations.
func (s *FileStore) SetRecorder(r metrics.Recorder) {
	if r != nil {
		s.recorder = r
	}
}

func (s *FileStore) keyLock(key Key) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, exists := s.locks[key.String()]
	if !exists {
		lock = &sync.Mutex{}
		s.locks[key.String()] = lock
	}
	return lock
}

// Save persists a record atomically under its key.
func (s *FileStore) Save(key Key, st *ExecutionState) (err error) {
	defer func() { s.recorder.RecordStoreOperation("file", "save", err) }()

	if st == nil {
		return fmt.Errorf("%w: cannot save nil state for %s", ErrStorage, key)
	}
	if err := st.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid record for %s: %w", key, err)
	}

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	data, marshalErr := json.MarshalIndent(st, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("%w: failed to marshal state for %s: %v", ErrStorage, key, marshalErr)
	}

	// Temp file + rename keeps the visible file whole at all times.
	final := s.filename(key)
	tmp := final + ".tmp"
	if writeErr := os.WriteFile(tmp, data, 0644); writeErr != nil {
		return fmt.Errorf("%w: failed to write state file for %s: %v", ErrStorage, key, writeErr)
	}
	if renameErr := os.Rename(tmp, final); renameErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: failed to commit state file for %s: %v", ErrStorage, key, renameErr)
	}
	return nil
}

// Load retrieves a record. A missing key returns (nil, false, nil).
func (s *FileStore) Load(key Key) (st *ExecutionState, found bool, err error) {
	defer func() { s.recorder.RecordStoreOperation("file", "load", err) }()

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	data, readErr := os.ReadFile(s.filename(key))
	if os.IsNotExist(readErr) {
		return nil, false, nil
	}
	if readErr != nil {
		return nil, false, fmt.Errorf("%w: failed to read state file for %s: %v", ErrStorage, key, readErr)
	}

	var record ExecutionState
	if unmarshalErr := json.Unmarshal(data, &record); unmarshalErr != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, key, unmarshalErr)
	}
	if validateErr := record.Validate(); validateErr != nil {
		return nil, false, fmt.Errorf("%s: %w", key, validateErr)
	}
	return &record, true, nil
}

// Clear removes a record. Clearing a missing key is a no-op.
func (s *FileStore) Clear(key Key) (err error) {
	defer func() { s.recorder.RecordStoreOperation("file", "clear", err) }()

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	removeErr := os.Remove(s.filename(key))
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("%w: failed to delete state file for %s: %v", ErrStorage, key, removeErr)
	}
	return nil
}

// List returns the keys of all persisted records.
func (s *FileStore) List() (keys []Key, err error) {
	defer func() { s.recorder.RecordStoreOperation("file", "list", err) }()

	entries, readErr := os.ReadDir(s.baseDir)
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read state directory: %v", ErrStorage, readErr)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key, ok := parseFilename(entry.Name())
		if !ok {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Evict removes records whose last update is older than the given age.
// Comparison is against last_updated, not started_at: an execution still
// writing progress must not be evicted mid-flight.
func (s *FileStore) Evict(olderThan time.Duration) (evicted int, err error) {
	defer func() { s.recorder.RecordStoreOperation("file", "evict", err) }()

	keys, listErr := s.List()
	if listErr != nil {
		return 0, listErr
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	for _, key := range keys {
		record, found, loadErr := s.Load(key)
		if loadErr != nil || !found {
			// Corrupt or vanished records don't block eviction of the rest.
			continue
		}
		if record.LastUpdated.Before(cutoff) {
			if clearErr := s.Clear(key); clearErr != nil {
				return evicted, clearErr
			}
			evicted++
		}
	}
	return evicted, nil
}

func (s *FileStore) filename(key Key) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s%s_%s%s", statePrefix, key.Agent, key.WorkItemID, stateSuffix))
}

// parseFilename recovers a key from STATE_<agent>_<work_item_id>.json.
// Agent names contain underscores but work item identifiers cannot, so the
// split is at the last underscore.
func parseFilename(name string) (Key, bool) {
	if !strings.HasPrefix(name, statePrefix) || !strings.HasSuffix(name, stateSuffix) {
		return Key{}, false
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, statePrefix), stateSuffix)
	idx := strings.LastIndex(trimmed, "_")
	if idx <= 0 || idx == len(trimmed)-1 {
		return Key{}, false
	}
	agent, ok := contract.ValidateAgent(trimmed[:idx])
	if !ok {
		return Key{}, false
	}
	return Key{Agent: agent, WorkItemID: trimmed[idx+1:]}, true
}
