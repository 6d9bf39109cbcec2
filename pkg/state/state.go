// Package state defines the durable execution state record kept per
// (stage, work item) pair and the Store contract both persistence backends
// implement.
package state

import (
	"errors"
	"fmt"
	"time"

	"conductor/pkg/contract"
)

// Status is the execution status of a stage run for one work item.
type Status string

const (
	StatusStarted    Status = "started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// ValidateStatus validates if a string is a known execution status.
func ValidateStatus(status string) (Status, bool) {
	switch Status(status) {
	case StatusStarted, StatusInProgress, StatusCompleted, StatusError:
		return Status(status), true
	default:
		return "", false
	}
}

// String returns the string representation of Status.
func (s Status) String() string {
	return string(s)
}

// ErrorRecord is the typed error attached to an execution that ended in the
// error state.
type ErrorRecord struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Gate    string `json:"gate,omitempty"`
}

// ExecutionState is the per-(stage, work item) record persisted at every
// runtime transition.
type ExecutionState struct {
	Agent          contract.Agent     `json:"agent"`
	WorkItemID     string             `json:"work_item_id"`
	Status         Status             `json:"status"`
	InputContract  *contract.Contract `json:"input_contract"`
	OutputContract *contract.Contract `json:"output_contract,omitempty"`
	ProgressData   map[string]any     `json:"progress_data,omitempty"`
	ErrorData      *ErrorRecord       `json:"error_data,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	LastUpdated    time.Time          `json:"last_updated"`
}

// Validate rejects reconstruction of a record missing required fields.
// A store must fail a load with ErrCorruptRecord rather than hand back a
// partially-parsed object.
func (s *ExecutionState) Validate() error {
	if s.Agent == "" {
		return fmt.Errorf("%w: agent is required", ErrCorruptRecord)
	}
	if s.WorkItemID == "" {
		return fmt.Errorf("%w: work_item_id is required", ErrCorruptRecord)
	}
	if _, ok := ValidateStatus(string(s.Status)); !ok {
		return fmt.Errorf("%w: invalid status %q", ErrCorruptRecord, s.Status)
	}
	if s.StartedAt.IsZero() {
		return fmt.Errorf("%w: started_at is required", ErrCorruptRecord)
	}
	return nil
}

// Key identifies one execution state record.
type Key struct {
	Agent      contract.Agent `json:"agent"`
	WorkItemID string         `json:"work_item_id"`
}

// String returns the canonical key form "agent/work_item_id".
func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Agent, k.WorkItemID)
}

// Storage faults. A failed write must surface as an error, never report
// success; a corrupted record must fail the load.
var (
	// ErrStorage indicates a state store operation failed.
	ErrStorage = errors.New("state storage fault")

	// ErrCorruptRecord indicates a persisted record could not be reconstructed.
	ErrCorruptRecord = fmt.Errorf("%w: corrupt record", ErrStorage)
)

// Store is durable key-value persistence for execution state. Implementations
// must tolerate concurrent access for different keys without corruption and
// make per-key writes atomic: a reader never observes a half-written record.
type Store interface {
	// Save persists a record, overwriting any previous one under the key.
	Save(key Key, st *ExecutionState) error
	// Load retrieves a record. A missing key is (nil, false, nil), not an error.
	Load(key Key) (*ExecutionState, bool, error)
	// Clear removes a record. Clearing a missing key is a no-op.
	Clear(key Key) error
	// List returns the keys of all persisted records.
	List() ([]Key, error)
	// Evict removes records whose last update is older than the given age and
	// returns how many were removed.
	Evict(olderThan time.Duration) (int, error)
}
