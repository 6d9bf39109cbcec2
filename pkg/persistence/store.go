package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"conductor/pkg/contract"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/state"
)

// SQLiteStore implements state.Store on a SQLite database. Per-key write
// atomicity comes from SQLite's transactional upsert; no additional locking
// is needed beyond the single-writer pool.
type SQLiteStore struct {
	db       *sql.DB
	recorder metrics.Recorder
	logger   *logx.Logger
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", state.ErrStorage, err)
	}
	logger := logx.NewLogger("persistence")
	logger.Info("📦 State database initialized: %s", dbPath)
	return &SQLiteStore{
		db:       db,
		recorder: metrics.NoopRecorder{},
		logger:   logger,
	}, nil
}

// SetRecorder attaches a metrics recorder for store operations.
func (s *SQLiteStore) SetRecorder(r metrics.Recorder) {
	if r != nil {
		s.recorder = r
	}
}

// Close closes the underlying database. Should be called during shutdown.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Save upserts a record under its key.
func (s *SQLiteStore) Save(key state.Key, st *state.ExecutionState) (err error) {
	defer func() { s.recorder.RecordStoreOperation("sqlite", "save", err) }()

	if st == nil {
		return fmt.Errorf("%w: cannot save nil state for %s", state.ErrStorage, key)
	}
	if err := st.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid record for %s: %w", key, err)
	}

	input, marshalErr := marshalNullable(st.InputContract)
	if marshalErr != nil {
		return fmt.Errorf("%w: failed to marshal input contract for %s: %v", state.ErrStorage, key, marshalErr)
	}
	output, marshalErr := marshalNullable(st.OutputContract)
	if marshalErr != nil {
		return fmt.Errorf("%w: failed to marshal output contract for %s: %v", state.ErrStorage, key, marshalErr)
	}
	progress, marshalErr := marshalNullable(st.ProgressData)
	if marshalErr != nil {
		return fmt.Errorf("%w: failed to marshal progress data for %s: %v", state.ErrStorage, key, marshalErr)
	}
	errorData, marshalErr := marshalNullable(st.ErrorData)
	if marshalErr != nil {
		return fmt.Errorf("%w: failed to marshal error data for %s: %v", state.ErrStorage, key, marshalErr)
	}

	_, execErr := s.db.Exec(`
		INSERT INTO execution_states
			(agent, work_item_id, status, input_contract, output_contract,
			 progress_data, error_data, started_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent, work_item_id) DO UPDATE SET
			status = excluded.status,
			input_contract = excluded.input_contract,
			output_contract = excluded.output_contract,
			progress_data = excluded.progress_data,
			error_data = excluded.error_data,
			started_at = excluded.started_at,
			last_updated = excluded.last_updated`,
		string(key.Agent), key.WorkItemID, string(st.Status), input, output,
		progress, errorData, st.StartedAt.UTC().Format(time.RFC3339Nano),
		st.LastUpdated.UTC().Format(time.RFC3339Nano))
	if execErr != nil {
		return fmt.Errorf("%w: failed to save state for %s: %v", state.ErrStorage, key, execErr)
	}
	return nil
}

// Load retrieves a record. A missing key returns (nil, false, nil).
func (s *SQLiteStore) Load(key state.Key) (st *state.ExecutionState, found bool, err error) {
	defer func() { s.recorder.RecordStoreOperation("sqlite", "load", err) }()

	row := s.db.QueryRow(`
		SELECT status, input_contract, output_contract, progress_data,
		       error_data, started_at, last_updated
		FROM execution_states
		WHERE agent = ? AND work_item_id = ?`,
		string(key.Agent), key.WorkItemID)

	var status, startedAt, lastUpdated string
	var input, output, progress, errorData sql.NullString
	scanErr := row.Scan(&status, &input, &output, &progress, &errorData, &startedAt, &lastUpdated)
	if errors.Is(scanErr, sql.ErrNoRows) {
		return nil, false, nil
	}
	if scanErr != nil {
		return nil, false, fmt.Errorf("%w: failed to load state for %s: %v", state.ErrStorage, key, scanErr)
	}

	record := &state.ExecutionState{
		Agent:      key.Agent,
		WorkItemID: key.WorkItemID,
		Status:     state.Status(status),
	}

	if record.StartedAt, err = parseTimestamp(key, "started_at", startedAt); err != nil {
		return nil, false, err
	}
	if record.LastUpdated, err = parseTimestamp(key, "last_updated", lastUpdated); err != nil {
		return nil, false, err
	}
	if err = unmarshalNullable(key, input, &record.InputContract); err != nil {
		return nil, false, err
	}
	if err = unmarshalNullable(key, output, &record.OutputContract); err != nil {
		return nil, false, err
	}
	if err = unmarshalNullable(key, progress, &record.ProgressData); err != nil {
		return nil, false, err
	}
	if err = unmarshalNullable(key, errorData, &record.ErrorData); err != nil {
		return nil, false, err
	}

	if validateErr := record.Validate(); validateErr != nil {
		return nil, false, fmt.Errorf("%s: %w", key, validateErr)
	}
	return record, true, nil
}

// Clear removes a record. Clearing a missing key is a no-op.
func (s *SQLiteStore) Clear(key state.Key) (err error) {
	defer func() { s.recorder.RecordStoreOperation("sqlite", "clear", err) }()

	_, execErr := s.db.Exec(`DELETE FROM execution_states WHERE agent = ? AND work_item_id = ?`,
		string(key.Agent), key.WorkItemID)
	if execErr != nil {
		return fmt.Errorf("%w: failed to clear state for %s: %v", state.ErrStorage, key, execErr)
	}
	return nil
}

// List returns the keys of all persisted records.
func (s *SQLiteStore) List() (keys []state.Key, err error) {
	defer func() { s.recorder.RecordStoreOperation("sqlite", "list", err) }()

	rows, queryErr := s.db.Query(`SELECT agent, work_item_id FROM execution_states ORDER BY agent, work_item_id`)
	if queryErr != nil {
		return nil, fmt.Errorf("%w: failed to list states: %v", state.ErrStorage, queryErr)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var agent, workItemID string
		if scanErr := rows.Scan(&agent, &workItemID); scanErr != nil {
			return nil, fmt.Errorf("%w: failed to scan state key: %v", state.ErrStorage, scanErr)
		}
		keys = append(keys, state.Key{Agent: contract.Agent(agent), WorkItemID: workItemID})
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("%w: failed to iterate state keys: %v", state.ErrStorage, rowsErr)
	}
	return keys, nil
}

// Evict removes records whose last update is older than the given age.
func (s *SQLiteStore) Evict(olderThan time.Duration) (evicted int, err error) {
	defer func() { s.recorder.RecordStoreOperation("sqlite", "evict", err) }()

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	result, execErr := s.db.Exec(`DELETE FROM execution_states WHERE last_updated < ?`, cutoff)
	if execErr != nil {
		return 0, fmt.Errorf("%w: failed to evict states: %v", state.ErrStorage, execErr)
	}
	affected, affErr := result.RowsAffected()
	if affErr != nil {
		return 0, fmt.Errorf("%w: failed to count evicted states: %v", state.ErrStorage, affErr)
	}
	return int(affected), nil
}

func marshalNullable(v any) (sql.NullString, error) {
	switch value := v.(type) {
	case *contract.Contract:
		if value == nil {
			return sql.NullString{}, nil
		}
	case map[string]any:
		if value == nil {
			return sql.NullString{}, nil
		}
	case *state.ErrorRecord:
		if value == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalNullable[T any](key state.Key, column sql.NullString, dest *T) error {
	if !column.Valid {
		return nil
	}
	if err := json.Unmarshal([]byte(column.String), dest); err != nil {
		return fmt.Errorf("%w: %s: %v", state.ErrCorruptRecord, key, err)
	}
	return nil
}

func parseTimestamp(key state.Key, column, value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: bad %s timestamp %q", state.ErrCorruptRecord, key, column, value)
	}
	return ts, nil
}
