package runstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hochfrequenz/fsm-bench/internal/domain"
	"github.com/hochfrequenz/fsm-bench/internal/fsm"
	_ "modernc.org/sqlite"
)

// ErrDefinitionNotFound means the FSM definition for an instance is missing.
// It is fatal for that one instance only: the owning worker aborts, siblings
// are unaffected.
var ErrDefinitionNotFound = errors.New("fsm definition not found")

// codecVersion tags every JSON document written by this store so a future
// structural change can migrate old rows instead of failing to decode them.
const codecVersion = 1

type machineDoc struct {
	V int `json:"v"`
	domain.Machine
}

type conversationDoc struct {
	V        int              `json:"v"`
	Messages []domain.Message `json:"messages"`
}

// Store provides SQLite-backed experiment persistence. All mutating calls are
// serialized through a single writer lock; readers go straight to the pool, so
// one Store handle is safe to share across workers.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Per-turn checkpoints from several workers hit the same file; WAL keeps
	// readers unblocked and busy_timeout absorbs write collisions.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureDefinitions guarantees one stored machine per instance id in
// [1, total], calling gen for each id that is not yet on record. Raising the
// instance target later fills only the gap; existing definitions are never
// regenerated.
func (s *Store) EnsureDefinitions(total int, gen func(instanceID int) (*domain.Machine, error)) (created int, err error) {
	rows, err := s.db.Query(`SELECT instance_id FROM fsm_definitions`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	existing := make(map[int]bool)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		existing[id] = true
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for id := 1; id <= total; id++ {
		if existing[id] {
			continue
		}
		machine, err := gen(id)
		if err != nil {
			return created, fmt.Errorf("generating instance %d: %w", id, err)
		}
		if err := s.PutDefinition(id, machine); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// PutDefinition stores a machine definition for an instance id.
func (s *Store) PutDefinition(instanceID int, m *domain.Machine) error {
	doc, err := json.Marshal(machineDoc{V: codecVersion, Machine: *m})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`INSERT OR IGNORE INTO fsm_definitions (instance_id, definition) VALUES (?, ?)`,
		instanceID, string(doc))
	return err
}

// GetDefinition retrieves the immutable machine definition for an instance.
func (s *Store) GetDefinition(instanceID int) (*domain.Machine, error) {
	var raw string
	err := s.db.QueryRow(`SELECT definition FROM fsm_definitions WHERE instance_id = ?`, instanceID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: instance %d", ErrDefinitionNotFound, instanceID)
	}
	if err != nil {
		return nil, err
	}

	var doc machineDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decoding definition for instance %d: %w", instanceID, err)
	}
	return &doc.Machine, nil
}

// CountDefinitions returns the number of stored machine definitions.
func (s *Store) CountDefinitions() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM fsm_definitions`).Scan(&n)
	return n, err
}

// GetOrCreateRun returns the run record for (instanceID, runID), creating and
// persisting a fresh one if none exists. A new record seeds the conversation
// with the rendered task prompt: as a system message when the agent supports
// priming through the system role, otherwise as the first user message. The
// machine definition must already exist.
func (s *Store) GetOrCreateRun(instanceID int, runID string, supportsPriming bool) (*domain.RunRecord, error) {
	rec, err := s.getRun(instanceID, runID)
	if err == nil {
		return rec, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	machine, err := s.GetDefinition(instanceID)
	if err != nil {
		return nil, err
	}

	prompt := fsm.RenderTaskPrompt(machine)
	role := domain.RoleSystem
	if !supportsPriming {
		role = domain.RoleUser
	}

	rec = &domain.RunRecord{
		InstanceID:       instanceID,
		RunID:            runID,
		Conversation:     []domain.Message{{Role: role, Content: prompt}},
		CurrentTurn:      0,
		GroundTruthState: machine.InitialState,
		LastLLMState:     machine.InitialState,
		IsTaskCorrect:    true,
		IsComplete:       false,
	}

	doc, err := json.Marshal(conversationDoc{V: codecVersion, Messages: rec.Conversation})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`
		INSERT INTO experiment_runs (instance_id, run_id, conversation, ground_truth_state, last_llm_state)
		VALUES (?, ?, ?, ?, ?)
	`, instanceID, runID, string(doc), rec.GroundTruthState, rec.LastLLMState)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) getRun(instanceID int, runID string) (*domain.RunRecord, error) {
	row := s.db.QueryRow(`
		SELECT instance_id, run_id, conversation, current_turn, ground_truth_state, last_llm_state, is_task_correct, is_complete
		FROM experiment_runs WHERE instance_id = ? AND run_id = ?
	`, instanceID, runID)

	var rec domain.RunRecord
	var convRaw string
	err := row.Scan(&rec.InstanceID, &rec.RunID, &convRaw, &rec.CurrentTurn,
		&rec.GroundTruthState, &rec.LastLLMState, &rec.IsTaskCorrect, &rec.IsComplete)
	if err != nil {
		return nil, err
	}

	var doc conversationDoc
	if err := json.Unmarshal([]byte(convRaw), &doc); err != nil {
		return nil, fmt.Errorf("decoding conversation for instance %d: %w", rec.InstanceID, err)
	}
	rec.Conversation = doc.Messages
	return &rec, nil
}

// UpdateRun overwrites all mutable fields of a run record in one statement.
// Callers always supply the complete record; the write is the recovery
// checkpoint between turns.
func (s *Store) UpdateRun(rec *domain.RunRecord) error {
	doc, err := json.Marshal(conversationDoc{V: codecVersion, Messages: rec.Conversation})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`
		UPDATE experiment_runs
		SET conversation = ?, current_turn = ?, ground_truth_state = ?,
		    last_llm_state = ?, is_task_correct = ?, is_complete = ?
		WHERE instance_id = ? AND run_id = ?
	`, string(doc), rec.CurrentTurn, rec.GroundTruthState, rec.LastLLMState,
		rec.IsTaskCorrect, rec.IsComplete, rec.InstanceID, rec.RunID)
	return err
}

// UpdateAggregate folds one observed turn into the (runID, taskLength) cell.
// The accumulation is monotonic and carries no de-duplication: the caller must
// invoke it exactly once per (run identifier, instance, turn).
func (s *Store) UpdateAggregate(runID string, taskLength int, turnCorrect, taskCorrect bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO results (run_id, task_length, turn_successes, task_successes, total_runs)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(run_id, task_length) DO UPDATE SET
			turn_successes = turn_successes + excluded.turn_successes,
			task_successes = task_successes + excluded.task_successes,
			total_runs = total_runs + 1
	`, runID, taskLength, boolToInt(turnCorrect), boolToInt(taskCorrect))
	return err
}

// LogError appends one row to the error log. Entries are never updated or
// deleted, except en masse by a sample-size reduction.
func (s *Store) LogError(e domain.ErrorEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO error_log (run_id, instance_id, turn_number, task_length, expected_state, raw_response, failure_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.RunID, e.InstanceID, e.TurnNumber, e.TaskLength, e.ExpectedState, e.RawResponse, string(e.FailureType))
	return err
}

// RunsToProcess returns the sorted instance ids in [1, total] not yet marked
// complete for the run identifier. Interrupted and extended runs reappear
// here; finished ones do not.
func (s *Store) RunsToProcess(total int, runID string) ([]int, error) {
	rows, err := s.db.Query(`SELECT instance_id FROM experiment_runs WHERE run_id = ? AND is_complete = TRUE`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	complete := make(map[int]bool)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		complete[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var pending []int
	for id := 1; id <= total; id++ {
		if !complete[id] {
			pending = append(pending, id)
		}
	}
	return pending, nil
}

// CompletedCount returns how many instances are marked complete for the run
// identifier.
func (s *Store) CompletedCount(runID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM experiment_runs WHERE run_id = ? AND is_complete = TRUE`, runID).Scan(&n)
	return n, err
}

// ListAggregates returns aggregate rows, filtered to one run identifier when
// runID is non-empty, ordered by run identifier then task length.
func (s *Store) ListAggregates(runID string) ([]domain.AggregateRow, error) {
	query := `SELECT run_id, task_length, turn_successes, task_successes, total_runs FROM results`
	var args []interface{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY run_id, task_length`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AggregateRow
	for rows.Next() {
		var r domain.AggregateRow
		if err := rows.Scan(&r.RunID, &r.TaskLength, &r.TurnSuccesses, &r.TaskSuccesses, &r.TotalRuns); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// ListErrors returns error-log entries, filtered to one run identifier when
// runID is non-empty, in append order.
func (s *Store) ListErrors(runID string) ([]domain.ErrorEntry, error) {
	query := `SELECT run_id, instance_id, turn_number, task_length, expected_state, raw_response, failure_type FROM error_log`
	var args []interface{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY log_rowid`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ErrorEntry
	for rows.Next() {
		var e domain.ErrorEntry
		var failureType string
		if err := rows.Scan(&e.RunID, &e.InstanceID, &e.TurnNumber, &e.TaskLength,
			&e.ExpectedState, &e.RawResponse, &failureType); err != nil {
			return nil, err
		}
		e.FailureType = domain.FailureType(failureType)
		result = append(result, e)
	}
	return result, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
