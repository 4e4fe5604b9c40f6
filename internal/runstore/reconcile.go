package runstore

import (
	"fmt"
	"sort"
)

// ReconcileSampleSize shrinks the experiment to newTotal instances. Machines,
// run records, and error-log entries above the target are deleted irrevocably,
// and the aggregate rows for runID are rebuilt from the surviving raw data:
// incremental counters cannot be un-added, so stale rows are dropped and
// re-derived. A no-op when newTotal is not smaller than the highest instance
// id on record. Safe to re-run: identical inputs yield identical rows.
func (s *Store) ReconcileSampleSize(newTotal int, runID string, totalTurns, stepsPerTurn int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxID int
	err := s.db.QueryRow(`
		SELECT COALESCE(MAX(id), 0) FROM (
			SELECT MAX(instance_id) AS id FROM fsm_definitions
			UNION ALL SELECT MAX(instance_id) FROM experiment_runs
			UNION ALL SELECT MAX(instance_id) FROM error_log
		)
	`).Scan(&maxID)
	if err != nil {
		return err
	}
	if newTotal >= maxID {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM fsm_definitions WHERE instance_id > ?`,
		`DELETE FROM experiment_runs WHERE instance_id > ?`,
		`DELETE FROM error_log WHERE instance_id > ?`,
	} {
		if _, err := tx.Exec(stmt, newTotal); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`DELETE FROM results WHERE run_id = ?`, runID); err != nil {
		return err
	}

	// Rebuild from the surviving run records and error log. A run counts
	// toward total_runs at turn t iff it progressed that far; toward
	// turn_successes iff no error was logged at exactly t; toward
	// task_successes iff no error was logged at any turn <= t — task
	// correctness is a prefix property, so one failure disqualifies every
	// longer task length. Priming failures are logged at turn 0 and therefore
	// disqualify the task at every length without affecting any turn count.
	runRows, err := tx.Query(`SELECT instance_id, current_turn FROM experiment_runs WHERE run_id = ?`, runID)
	if err != nil {
		return err
	}
	progress := make(map[int]int)
	for runRows.Next() {
		var instanceID, currentTurn int
		if err := runRows.Scan(&instanceID, &currentTurn); err != nil {
			runRows.Close()
			return err
		}
		progress[instanceID] = currentTurn
	}
	runRows.Close()
	if err := runRows.Err(); err != nil {
		return err
	}

	errRows, err := tx.Query(`SELECT instance_id, turn_number FROM error_log WHERE run_id = ?`, runID)
	if err != nil {
		return err
	}
	failedTurns := make(map[int]map[int]bool)
	for errRows.Next() {
		var instanceID, turn int
		if err := errRows.Scan(&instanceID, &turn); err != nil {
			errRows.Close()
			return err
		}
		if failedTurns[instanceID] == nil {
			failedTurns[instanceID] = make(map[int]bool)
		}
		failedTurns[instanceID][turn] = true
	}
	errRows.Close()
	if err := errRows.Err(); err != nil {
		return err
	}

	instances := make([]int, 0, len(progress))
	for id := range progress {
		instances = append(instances, id)
	}
	sort.Ints(instances)

	prefixOK := make(map[int]bool, len(instances))
	for _, id := range instances {
		prefixOK[id] = !failedTurns[id][0]
	}

	for turn := 1; turn <= totalTurns; turn++ {
		var totalRuns, turnSuccesses, taskSuccesses int
		for _, id := range instances {
			if progress[id] < turn {
				continue
			}
			totalRuns++
			failed := failedTurns[id][turn]
			if !failed {
				turnSuccesses++
			}
			if failed {
				prefixOK[id] = false
			}
			if prefixOK[id] {
				taskSuccesses++
			}
		}
		if totalRuns == 0 {
			continue
		}
		_, err := tx.Exec(`
			INSERT INTO results (run_id, task_length, turn_successes, task_successes, total_runs)
			VALUES (?, ?, ?, ?, ?)
		`, runID, turn*stepsPerTurn, turnSuccesses, taskSuccesses, totalRuns)
		if err != nil {
			return fmt.Errorf("rebuilding aggregate for turn %d: %w", turn, err)
		}
	}

	return tx.Commit()
}

// PrepareExtension clears the completion flag on every run for runID that has
// not yet reached the new turn budget, so the driver's resumption query picks
// them back up and continues from the persisted turn counter. Aggregate rows
// are untouched: new turns extend them incrementally as normal.
func (s *Store) PrepareExtension(runID string, newTotalTurns int) (reopened int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE experiment_runs SET is_complete = FALSE
		WHERE run_id = ? AND is_complete = TRUE AND current_turn < ?
	`, runID, newTotalTurns)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
