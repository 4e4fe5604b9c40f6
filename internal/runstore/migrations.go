package runstore

const schema = `
CREATE TABLE IF NOT EXISTS fsm_definitions (
    instance_id INTEGER PRIMARY KEY,
    definition TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS experiment_runs (
    run_rowid INTEGER PRIMARY KEY AUTOINCREMENT,
    instance_id INTEGER NOT NULL,
    run_id TEXT NOT NULL,
    conversation TEXT NOT NULL,
    current_turn INTEGER NOT NULL DEFAULT 0,
    ground_truth_state TEXT NOT NULL,
    last_llm_state TEXT NOT NULL,
    is_task_correct BOOLEAN NOT NULL DEFAULT TRUE,
    is_complete BOOLEAN NOT NULL DEFAULT FALSE,
    UNIQUE(instance_id, run_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_run_id ON experiment_runs(run_id);

CREATE TABLE IF NOT EXISTS results (
    result_rowid INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    task_length INTEGER NOT NULL,
    turn_successes INTEGER NOT NULL DEFAULT 0,
    task_successes INTEGER NOT NULL DEFAULT 0,
    total_runs INTEGER NOT NULL DEFAULT 0,
    UNIQUE(run_id, task_length)
);

CREATE TABLE IF NOT EXISTS error_log (
    log_rowid INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    instance_id INTEGER NOT NULL,
    turn_number INTEGER NOT NULL,
    task_length INTEGER NOT NULL,
    expected_state TEXT NOT NULL,
    raw_response TEXT NOT NULL,
    failure_type TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_errors_run_id ON error_log(run_id);
CREATE INDEX IF NOT EXISTS idx_errors_instance ON error_log(run_id, instance_id);
`
