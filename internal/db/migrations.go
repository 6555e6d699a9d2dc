package db

import "fmt"

const schema = `
CREATE TABLE IF NOT EXISTS executions (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    project_code        TEXT NOT NULL,
    branch              TEXT NOT NULL,
    name                TEXT NOT NULL,
    release             TEXT NOT NULL DEFAULT '',
    version             TEXT NOT NULL DEFAULT '',
    build_date_time     TEXT NOT NULL DEFAULT '',
    test_date_time      TEXT NOT NULL,
    job_url             TEXT NOT NULL DEFAULT '',
    job_link            TEXT NOT NULL DEFAULT '',
    status              TEXT NOT NULL DEFAULT 'PENDING',
    result              TEXT NOT NULL DEFAULT '',
    acceptance          TEXT NOT NULL DEFAULT 'NEW',
    duration            INTEGER NOT NULL DEFAULT 0,
    estimated_duration  INTEGER NOT NULL DEFAULT 0,
    blocking_validation INTEGER,
    quality_thresholds  TEXT NOT NULL DEFAULT '',
    quality_severities  TEXT NOT NULL DEFAULT '',
    quality_status      TEXT NOT NULL DEFAULT 'INCOMPLETE'
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_job_url
    ON executions(project_code, job_url) WHERE job_url <> '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_job_link
    ON executions(project_code, job_link) WHERE job_link <> '';
CREATE INDEX IF NOT EXISTS idx_executions_cycle
    ON executions(project_code, branch, name, test_date_time DESC);

CREATE TABLE IF NOT EXISTS country_deployments (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    execution_id       INTEGER NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
    country_code       TEXT NOT NULL,
    platform           TEXT NOT NULL DEFAULT '',
    job_url            TEXT NOT NULL DEFAULT '',
    job_link           TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL DEFAULT 'PENDING',
    result             TEXT NOT NULL DEFAULT '',
    start_date_time    TEXT NOT NULL DEFAULT '',
    duration           INTEGER NOT NULL DEFAULT 0,
    estimated_duration INTEGER NOT NULL DEFAULT 0,
    UNIQUE (execution_id, country_code)
);

CREATE TABLE IF NOT EXISTS runs (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    execution_id          INTEGER NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
    country_code          TEXT NOT NULL,
    type_code             TEXT NOT NULL,
    platform              TEXT NOT NULL DEFAULT '',
    comment               TEXT NOT NULL DEFAULT '',
    job_url               TEXT NOT NULL DEFAULT '',
    job_link              TEXT NOT NULL DEFAULT '',
    status                TEXT NOT NULL DEFAULT 'PENDING',
    start_date_time       TEXT NOT NULL DEFAULT '',
    duration              INTEGER NOT NULL DEFAULT 0,
    estimated_duration    INTEGER NOT NULL DEFAULT 0,
    country_tags          TEXT NOT NULL DEFAULT '',
    severity_tags         TEXT NOT NULL DEFAULT '',
    include_in_thresholds INTEGER NOT NULL DEFAULT 0,
    UNIQUE (execution_id, country_code, type_code)
);

CREATE TABLE IF NOT EXISTS executed_scenarios (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id            INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    feature_file      TEXT NOT NULL DEFAULT '',
    feature_name      TEXT NOT NULL DEFAULT '',
    scenario_key      TEXT NOT NULL,
    name              TEXT NOT NULL,
    severity          TEXT NOT NULL DEFAULT '',
    line              INTEGER NOT NULL DEFAULT 0,
    start_date_time   TEXT NOT NULL DEFAULT '',
    screenshot_url    TEXT NOT NULL DEFAULT '',
    video_url         TEXT NOT NULL DEFAULT '',
    logs_url          TEXT NOT NULL DEFAULT '',
    http_requests_url TEXT NOT NULL DEFAULT '',
    diff_report_url   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_executed_scenarios_run ON executed_scenarios(run_id);

CREATE TABLE IF NOT EXISTS errors (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    executed_scenario_id INTEGER NOT NULL REFERENCES executed_scenarios(id) ON DELETE CASCADE,
    step                 TEXT NOT NULL,
    step_definition      TEXT NOT NULL DEFAULT '',
    step_line            INTEGER NOT NULL DEFAULT 0,
    exception            TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_errors_scenario ON errors(executed_scenario_id);

CREATE TABLE IF NOT EXISTS execution_completion_requests (
    job_url    TEXT PRIMARY KEY,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);
`

func (d *DB) migrate() error {
	if _, err := d.sqlDB.Exec(schema); err != nil {
		return fmt.Errorf("exec schema: %w", err)
	}
	return nil
}
