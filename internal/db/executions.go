package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cyclewatch/cyclewatch/internal/model"
)

const executionColumns = `
	e.id, e.project_code, e.branch, e.name, e.release, e.version,
	e.build_date_time, e.test_date_time, e.job_url, e.job_link,
	e.status, e.result, e.acceptance, e.duration, e.estimated_duration,
	e.blocking_validation, e.quality_thresholds, e.quality_severities, e.quality_status`

// FindExecutionByJob returns the execution identified by job URL or job
// link within a project, with its full child hierarchy, or nil when the
// build was never indexed.
func (s Store) FindExecutionByJob(ctx context.Context, projectCode, jobURL, jobLink string) (*model.Execution, error) {
	var clauses []string
	args := []any{projectCode}
	if jobURL != "" {
		clauses = append(clauses, "e.job_url = ?")
		args = append(args, jobURL)
	}
	if jobLink != "" {
		clauses = append(clauses, "e.job_link = ?")
		args = append(args, jobLink)
	}
	if len(clauses) == 0 {
		return nil, fmt.Errorf("execution lookup needs a job URL or a job link")
	}

	query := `SELECT ` + executionColumns + ` FROM executions e
		WHERE e.project_code = ? AND (` + strings.Join(clauses, " OR ") + `)`
	execution, err := scanExecution(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, execution); err != nil {
		return nil, err
	}
	return execution, nil
}

// GetExecution returns one execution by ID with its full child hierarchy.
func (s Store) GetExecution(ctx context.Context, id int64) (*model.Execution, error) {
	execution, err := scanExecution(s.q.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions e WHERE e.id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, execution); err != nil {
		return nil, err
	}
	return execution, nil
}

// ListExecutions returns recent executions (without children), newest test
// date first, optionally filtered by project and cycle.
func (s Store) ListExecutions(ctx context.Context, projectCode, branch, name string, limit, offset int) ([]model.Execution, error) {
	var where []string
	var args []any
	if projectCode != "" {
		where = append(where, "e.project_code = ?")
		args = append(args, projectCode)
	}
	if branch != "" {
		where = append(where, "e.branch = ?")
		args = append(args, branch)
	}
	if name != "" {
		where = append(where, "e.name = ?")
		args = append(args, name)
	}

	query := `SELECT ` + executionColumns + ` FROM executions e`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY e.test_date_time DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []model.Execution
	for rows.Next() {
		execution, err := scanExecutionRows(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, *execution)
	}
	return executions, rows.Err()
}

// InsertExecution persists a new execution row and assigns its ID.
func (s Store) InsertExecution(ctx context.Context, e *model.Execution) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO executions (project_code, branch, name, release, version,
			build_date_time, test_date_time, job_url, job_link,
			status, result, acceptance, duration, estimated_duration,
			blocking_validation, quality_thresholds, quality_severities, quality_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ProjectCode, e.Branch, e.Name, e.Release, e.Version,
		formatOptionalTime(e.BuildDateTime), formatTime(e.TestDateTime), e.JobURL, e.JobLink,
		string(e.Status), string(e.Result), string(e.Acceptance), e.Duration, e.EstimatedDuration,
		nullableBool(e.BlockingValidation), e.QualityThresholds, e.QualitySeverities, string(e.QualityStatus))
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// UpdateExecution writes back the mutable fields of an execution row.
func (s Store) UpdateExecution(ctx context.Context, e *model.Execution) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE executions SET
			release = ?, version = ?, build_date_time = ?,
			job_url = ?, job_link = ?, status = ?, result = ?,
			duration = ?, estimated_duration = ?, blocking_validation = ?,
			quality_thresholds = ?, quality_severities = ?, quality_status = ?
		WHERE id = ?`,
		e.Release, e.Version, formatOptionalTime(e.BuildDateTime),
		e.JobURL, e.JobLink, string(e.Status), string(e.Result),
		e.Duration, e.EstimatedDuration, nullableBool(e.BlockingValidation),
		e.QualityThresholds, e.QualitySeverities, string(e.QualityStatus),
		e.ID)
	if err != nil {
		return fmt.Errorf("update execution %d: %w", e.ID, err)
	}
	return nil
}

// DoneJobURLs returns the subset of the given job URLs already stored with
// status DONE.
func (s Store) DoneJobURLs(ctx context.Context, jobURLs []string) ([]string, error) {
	return s.doneJobIdentities(ctx, "job_url", jobURLs)
}

// DoneJobLinks returns the subset of the given job links already stored
// with status DONE.
func (s Store) DoneJobLinks(ctx context.Context, jobLinks []string) ([]string, error) {
	return s.doneJobIdentities(ctx, "job_link", jobLinks)
}

func (s Store) doneJobIdentities(ctx context.Context, column string, values []string) ([]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	args := make([]any, 0, len(values)+1)
	args = append(args, string(model.StatusDone))
	for _, v := range values {
		args = append(args, v)
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT `+column+` FROM executions WHERE status = ? AND `+column+` IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		found = append(found, v)
	}
	return found, rows.Err()
}

// RegisterCompletionRequest records that the CI job at jobURL asked for a
// definitive indexing once it completes.
func (s Store) RegisterCompletionRequest(ctx context.Context, jobURL string) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO execution_completion_requests (job_url) VALUES (?)`, jobURL)
	return err
}

// ConsumeCompletionRequest deletes the completion request for jobURL and
// reports whether one existed.
func (s Store) ConsumeCompletionRequest(ctx context.Context, jobURL string) (bool, error) {
	if jobURL == "" {
		return false, nil
	}
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM execution_completion_requests WHERE job_url = ?`, jobURL)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s Store) loadChildren(ctx context.Context, e *model.Execution) error {
	deployments, err := s.ListCountryDeployments(ctx, e.ID)
	if err != nil {
		return err
	}
	e.CountryDeployments = deployments

	runs, err := s.ListRuns(ctx, e.ID)
	if err != nil {
		return err
	}
	e.Runs = runs
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row *sql.Row) (*model.Execution, error) {
	return scanExecutionRows(row)
}

func scanExecutionRows(row rowScanner) (*model.Execution, error) {
	var e model.Execution
	var buildTime, testTime, status, result, acceptance, qualityStatus string
	var blocking sql.NullInt64
	if err := row.Scan(&e.ID, &e.ProjectCode, &e.Branch, &e.Name, &e.Release, &e.Version,
		&buildTime, &testTime, &e.JobURL, &e.JobLink,
		&status, &result, &acceptance, &e.Duration, &e.EstimatedDuration,
		&blocking, &e.QualityThresholds, &e.QualitySeverities, &qualityStatus); err != nil {
		return nil, err
	}
	e.BuildDateTime = parseOptionalTime(buildTime)
	e.TestDateTime = parseTime(testTime)
	e.Status = model.JobStatus(status)
	e.Result = model.BuildResult(result)
	e.Acceptance = model.Acceptance(acceptance)
	e.QualityStatus = model.QualityStatus(qualityStatus)
	if blocking.Valid {
		b := blocking.Int64 != 0
		e.BlockingValidation = &b
	}
	return &e, nil
}

func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	return boolToInt64(*b)
}
