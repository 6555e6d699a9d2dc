package db

import (
	"context"
	"fmt"

	"github.com/cyclewatch/cyclewatch/internal/model"
)

// ListRuns returns the runs of an execution with their executed scenarios,
// ordered by country then type.
func (s Store) ListRuns(ctx context.Context, executionID int64) ([]*model.Run, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, execution_id, country_code, type_code, platform, comment,
		       job_url, job_link, status, start_date_time, duration, estimated_duration,
		       country_tags, severity_tags, include_in_thresholds
		FROM runs
		WHERE execution_id = ?
		ORDER BY country_code, type_code`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		var r model.Run
		var status, startTime string
		var include int64
		if err := rows.Scan(&r.ID, &r.ExecutionID, &r.CountryCode, &r.TypeCode,
			&r.Platform, &r.Comment, &r.JobURL, &r.JobLink, &status, &startTime,
			&r.Duration, &r.EstimatedDuration,
			&r.CountryTags, &r.SeverityTags, &include); err != nil {
			return nil, err
		}
		r.Status = model.JobStatus(status)
		r.StartDateTime = parseOptionalTime(startTime)
		r.IncludeInThresholds = include != 0
		runs = append(runs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, r := range runs {
		scenarios, err := s.ListExecutedScenarios(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		r.ExecutedScenarios = scenarios
	}
	return runs, nil
}

// InsertRun persists a new run row and assigns its ID.
func (s Store) InsertRun(ctx context.Context, r *model.Run) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO runs (execution_id, country_code, type_code, platform, comment,
			job_url, job_link, status, start_date_time, duration, estimated_duration,
			country_tags, severity_tags, include_in_thresholds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ExecutionID, r.CountryCode, r.TypeCode, r.Platform, r.Comment,
		r.JobURL, r.JobLink, string(r.Status), formatOptionalTime(r.StartDateTime),
		r.Duration, r.EstimatedDuration,
		r.CountryTags, r.SeverityTags, boolToInt64(r.IncludeInThresholds))
	if err != nil {
		return fmt.Errorf("insert run %s/%s: %w", r.CountryCode, r.TypeCode, err)
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

// UpdateRun writes back the mutable fields of a run.
func (s Store) UpdateRun(ctx context.Context, r *model.Run) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE runs SET
			comment = ?, job_url = ?, job_link = ?, status = ?,
			start_date_time = ?, duration = ?, estimated_duration = ?
		WHERE id = ?`,
		r.Comment, r.JobURL, r.JobLink, string(r.Status),
		formatOptionalTime(r.StartDateTime), r.Duration, r.EstimatedDuration,
		r.ID)
	if err != nil {
		return fmt.Errorf("update run %d: %w", r.ID, err)
	}
	return nil
}
