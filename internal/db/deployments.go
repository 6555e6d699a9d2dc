package db

import (
	"context"
	"fmt"

	"github.com/cyclewatch/cyclewatch/internal/model"
)

// ListCountryDeployments returns the deployments of an execution, ordered
// by country code.
func (s Store) ListCountryDeployments(ctx context.Context, executionID int64) ([]*model.CountryDeployment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, execution_id, country_code, platform, job_url, job_link,
		       status, result, start_date_time, duration, estimated_duration
		FROM country_deployments
		WHERE execution_id = ?
		ORDER BY country_code`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deployments []*model.CountryDeployment
	for rows.Next() {
		var d model.CountryDeployment
		var status, result, startTime string
		if err := rows.Scan(&d.ID, &d.ExecutionID, &d.CountryCode, &d.Platform,
			&d.JobURL, &d.JobLink, &status, &result, &startTime,
			&d.Duration, &d.EstimatedDuration); err != nil {
			return nil, err
		}
		d.Status = model.JobStatus(status)
		d.Result = model.BuildResult(result)
		d.StartDateTime = parseOptionalTime(startTime)
		deployments = append(deployments, &d)
	}
	return deployments, rows.Err()
}

// InsertCountryDeployment persists a new deployment row and assigns its ID.
func (s Store) InsertCountryDeployment(ctx context.Context, d *model.CountryDeployment) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO country_deployments (execution_id, country_code, platform,
			job_url, job_link, status, result, start_date_time, duration, estimated_duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ExecutionID, d.CountryCode, d.Platform,
		d.JobURL, d.JobLink, string(d.Status), string(d.Result),
		formatOptionalTime(d.StartDateTime), d.Duration, d.EstimatedDuration)
	if err != nil {
		return fmt.Errorf("insert country deployment %s: %w", d.CountryCode, err)
	}
	d.ID, _ = res.LastInsertId()
	return nil
}

// UpdateCountryDeployment writes back the mutable fields of a deployment.
func (s Store) UpdateCountryDeployment(ctx context.Context, d *model.CountryDeployment) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE country_deployments SET
			job_url = ?, job_link = ?, status = ?, result = ?,
			start_date_time = ?, duration = ?, estimated_duration = ?
		WHERE id = ?`,
		d.JobURL, d.JobLink, string(d.Status), string(d.Result),
		formatOptionalTime(d.StartDateTime), d.Duration, d.EstimatedDuration,
		d.ID)
	if err != nil {
		return fmt.Errorf("update country deployment %d: %w", d.ID, err)
	}
	return nil
}
