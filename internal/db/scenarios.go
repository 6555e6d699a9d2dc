package db

import (
	"context"
	"fmt"

	"github.com/cyclewatch/cyclewatch/internal/model"
)

// ListExecutedScenarios returns the scenarios of a run with their errors.
func (s Store) ListExecutedScenarios(ctx context.Context, runID int64) ([]*model.ExecutedScenario, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, run_id, feature_file, feature_name, scenario_key, name,
		       severity, line, start_date_time,
		       screenshot_url, video_url, logs_url, http_requests_url, diff_report_url
		FROM executed_scenarios
		WHERE run_id = ?
		ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scenarios []*model.ExecutedScenario
	for rows.Next() {
		var sc model.ExecutedScenario
		var startTime string
		if err := rows.Scan(&sc.ID, &sc.RunID, &sc.FeatureFile, &sc.FeatureName,
			&sc.ScenarioKey, &sc.Name, &sc.Severity, &sc.Line, &startTime,
			&sc.ScreenshotURL, &sc.VideoURL, &sc.LogsURL, &sc.HTTPRequestsURL,
			&sc.DiffReportURL); err != nil {
			return nil, err
		}
		sc.StartDateTime = parseOptionalTime(startTime)
		scenarios = append(scenarios, &sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, sc := range scenarios {
		errs, err := s.listErrors(ctx, sc.ID)
		if err != nil {
			return nil, err
		}
		sc.Errors = errs
	}
	return scenarios, nil
}

// InsertExecutedScenario persists a scenario and its errors.
func (s Store) InsertExecutedScenario(ctx context.Context, sc *model.ExecutedScenario) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO executed_scenarios (run_id, feature_file, feature_name,
			scenario_key, name, severity, line, start_date_time,
			screenshot_url, video_url, logs_url, http_requests_url, diff_report_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.RunID, sc.FeatureFile, sc.FeatureName,
		sc.ScenarioKey, sc.Name, sc.Severity, sc.Line, formatOptionalTime(sc.StartDateTime),
		sc.ScreenshotURL, sc.VideoURL, sc.LogsURL, sc.HTTPRequestsURL, sc.DiffReportURL)
	if err != nil {
		return fmt.Errorf("insert executed scenario %q: %w", sc.ScenarioKey, err)
	}
	sc.ID, _ = res.LastInsertId()

	for _, e := range sc.Errors {
		e.ExecutedScenarioID = sc.ID
		res, err := s.q.ExecContext(ctx, `
			INSERT INTO errors (executed_scenario_id, step, step_definition, step_line, exception)
			VALUES (?, ?, ?, ?, ?)`,
			e.ExecutedScenarioID, e.Step, e.StepDefinition, e.StepLine, e.Exception)
		if err != nil {
			return fmt.Errorf("insert error for scenario %q: %w", sc.ScenarioKey, err)
		}
		e.ID, _ = res.LastInsertId()
	}
	return nil
}

func (s Store) listErrors(ctx context.Context, scenarioID int64) ([]*model.Error, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, executed_scenario_id, step, step_definition, step_line, exception
		FROM errors
		WHERE executed_scenario_id = ?
		ORDER BY id`, scenarioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var errs []*model.Error
	for rows.Next() {
		var e model.Error
		if err := rows.Scan(&e.ID, &e.ExecutedScenarioID, &e.Step,
			&e.StepDefinition, &e.StepLine, &e.Exception); err != nil {
			return nil, err
		}
		errs = append(errs, &e)
	}
	return errs, rows.Err()
}
