// Package quality computes the per-severity pass percentages and the global
// quality verdict of an execution from its indexed scenarios.
package quality

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cyclewatch/cyclewatch/internal/config"
	"github.com/cyclewatch/cyclewatch/internal/model"
)

// Compute recomputes the execution's quality from scratch: the per-severity
// scenario counts, percentages and statuses, and the global verdict. It
// mutates execution.QualitySeverities and execution.QualityStatus.
//
// The thresholds are the ones frozen on the execution when it was first
// indexed, never the live project configuration.
func Compute(logger *slog.Logger, project *config.Project, execution *model.Execution) error {
	thresholds, thresholdsBroken := parseThresholds(logger, execution)

	activeSeverities, err := activeSeverities(project, execution.Runs)
	if err != nil {
		return err
	}

	defaultSeverity := project.DefaultSeverity()
	globalStatus := model.QualityPassed
	if thresholdsBroken {
		globalStatus = model.QualityIncomplete
	}
	qualitySeverities := make([]model.QualitySeverity, 0, len(activeSeverities)+1)

	for _, severity := range activeSeverities {
		counts := countScenarios(execution.Runs, severity, defaultSeverity)
		percent := percentage(counts)
		status := severityStatus(logger, thresholds, severity, percent)
		if status.WorseThan(globalStatus) {
			globalStatus = status
		}

		qualitySeverities = append(qualitySeverities, model.QualitySeverity{
			Severity:       severity,
			ScenarioCounts: counts,
			Percent:        percent,
			Status:         status,
		})
	}

	if !isComplete(execution.Runs) {
		globalStatus = model.QualityIncomplete
	}

	// The all-severities line reports the final verdict, it never
	// influences it.
	allCounts := countScenarios(execution.Runs, model.SeverityAll, defaultSeverity)
	qualitySeverities = append(qualitySeverities, model.QualitySeverity{
		Severity:       model.SeverityAll,
		ScenarioCounts: allCounts,
		Percent:        percentage(allCounts),
		Status:         globalStatus,
	})

	serialized, err := json.Marshal(qualitySeverities)
	if err != nil {
		return fmt.Errorf("serialize quality severities: %w", err)
	}
	execution.QualitySeverities = string(serialized)
	execution.QualityStatus = globalStatus
	return nil
}

// parseThresholds decodes the thresholds frozen on the execution. A missing
// or corrupted map does not abort indexing: every severity then reports
// INCOMPLETE, and a corrupted map additionally forces the global verdict to
// INCOMPLETE even when no severity is active.
func parseThresholds(logger *slog.Logger, execution *model.Execution) (map[string]model.Threshold, bool) {
	if execution.QualityThresholds == "" {
		return nil, false
	}
	var thresholds map[string]model.Threshold
	if err := json.Unmarshal([]byte(execution.QualityThresholds), &thresholds); err != nil {
		logger.Warn("cannot parse quality thresholds of execution",
			"executionId", execution.ID, "error", err)
		return nil, true
	}
	return thresholds, false
}

func severityStatus(logger *slog.Logger, thresholds map[string]model.Threshold, severity model.Severity, percent int) model.QualityStatus {
	threshold, ok := thresholds[severity.Code]
	if !ok {
		logger.Warn("no quality threshold for severity", "severity", severity.Code)
		return model.QualityIncomplete
	}
	return threshold.Status(percent)
}

// activeSeverities returns the severities the blocking runs declared
// themselves responsible for, ordered by catalog position. When no run
// declares any, the whole catalog is active.
func activeSeverities(project *config.Project, runs []*model.Run) ([]model.Severity, error) {
	active := make(map[string]model.Severity)
	for _, run := range runs {
		if !run.IncludeInThresholds {
			continue
		}
		tags := strings.TrimSpace(run.SeverityTags)
		if tags == "" || tags == "all" {
			for _, severity := range project.Severities {
				active[severity.Code] = severity
			}
			continue
		}
		for _, code := range strings.Split(tags, ",") {
			code = strings.TrimSpace(code)
			if code == "" {
				continue
			}
			severity, err := project.SeverityByCode(code)
			if err != nil {
				return nil, fmt.Errorf("severity tags of run %d: %w", run.ID, err)
			}
			active[severity.Code] = severity
		}
	}

	if len(active) == 0 {
		active = make(map[string]model.Severity, len(project.Severities))
		for _, severity := range project.Severities {
			active[severity.Code] = severity
		}
	}

	severities := make([]model.Severity, 0, len(active))
	for _, severity := range active {
		severities = append(severities, severity)
	}
	sort.Slice(severities, func(i, j int) bool {
		return severities[i].Position < severities[j].Position
	})
	return severities, nil
}

// countScenarios tallies the pass/fail counters of one severity bucket over
// the blocking runs.
func countScenarios(runs []*model.Run, severity, defaultSeverity model.Severity) model.ScenarioCount {
	var counts model.ScenarioCount
	for _, run := range runs {
		if !run.IncludeInThresholds {
			continue
		}
		for _, scenario := range run.ExecutedScenarios {
			if !matches(scenario, severity, defaultSeverity) {
				continue
			}
			counts.Total++
			if scenario.Passed() {
				counts.Passed++
			} else {
				counts.Failed++
			}
		}
	}
	return counts
}

func matches(scenario *model.ExecutedScenario, severity, defaultSeverity model.Severity) bool {
	if severity.Code == model.SeverityAll.Code {
		return true
	}
	code := scenario.Severity
	if code == "" {
		code = defaultSeverity.Code
	}
	return code == severity.Code
}

// percentage is the truncated percentage of passed scenarios. An empty
// bucket passes: there was nothing to fail.
func percentage(counts model.ScenarioCount) int {
	if counts.Total <= 0 {
		return 100
	}
	return 100 * counts.Passed / counts.Total
}

// isComplete reports whether every blocking run finished and produced at
// least one scenario. An incomplete execution never gets a trustworthy
// verdict, whatever its percentages say.
func isComplete(runs []*model.Run) bool {
	for _, run := range runs {
		if !run.IncludeInThresholds {
			continue
		}
		if run.Status != model.StatusDone || len(run.ExecutedScenarios) == 0 {
			return false
		}
	}
	return true
}
