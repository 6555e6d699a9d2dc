// Package postman parses Newman JSON reports (one file per collection run,
// possibly split over several paged files) and extracts executed scenarios.
package postman

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cyclewatch/cyclewatch/internal/model"
)

// CompletionMarker is the artifact written by the CI job once every
// collection ran. Without it a report list is partial: Newman crashed
// mid-way, and partial results must not feed quality percentages.
const CompletionMarker = "result.txt"

// Report is one parsed Newman report file.
type Report struct {
	Collection Collection `json:"collection"`
	Run        Run        `json:"run"`
}

type Collection struct {
	Info Info `json:"info"`
}

type Info struct {
	Name string `json:"name"`
}

type Run struct {
	Executions []Execution `json:"executions"`
}

// Execution is one executed request of a collection.
type Execution struct {
	Item       Item        `json:"item"`
	Assertions []Assertion `json:"assertions"`
}

type Item struct {
	Name string `json:"name"`
	// Folder path of the request within the collection.
	Path []string `json:"path"`
}

// Assertion is one test assertion of a request.
type Assertion struct {
	Name  string          `json:"assertion"`
	Error *AssertionError `json:"error"`
}

type AssertionError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Parse parses the content of one Newman report file.
func Parse(data []byte) (*Report, error) {
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse newman report: %w", err)
	}
	return &report, nil
}

// AllCollectionsRan reports whether the artifact paths contain the
// completion marker.
func AllCollectionsRan(reportPaths []string) bool {
	for _, p := range reportPaths {
		if strings.HasSuffix(p, CompletionMarker) {
			return true
		}
	}
	return false
}

// ExtractScenarios converts the requests of one report file into executed
// scenarios. Newman reports carry no line numbers, so position numbers the
// requests uniquely across all report files of the run: the caller owns the
// counter and passes it through every file.
func ExtractScenarios(report *Report, reportPath string, position *int) []*model.ExecutedScenario {
	var scenarios []*model.ExecutedScenario
	for i := range report.Run.Executions {
		execution := &report.Run.Executions[i]
		*position++

		scenario := &model.ExecutedScenario{
			FeatureFile: reportPath,
			FeatureName: report.Collection.Info.Name,
			ScenarioKey: fmt.Sprintf("%s#%d", reportPath, *position),
			Name:        requestName(report, execution),
			Line:        *position,
		}
		for ai := range execution.Assertions {
			assertion := &execution.Assertions[ai]
			if assertion.Error == nil {
				continue
			}
			scenario.Errors = append(scenario.Errors, &model.Error{
				Step:      assertion.Name,
				StepLine:  *position,
				Exception: assertion.Error.Name + ": " + assertion.Error.Message,
			})
		}
		scenarios = append(scenarios, scenario)
	}
	return scenarios
}

func requestName(report *Report, execution *Execution) string {
	parts := make([]string, 0, len(execution.Item.Path)+2)
	parts = append(parts, report.Collection.Info.Name)
	parts = append(parts, execution.Item.Path...)
	parts = append(parts, execution.Item.Name)
	return strings.Join(parts, " ▶ ")
}
