// Package cucumber parses Cucumber JSON reports (report.json) and extracts
// executed scenarios from them.
package cucumber

import (
	"encoding/json"
	"fmt"
)

// Feature is one feature of a Cucumber report.
type Feature struct {
	URI      string    `json:"uri"`
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Keyword  string    `json:"keyword"`
	Line     int       `json:"line"`
	Tags     []Tag     `json:"tags"`
	Elements []Element `json:"elements"`
}

// Element is a scenario, scenario outline or background within a feature.
type Element struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Keyword     string `json:"keyword"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Line        int    `json:"line"`
	StartTime   string `json:"start_timestamp"`
	Tags        []Tag  `json:"tags"`
	Steps       []Step `json:"steps"`
	Before      []Hook `json:"before"`
	After       []Hook `json:"after"`
}

// Step is one Gherkin step with its execution result.
type Step struct {
	Keyword string `json:"keyword"`
	Name    string `json:"name"`
	Line    int    `json:"line"`
	Result  Result `json:"result"`
	Match   Match  `json:"match"`
}

// Hook is a @Before or @After hook execution.
type Hook struct {
	Result Result `json:"result"`
	Match  Match  `json:"match"`
}

// Result is the outcome of one step or hook.
type Result struct {
	Status       string `json:"status"`
	Duration     int64  `json:"duration"`
	ErrorMessage string `json:"error_message"`
}

// Match locates the glue code that implements a step or hook.
type Match struct {
	Location string `json:"location"`
}

// Tag is a Gherkin tag; Name retains its "@" prefix.
type Tag struct {
	Name string `json:"name"`
}

const statusPassed = "passed"

// IsScenario reports whether the element is a scenario or scenario outline
// (as opposed to a background).
func (e *Element) IsScenario() bool {
	return e.Keyword == "Scenario" || e.Keyword == "Scenario Outline"
}

// Passed reports whether every hook and step of the element passed. With
// Cucumber JSON reports a failing @Before hook still leaves the scenario
// status untouched, so each hook and step must be checked individually.
func (e *Element) Passed() bool {
	for _, h := range e.Before {
		if h.Result.Status != statusPassed {
			return false
		}
	}
	for _, s := range e.Steps {
		if s.Result.Status != statusPassed {
			return false
		}
	}
	for _, h := range e.After {
		if h.Result.Status != statusPassed {
			return false
		}
	}
	return true
}

// Parse parses the content of a Cucumber report.json (a JSON array of
// features).
func Parse(data []byte) ([]Feature, error) {
	var features []Feature
	if err := json.Unmarshal(data, &features); err != nil {
		return nil, fmt.Errorf("parse cucumber report: %w", err)
	}
	return features, nil
}
