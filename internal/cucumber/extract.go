package cucumber

import (
	"fmt"
	"strings"
	"time"

	"github.com/cyclewatch/cyclewatch/internal/model"
)

const severityTagPrefix = "@severity-"

// ExtractScenarios converts the parsed features of one run's report into
// executed scenarios. Failed hooks and steps become Errors on their
// scenario. Step definitions are informative only: when absent they are
// faked from the step names.
func ExtractScenarios(features []Feature, stepDefinitions []string) []*model.ExecutedScenario {
	var scenarios []*model.ExecutedScenario
	for fi := range features {
		feature := &features[fi]
		for ei := range feature.Elements {
			element := &feature.Elements[ei]
			if !element.IsScenario() {
				continue
			}
			scenarios = append(scenarios, extractScenario(feature, element, stepDefinitions))
		}
	}
	return scenarios
}

func extractScenario(feature *Feature, element *Element, stepDefinitions []string) *model.ExecutedScenario {
	scenario := &model.ExecutedScenario{
		FeatureFile: feature.URI,
		FeatureName: feature.Name,
		ScenarioKey: fmt.Sprintf("%s:%d", feature.URI, element.Line),
		Name:        element.Name,
		Severity:    severityOf(element.Tags),
		Line:        element.Line,
	}
	if t, err := time.Parse(time.RFC3339, element.StartTime); err == nil {
		scenario.StartDateTime = &t
	}

	for hi := range element.Before {
		hook := &element.Before[hi]
		if hook.Result.Status != statusPassed {
			scenario.Errors = append(scenario.Errors, hookError("Before-hook", hook))
		}
	}
	for si := range element.Steps {
		step := &element.Steps[si]
		if step.Result.Status == statusPassed {
			continue
		}
		scenario.Errors = append(scenario.Errors, &model.Error{
			Step:           strings.TrimSpace(step.Keyword) + " " + step.Name,
			StepDefinition: stepDefinitionOf(step, stepDefinitions),
			StepLine:       step.Line,
			Exception:      exceptionOf(step.Result),
		})
	}
	for hi := range element.After {
		hook := &element.After[hi]
		if hook.Result.Status != statusPassed {
			scenario.Errors = append(scenario.Errors, hookError("After-hook", hook))
		}
	}
	return scenario
}

func hookError(kind string, hook *Hook) *model.Error {
	return &model.Error{
		Step:           kind,
		StepDefinition: hook.Match.Location,
		Exception:      exceptionOf(hook.Result),
	}
}

// severityOf returns the code of the first "@severity-*" tag, or empty when
// the scenario carries none (meaning: use the catalog's default severity).
func severityOf(tags []Tag) string {
	for _, tag := range tags {
		if code, ok := strings.CutPrefix(tag.Name, severityTagPrefix); ok {
			return code
		}
	}
	return ""
}

func stepDefinitionOf(step *Step, stepDefinitions []string) string {
	if step.Match.Location != "" {
		return step.Match.Location
	}
	for _, def := range stepDefinitions {
		if strings.Contains(def, step.Name) {
			return def
		}
	}
	// Fake a definition so errors always carry something actionable.
	return "^" + step.Name + "$"
}

func exceptionOf(result Result) string {
	if result.ErrorMessage != "" {
		return result.ErrorMessage
	}
	return "Status is " + result.Status
}
