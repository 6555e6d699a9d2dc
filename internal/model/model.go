package model

import "time"

// Country is a project catalog entry for a deployable country.
type Country struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

// Type is a project catalog entry for a test type (eg. "api",
// "firefox-desktop"). A type without a Source cannot be indexed: runs of
// such a type are configured on purpose to be ignored.
type Type struct {
	Code   string  `json:"code" yaml:"code"`
	Name   string  `json:"name" yaml:"name"`
	Source *Source `json:"source,omitempty" yaml:"source,omitempty"`
}

// Source describes where a test type's reports come from and how to parse
// them.
type Source struct {
	Code       string     `json:"code" yaml:"code"`
	Technology Technology `json:"technology" yaml:"technology"`
}

// Severity is a project-level ordered catalog entry for scenario priorities.
type Severity struct {
	Code             string `json:"code" yaml:"code"`
	Position         int    `json:"position" yaml:"position"`
	Name             string `json:"name" yaml:"name"`
	ShortName        string `json:"shortName,omitempty" yaml:"shortName,omitempty"`
	DefaultOnMissing bool   `json:"defaultOnMissing" yaml:"defaultOnMissing"`
}

// SeverityAll is the synthetic pseudo-severity matching every scenario
// regardless of its tag. It sorts after every real severity.
var SeverityAll = Severity{
	Code:     "*",
	Position: 1<<31 - 1,
	Name:     "All severities",
}

// CycleDefinition identifies one scheduled test cycle of a project
// (eg. develop/day, develop/night, master/day).
type CycleDefinition struct {
	ProjectCode string `json:"projectCode" yaml:"projectCode"`
	Branch      string `json:"branch" yaml:"branch"`
	Name        string `json:"name" yaml:"name"`
}

// Threshold holds the failure and warning percentage limits of one severity.
type Threshold struct {
	Failure int `json:"failure" yaml:"failure"`
	Warning int `json:"warning" yaml:"warning"`
}

// Status bands a pass percentage against the threshold: below the failure
// limit is FAILED, below the warning limit is WARNING, else PASSED.
func (t Threshold) Status(percent int) QualityStatus {
	if percent < t.Failure {
		return QualityFailed
	}
	if percent < t.Warning {
		return QualityWarning
	}
	return QualityPassed
}

// Execution is the root of one indexed CI test cycle run.
type Execution struct {
	ID          int64  `json:"id"`
	ProjectCode string `json:"projectCode"`
	Branch      string `json:"branch"`
	Name        string `json:"name"`
	Release     string `json:"release,omitempty"`
	Version     string `json:"version,omitempty"`

	BuildDateTime *time.Time `json:"buildDateTime,omitempty"`
	TestDateTime  time.Time  `json:"testDateTime"`

	JobURL  string `json:"jobUrl,omitempty"`
	JobLink string `json:"jobLink,omitempty"`

	Status            JobStatus   `json:"status"`
	Result            BuildResult `json:"result,omitempty"`
	Acceptance        Acceptance  `json:"acceptance"`
	Duration          int64       `json:"duration"`
	EstimatedDuration int64       `json:"estimatedDuration"`

	// BlockingValidation is nil while unknown (cycle configuration never
	// found on a broken build).
	BlockingValidation *bool `json:"blockingValidation,omitempty"`

	// QualityThresholds is the frozen severity-code to threshold map,
	// serialized as JSON on the row.
	QualityThresholds string `json:"qualityThresholds,omitempty"`
	// QualitySeverities is the serialized per-severity quality breakdown,
	// recomputed from scratch on every crawl.
	QualitySeverities string        `json:"qualitySeverities,omitempty"`
	QualityStatus     QualityStatus `json:"qualityStatus"`

	CountryDeployments []*CountryDeployment `json:"countryDeployments,omitempty"`
	Runs               []*Run               `json:"runs,omitempty"`
}

// CountryDeployment is one country's environment-provisioning step within an
// execution.
type CountryDeployment struct {
	ID          int64 `json:"id"`
	ExecutionID int64 `json:"executionId"`

	CountryCode string `json:"countryCode"`
	Platform    string `json:"platform"`

	JobURL  string `json:"jobUrl,omitempty"`
	JobLink string `json:"jobLink,omitempty"`

	Status            JobStatus   `json:"status"`
	Result            BuildResult `json:"result,omitempty"`
	StartDateTime     *time.Time  `json:"startDateTime,omitempty"`
	Duration          int64       `json:"duration"`
	EstimatedDuration int64       `json:"estimatedDuration"`
}

// Run is one test type's execution for one country within an execution.
type Run struct {
	ID          int64 `json:"id"`
	ExecutionID int64 `json:"executionId"`

	CountryCode string `json:"countryCode"`
	TypeCode    string `json:"typeCode"`
	Platform    string `json:"platform"`
	Comment     string `json:"comment,omitempty"`

	JobURL  string `json:"jobUrl,omitempty"`
	JobLink string `json:"jobLink,omitempty"`

	Status            JobStatus  `json:"status"`
	StartDateTime     *time.Time `json:"startDateTime,omitempty"`
	Duration          int64      `json:"duration"`
	EstimatedDuration int64      `json:"estimatedDuration"`

	// CountryTags restricts which tagged scenarios were run ("all" or a
	// comma-separated list of country codes).
	CountryTags string `json:"countryTags,omitempty"`
	// SeverityTags lists the severities this run is responsible for; empty
	// or "all" means every severity of the catalog.
	SeverityTags string `json:"severityTags,omitempty"`
	// IncludeInThresholds marks the run as counting toward the quality
	// verdict of its execution.
	IncludeInThresholds bool `json:"includeInThresholds"`

	ExecutedScenarios []*ExecutedScenario `json:"executedScenarios,omitempty"`
}

// ExecutedScenario is one test scenario's recorded outcome within a run.
// It is indexed exactly once: runs that already own scenarios are never
// re-fetched.
type ExecutedScenario struct {
	ID    int64 `json:"id"`
	RunID int64 `json:"runId"`

	FeatureFile string `json:"featureFile,omitempty"`
	FeatureName string `json:"featureName,omitempty"`
	// ScenarioKey uniquely identifies the scenario within the run
	// (feature file + element id, or collection path + request position).
	ScenarioKey string `json:"scenarioKey"`
	Name        string `json:"name"`
	// Severity is the scenario's own severity code; empty means "use the
	// catalog severity flagged defaultOnMissing".
	Severity string `json:"severity,omitempty"`
	Line     int    `json:"line,omitempty"`

	StartDateTime *time.Time `json:"startDateTime,omitempty"`

	ScreenshotURL   string `json:"screenshotUrl,omitempty"`
	VideoURL        string `json:"videoUrl,omitempty"`
	LogsURL         string `json:"logsUrl,omitempty"`
	HTTPRequestsURL string `json:"httpRequestsUrl,omitempty"`
	DiffReportURL   string `json:"diffReportUrl,omitempty"`

	// Errors being non-empty marks the scenario as failed for quality
	// purposes.
	Errors []*Error `json:"errors,omitempty"`
}

// Passed reports whether the scenario succeeded (no attached errors).
func (s *ExecutedScenario) Passed() bool {
	return len(s.Errors) == 0
}

// Error is one failure detail attached to an executed scenario.
type Error struct {
	ID                 int64  `json:"id"`
	ExecutedScenarioID int64  `json:"executedScenarioId"`
	Step               string `json:"step"`
	StepDefinition     string `json:"stepDefinition,omitempty"`
	StepLine           int    `json:"stepLine,omitempty"`
	Exception          string `json:"exception"`
}

// ScenarioCount aggregates pass/fail counters for one severity bucket.
type ScenarioCount struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// QualitySeverity is the computed quality of one severity within an
// execution, serialized into Execution.QualitySeverities.
type QualitySeverity struct {
	Severity       Severity      `json:"severity"`
	ScenarioCounts ScenarioCount `json:"scenarioCounts"`
	Percent        int           `json:"percent"`
	Status         QualityStatus `json:"status"`
}
