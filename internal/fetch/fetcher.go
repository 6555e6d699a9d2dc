// Package fetch abstracts the continuous-integration build source: listing
// recent builds of a cycle, walking a build's child tree and downloading the
// report artifacts produced by runs.
package fetch

import (
	"context"
	"errors"

	"github.com/cyclewatch/cyclewatch/internal/cucumber"
	"github.com/cyclewatch/cyclewatch/internal/model"
	"github.com/cyclewatch/cyclewatch/internal/postman"
)

// ErrNotFound marks an artifact that does not exist yet: jobs produce their
// files progressively, so a missing file is expected and silently retried on
// the next crawl. Any other error is a hard fetch failure.
var ErrNotFound = errors.New("not found")

// Build is the current snapshot of one CI build node.
type Build struct {
	// URL of the CI job, shown to users to access its logs.
	URL string `json:"url,omitempty"`
	// Link is an alternate identity used only for indexing (eg. the
	// filesystem directory the build was read from).
	Link        string `json:"link,omitempty"`
	DisplayName string `json:"displayName,omitempty"`

	// Result is empty while the build is still running.
	Result   model.BuildResult `json:"result,omitempty"`
	Building bool              `json:"building,omitempty"`

	// Milliseconds: elapsed duration, start timestamp since the UNIX
	// epoch, and the CI server's duration estimate.
	Duration          int64 `json:"duration,omitempty"`
	Timestamp         int64 `json:"timestamp,omitempty"`
	EstimatedDuration int64 `json:"estimatedDuration,omitempty"`

	// Release/Version describe the product version under test; only set
	// on execution builds.
	Release          string `json:"release,omitempty"`
	Version          string `json:"version,omitempty"`
	VersionTimestamp int64  `json:"versionTimestamp,omitempty"`

	// Comment is displayed above the matching run in consumers.
	Comment string `json:"comment,omitempty"`
}

// PlatformRule declares what one country was supposed to deploy and test in
// a cycle.
type PlatformRule struct {
	Enabled bool   `json:"enabled"`
	Country string `json:"country"`
	// TestTypes is a comma-separated list of type codes to run.
	TestTypes   string `json:"testTypes"`
	CountryTags string `json:"countryTags,omitempty"`
	// SeverityTags lists the severities the runs are responsible for;
	// empty or "all" means every severity.
	SeverityTags string `json:"severityTags,omitempty"`
	// BlockingValidation marks the created runs as counting toward the
	// execution's quality verdict.
	BlockingValidation bool `json:"blockingValidation"`
}

// CycleConfiguration is the frozen definition of a cycle, read from an
// artifact produced when the build started. It is captured once per
// execution and never re-read from live configuration.
type CycleConfiguration struct {
	BlockingValidation bool                       `json:"blockingValidation"`
	PlatformRules      map[string][]PlatformRule  `json:"platformRules"`
	QualityThresholds  map[string]model.Threshold `json:"qualityThresholds"`
}

// DeployedCountry is one country-deployment node of a build tree.
type DeployedCountry struct {
	Country string `json:"country"`
	Build   Build  `json:"build"`
}

// TestRun is one run node of a build tree.
type TestRun struct {
	Country string `json:"country"`
	Type    string `json:"type"`
	Build   Build  `json:"build"`
}

// Tree is the hierarchy of child builds spawned by one execution build, as
// far as the CI server has created them yet.
type Tree struct {
	DeployedCountries []DeployedCountry `json:"deployedCountries"`
	TestRuns          []TestRun         `json:"testRuns"`
}

// Fetcher reads one project's builds and artifacts from its CI source.
//
// Every method distinguishes three outcomes: ErrNotFound ("too early",
// silent, retried later), success, and any other error (hard failure,
// logged by the caller and the current item skipped).
type Fetcher interface {
	// ListRecentBuilds returns the recent builds of a cycle, newest
	// first. May be empty.
	ListRecentBuilds(ctx context.Context, branch, cycle string) ([]Build, error)

	// CompleteBuildInformation enriches a build reference in place
	// before its first use (eg. resolving the job URL of a build
	// discovered through its link).
	CompleteBuildInformation(ctx context.Context, build *Build) error

	// CycleConfiguration returns the frozen cycle definition archived by
	// the build when it started.
	CycleConfiguration(ctx context.Context, build Build) (*CycleConfiguration, error)

	// BuildTree returns the current child build hierarchy, which grows
	// as the parent build advances.
	BuildTree(ctx context.Context, build Build) (*Tree, error)

	// CucumberReport downloads and parses the run's report.json.
	CucumberReport(ctx context.Context, run *model.Run) ([]cucumber.Feature, error)

	// CucumberStepDefinitions downloads the run's stepDefinitions.json.
	// Optional: callers fake step definitions when absent.
	CucumberStepDefinitions(ctx context.Context, run *model.Run) ([]string, error)

	// PostmanReportPaths lists the run's Newman artifact paths,
	// including the completion marker file when all collections ran.
	PostmanReportPaths(ctx context.Context, run *model.Run) ([]string, error)

	// PostmanReport downloads and parses one Newman report artifact.
	PostmanReport(ctx context.Context, run *model.Run, reportPath string) (*postman.Report, error)

	// OnIndexingFinished runs after a DONE execution has been fully
	// indexed and committed; used to archive or clean source artifacts.
	// Best effort: failures are logged, never propagated.
	OnIndexingFinished(ctx context.Context, execution *model.Execution) error
}
