// Package crawler reconciles CI execution builds into the stored
// execution/country-deployment/run hierarchy, one transaction per build.
package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cyclewatch/cyclewatch/internal/config"
	"github.com/cyclewatch/cyclewatch/internal/cucumber"
	"github.com/cyclewatch/cyclewatch/internal/db"
	"github.com/cyclewatch/cyclewatch/internal/fetch"
	"github.com/cyclewatch/cyclewatch/internal/model"
	"github.com/cyclewatch/cyclewatch/internal/notify"
	"github.com/cyclewatch/cyclewatch/internal/postman"
	"github.com/cyclewatch/cyclewatch/internal/quality"
)

// StatusOf maps a CI build snapshot to a job status. An unknown build result
// is a contract violation with the CI server and panics; Crawl turns the
// panic into a logged indexing failure for that build only.
func StatusOf(build *fetch.Build) model.JobStatus {
	if build == nil || build.URL == "" {
		return model.StatusPending
	}
	if build.Building || build.Result == "" {
		return model.StatusRunning
	}
	switch build.Result {
	case model.ResultAborted, model.ResultFailure, model.ResultSuccess, model.ResultUnstable:
		return model.StatusDone
	case model.ResultNotBuilt:
		return model.StatusUnavailable
	}
	panic(fmt.Sprintf("build result %q not supported", build.Result))
}

// Crawler indexes one project's execution builds.
type Crawler struct {
	db       *db.DB
	project  *config.Project
	fetcher  fetch.Fetcher
	notifier notify.Notifier
	logger   *slog.Logger
}

func New(database *db.DB, project *config.Project, fetcher fetch.Fetcher, notifier notify.Notifier, logger *slog.Logger) *Crawler {
	return &Crawler{
		db:       database,
		project:  project,
		fetcher:  fetcher,
		notifier: notifier,
		logger:   logger,
	}
}

// Crawl indexes one execution build inside its own transaction, so a failed
// indexing never impacts the other builds of the same discovery pass.
// Indexing is idempotent: repeated calls converge on the CI server's state,
// and a DONE execution is never touched again.
//
// Network errors fall in two classes: a missing artifact (fetch.ErrNotFound)
// means the job did not produce it yet and is silently retried on the next
// pass; anything else is a real failure.
func (c *Crawler) Crawl(ctx context.Context, cycle model.CycleDefinition, build fetch.Build) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("crawl %s/%s build %s: panic: %v",
				cycle.Branch, cycle.Name, buildIdentity(build), r)
		}
	}()

	logger := c.logger.With(
		"project", cycle.ProjectCode,
		"branch", cycle.Branch,
		"cycle", cycle.Name,
		"build", buildIdentity(build))
	logger.Debug("crawling execution build")

	err = c.db.InTx(ctx, func(tx *db.Tx) error {
		return c.crawl(ctx, tx, logger, cycle, build)
	})
	if err != nil {
		return fmt.Errorf("crawl %s/%s build %s: %w", cycle.Branch, cycle.Name, buildIdentity(build), err)
	}
	return nil
}

func buildIdentity(build fetch.Build) string {
	if build.URL != "" {
		return build.URL
	}
	return build.Link
}

func (c *Crawler) crawl(ctx context.Context, tx *db.Tx, logger *slog.Logger, cycle model.CycleDefinition, build fetch.Build) error {
	if err := c.fetcher.CompleteBuildInformation(ctx, &build); err != nil {
		if errors.Is(err, fetch.ErrNotFound) {
			logger.Info("build information not archived yet: not indexing")
			return nil
		}
		return err
	}

	execution, err := tx.FindExecutionByJob(ctx, cycle.ProjectCode, build.URL, build.Link)
	if err != nil {
		return err
	}

	// A job about to complete may have requested a definitive indexing: the
	// flag is consumed within this transaction, so once it is gone the job
	// knows the very latest crawled data committed.
	var completionRequested bool
	if build.URL != "" {
		completionRequested, err = tx.ConsumeCompletionRequest(ctx, build.URL)
		if err != nil {
			return err
		}
	}

	if execution == nil {
		execution = newExecution(cycle, build)
	} else if execution.Status == model.StatusDone {
		logger.Debug("execution already indexed as DONE: nothing to do")
		return nil
	}

	execution.Status = StatusOf(&build)
	execution.Result = build.Result
	execution.Duration = build.Duration
	execution.EstimatedDuration = build.EstimatedDuration

	// First crawl of this execution: freeze the cycle configuration archived
	// by the build and create the children it was supposed to deploy and
	// test.
	if len(execution.Runs) == 0 {
		configuration, err := c.fetcher.CycleConfiguration(ctx, build)
		if errors.Is(err, fetch.ErrNotFound) {
			if execution.Status == model.StatusDone || completionRequested {
				// The job finished without archiving its cycle
				// configuration, the first thing it normally does. Store
				// it as broken so it is not re-crawled forever.
				logger.Info("cycle configuration missing on finished build: indexing it as broken")
				blocking := false
				execution.BlockingValidation = &blocking
				if err := saveExecution(ctx, tx, execution); err != nil {
					return err
				}
				c.registerCleanup(ctx, tx, logger, execution)
				return nil
			}
			logger.Info("cycle configuration not archived yet: not indexing")
			return nil
		}
		if err != nil {
			return err
		}
		if err := c.initializeHierarchy(execution, configuration); err != nil {
			return err
		}
	}

	tree, err := c.fetcher.BuildTree(ctx, build)
	if errors.Is(err, fetch.ErrNotFound) {
		tree = &fetch.Tree{}
	} else if err != nil {
		return err
	}

	updateJobIdentities(execution, tree)
	if err := c.crawlNewAvailableRuns(ctx, logger, execution.Runs); err != nil {
		return err
	}
	updateStatuses(execution, tree)
	finalizeHierarchy(execution)

	if err := quality.Compute(logger, c.project, execution); err != nil {
		return err
	}

	if err := saveExecution(ctx, tx, execution); err != nil {
		return err
	}

	c.registerCleanup(ctx, tx, logger, execution)
	if execution.Status == model.StatusDone && c.notifier != nil {
		tx.AfterCommit(func() {
			if err := c.notifier.ExecutionDone(context.WithoutCancel(ctx), execution); err != nil {
				logger.Error("verdict notification failed", "error", err)
			}
		})
	}
	return nil
}

func newExecution(cycle model.CycleDefinition, build fetch.Build) *model.Execution {
	execution := &model.Execution{
		ProjectCode:   cycle.ProjectCode,
		Branch:        cycle.Branch,
		Name:          cycle.Name,
		Release:       build.Release,
		Version:       build.Version,
		TestDateTime:  time.UnixMilli(build.Timestamp),
		JobURL:        build.URL,
		JobLink:       build.Link,
		Status:        model.StatusPending,
		Acceptance:    model.AcceptanceNew,
		QualityStatus: model.QualityIncomplete,
	}
	if build.VersionTimestamp != 0 {
		buildTime := time.UnixMilli(build.VersionTimestamp)
		execution.BuildDateTime = &buildTime
	}
	return execution
}

// initializeHierarchy creates the country-deployment and run children from
// the cycle configuration frozen when the build started. An unknown country
// or type code fails the whole crawl: the catalog and the CI configuration
// drifted apart.
func (c *Crawler) initializeHierarchy(execution *model.Execution, configuration *fetch.CycleConfiguration) error {
	blocking := configuration.BlockingValidation
	execution.BlockingValidation = &blocking

	thresholds, err := json.Marshal(configuration.QualityThresholds)
	if err != nil {
		return fmt.Errorf("serialize quality thresholds: %w", err)
	}
	execution.QualityThresholds = string(thresholds)

	for platform, rules := range configuration.PlatformRules {
		for _, rule := range rules {
			if !rule.Enabled {
				continue
			}
			country, err := c.project.CountryByCode(strings.ToLower(rule.Country))
			if err != nil {
				return err
			}
			execution.CountryDeployments = append(execution.CountryDeployments, &model.CountryDeployment{
				CountryCode: country.Code,
				Platform:    platform,
				Status:      model.StatusPending,
			})
			runs, err := c.createRuns(country, platform, rule)
			if err != nil {
				return err
			}
			execution.Runs = append(execution.Runs, runs...)
		}
	}
	return nil
}

func (c *Crawler) createRuns(country model.Country, platform string, rule fetch.PlatformRule) ([]*model.Run, error) {
	var runs []*model.Run
	for _, typeCode := range strings.Split(rule.TestTypes, ",") {
		typeCode = strings.TrimSpace(typeCode)
		if typeCode == "" {
			continue
		}
		testType, err := c.project.TypeByCode(typeCode)
		if err != nil {
			return nil, err
		}
		if testType.Source == nil {
			// A type without source is declared untranslatable on purpose.
			continue
		}
		runs = append(runs, &model.Run{
			CountryCode:         country.Code,
			TypeCode:            testType.Code,
			Platform:            platform,
			Status:              model.StatusPending,
			CountryTags:         rule.CountryTags,
			SeverityTags:        rule.SeverityTags,
			IncludeInThresholds: rule.BlockingValidation,
		})
	}
	return runs, nil
}

// crawlNewAvailableRuns indexes the report of every run that has no
// scenarios yet, now has a job URL and is not DONE. Any given run is indexed
// exactly once.
func (c *Crawler) crawlNewAvailableRuns(ctx context.Context, logger *slog.Logger, runs []*model.Run) error {
	for _, run := range runs {
		if len(run.ExecutedScenarios) > 0 || run.Status == model.StatusDone || run.JobURL == "" {
			continue
		}
		testType, err := c.project.TypeByCode(run.TypeCode)
		if err != nil {
			return err
		}
		if testType.Source == nil {
			continue
		}
		switch testType.Source.Technology {
		case model.TechCucumber:
			c.crawlCucumberRun(ctx, logger, run)
		case model.TechPostman:
			c.crawlPostmanRun(ctx, logger, run)
		default:
			panic(fmt.Sprintf("no indexing mechanism for technology %q", testType.Source.Technology))
		}
	}
	return nil
}

// crawlCucumberRun indexes the run's report.json. Never fails: a download
// problem may resolve by the next pass, or there is simply nothing to index.
func (c *Crawler) crawlCucumberRun(ctx context.Context, logger *slog.Logger, run *model.Run) {
	features, err := c.fetcher.CucumberReport(ctx, run)
	if errors.Is(err, fetch.ErrNotFound) {
		// No report yet; do not pollute logs every pass.
		return
	}
	if err != nil {
		logger.Info("cannot download cucumber report", "jobUrl", run.JobURL, "error", err)
		return
	}

	stepDefinitions, err := c.fetcher.CucumberStepDefinitions(ctx, run)
	if err != nil && !errors.Is(err, fetch.ErrNotFound) {
		logger.Info("cannot download step definitions (faking them instead)", "jobUrl", run.JobURL, "error", err)
	}

	run.ExecutedScenarios = append(run.ExecutedScenarios,
		cucumber.ExtractScenarios(features, stepDefinitions)...)
}

// crawlPostmanRun indexes the run's Newman reports, but only once every
// collection ran (the completion marker exists) or the job finished anyway:
// quality percentages must never be based on partial results.
func (c *Crawler) crawlPostmanRun(ctx context.Context, logger *slog.Logger, run *model.Run) {
	reportPaths, err := c.fetcher.PostmanReportPaths(ctx, run)
	if err != nil {
		logger.Info("cannot list newman reports", "jobUrl", run.JobURL, "error", err)
		return
	}

	if !postman.AllCollectionsRan(reportPaths) && run.Status != model.StatusDone {
		return
	}

	// Requests carry no line numbers, and two requests may share a name
	// across report files, so positions are numbered across the whole run.
	position := 0
	for _, reportPath := range reportPaths {
		if strings.HasSuffix(reportPath, postman.CompletionMarker) {
			continue
		}
		report, err := c.fetcher.PostmanReport(ctx, run, reportPath)
		if err != nil {
			logger.Error("cannot index newman report", "path", reportPath, "jobUrl", run.JobURL, "error", err)
			continue
		}
		run.ExecutedScenarios = append(run.ExecutedScenarios,
			postman.ExtractScenarios(report, reportPath, &position)...)
	}
}

// updateJobIdentities copies job URLs, links and timing onto children that
// now have a matching build in the tree; builds keep appearing as the parent
// advances.
func updateJobIdentities(execution *model.Execution, tree *fetch.Tree) {
	for _, deployment := range execution.CountryDeployments {
		build := findDeploymentBuild(tree, deployment)
		if build == nil {
			continue
		}
		deployment.JobURL = build.URL
		deployment.JobLink = build.Link
		deployment.StartDateTime = startOf(build)
		deployment.Duration = build.Duration
		deployment.EstimatedDuration = build.EstimatedDuration
	}
	for _, run := range execution.Runs {
		build := findRunBuild(tree, run)
		if build == nil {
			continue
		}
		run.JobURL = build.URL
		run.JobLink = build.Link
		run.StartDateTime = startOf(build)
		run.Duration = build.Duration
		run.EstimatedDuration = build.EstimatedDuration
		if build.Comment != "" {
			run.Comment = build.Comment
		}
	}
}

// updateStatuses refreshes statuses from the tree, after the report crawl so
// a run finishing this very pass still gets indexed on the next one.
func updateStatuses(execution *model.Execution, tree *fetch.Tree) {
	for _, deployment := range execution.CountryDeployments {
		if build := findDeploymentBuild(tree, deployment); build != nil {
			deployment.Status = StatusOf(build)
			deployment.Result = build.Result
		}
	}
	for _, run := range execution.Runs {
		if build := findRunBuild(tree, run); build != nil {
			run.Status = StatusOf(build)
		}
	}
}

// finalizeHierarchy forces children of a DONE execution into a terminal
// state: the execution will never be crawled again, so nothing may stay
// PENDING or RUNNING.
func finalizeHierarchy(execution *model.Execution) {
	if execution.Status != model.StatusDone {
		return
	}
	for _, deployment := range execution.CountryDeployments {
		switch deployment.Status {
		case model.StatusPending:
			deployment.Status = model.StatusUnavailable
		case model.StatusRunning:
			deployment.Status = model.StatusDone
		}
	}
	for _, run := range execution.Runs {
		switch run.Status {
		case model.StatusPending:
			run.Status = model.StatusUnavailable
		case model.StatusRunning:
			run.Status = model.StatusDone
		}
	}
}

func findDeploymentBuild(tree *fetch.Tree, deployment *model.CountryDeployment) *fetch.Build {
	for i := range tree.DeployedCountries {
		if tree.DeployedCountries[i].Country == deployment.CountryCode {
			return &tree.DeployedCountries[i].Build
		}
	}
	return nil
}

func findRunBuild(tree *fetch.Tree, run *model.Run) *fetch.Build {
	for i := range tree.TestRuns {
		if tree.TestRuns[i].Country == run.CountryCode && tree.TestRuns[i].Type == run.TypeCode {
			return &tree.TestRuns[i].Build
		}
	}
	return nil
}

func startOf(build *fetch.Build) *time.Time {
	if build.Timestamp == 0 {
		return nil
	}
	start := time.UnixMilli(build.Timestamp)
	return &start
}

// saveExecution persists the whole hierarchy. Scenarios are insert-only:
// runs that already own scenarios are never re-indexed.
func saveExecution(ctx context.Context, tx *db.Tx, execution *model.Execution) error {
	if execution.ID == 0 {
		if err := tx.InsertExecution(ctx, execution); err != nil {
			return err
		}
	} else if err := tx.UpdateExecution(ctx, execution); err != nil {
		return err
	}

	for _, deployment := range execution.CountryDeployments {
		deployment.ExecutionID = execution.ID
		if deployment.ID == 0 {
			if err := tx.InsertCountryDeployment(ctx, deployment); err != nil {
				return err
			}
		} else if err := tx.UpdateCountryDeployment(ctx, deployment); err != nil {
			return err
		}
	}

	for _, run := range execution.Runs {
		run.ExecutionID = execution.ID
		if run.ID == 0 {
			if err := tx.InsertRun(ctx, run); err != nil {
				return err
			}
		} else if err := tx.UpdateRun(ctx, run); err != nil {
			return err
		}
		for _, scenario := range run.ExecutedScenarios {
			if scenario.ID != 0 {
				continue
			}
			scenario.RunID = run.ID
			if err := tx.InsertExecutedScenario(ctx, scenario); err != nil {
				return err
			}
		}
	}
	return nil
}

// registerCleanup lets the fetcher archive or delete source artifacts once
// the indexing durably committed. Best effort.
func (c *Crawler) registerCleanup(ctx context.Context, tx *db.Tx, logger *slog.Logger, execution *model.Execution) {
	tx.AfterCommit(func() {
		if err := c.fetcher.OnIndexingFinished(context.WithoutCancel(ctx), execution); err != nil {
			logger.Error("cannot clean up indexed build", "error", err)
		}
	})
}
