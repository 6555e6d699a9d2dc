package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cyclewatch/cyclewatch/internal/config"
	"github.com/cyclewatch/cyclewatch/internal/cucumber"
	"github.com/cyclewatch/cyclewatch/internal/model"
	"github.com/cyclewatch/cyclewatch/internal/postman"
)

// FileSystemFetcher reads builds from a directory tree where CI jobs
// archive their artifacts:
//
//	{root}/{branch}/{cycle}/{timestamp}/
//	    buildInformation.json
//	    cycleDefinition.json
//	    {country}/buildInformation.json
//	    {country}/{type}/buildInformation.json
//	    {country}/{type}/report.json | stepDefinitions.json
//	    {country}/{type}/newman/*.json + result.txt
//
// Builds discovered this way are identified by their job link (the
// directory); the job URL comes from buildInformation.json.
type FileSystemFetcher struct {
	root                string
	deleteAfterIndexing bool
}

const newmanDir = "newman"

// NewFileSystem creates a fetcher over the directory tree described by cfg.
func NewFileSystem(cfg config.FileSystemFetcher) *FileSystemFetcher {
	return &FileSystemFetcher{
		root:                cfg.Root,
		deleteAfterIndexing: cfg.DeleteAfterIndexing,
	}
}

func (f *FileSystemFetcher) ListRecentBuilds(ctx context.Context, branch, cycle string) ([]Build, error) {
	cycleDir := filepath.Join(f.root, branch, cycle)
	entries, err := os.ReadDir(cycleDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", cycleDir, err)
	}

	// Timestamp-named directories: newest first.
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	builds := make([]Build, 0, len(names))
	for _, name := range names {
		builds = append(builds, Build{Link: filepath.Join(cycleDir, name)})
	}
	return builds, nil
}

// CompleteBuildInformation loads buildInformation.json from the build's
// directory, keeping the link as the indexing identity.
func (f *FileSystemFetcher) CompleteBuildInformation(ctx context.Context, build *Build) error {
	if build.Link == "" {
		return fmt.Errorf("filesystem build has no link")
	}
	var information Build
	if err := readJSON(filepath.Join(build.Link, buildInformationFile), &information); err != nil {
		return err
	}
	link := build.Link
	*build = information
	build.Link = link
	return nil
}

func (f *FileSystemFetcher) CycleConfiguration(ctx context.Context, build Build) (*CycleConfiguration, error) {
	var configuration CycleConfiguration
	if err := readJSON(filepath.Join(build.Link, cycleDefinitionFile), &configuration); err != nil {
		return nil, err
	}
	return &configuration, nil
}

// BuildTree walks the execution directory: first-level directories are
// country deployments, their subdirectories are runs.
func (f *FileSystemFetcher) BuildTree(ctx context.Context, build Build) (*Tree, error) {
	if build.Link == "" {
		return nil, fmt.Errorf("filesystem build has no link")
	}
	countries, err := os.ReadDir(build.Link)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", build.Link, err)
	}

	tree := &Tree{}
	for _, country := range countries {
		if !country.IsDir() {
			continue
		}
		countryDir := filepath.Join(build.Link, country.Name())
		deployment, err := f.childBuild(countryDir)
		if err != nil {
			return nil, err
		}
		tree.DeployedCountries = append(tree.DeployedCountries, DeployedCountry{
			Country: country.Name(),
			Build:   deployment,
		})

		types, err := os.ReadDir(countryDir)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", countryDir, err)
		}
		for _, typeEntry := range types {
			if !typeEntry.IsDir() {
				continue
			}
			runBuild, err := f.childBuild(filepath.Join(countryDir, typeEntry.Name()))
			if err != nil {
				return nil, err
			}
			tree.TestRuns = append(tree.TestRuns, TestRun{
				Country: country.Name(),
				Type:    typeEntry.Name(),
				Build:   runBuild,
			})
		}
	}
	return tree, nil
}

func (f *FileSystemFetcher) childBuild(dir string) (Build, error) {
	var build Build
	err := readJSON(filepath.Join(dir, buildInformationFile), &build)
	if err != nil && !isNotFound(err) {
		return Build{}, err
	}
	// A build directory without information yet is a pending child.
	build.Link = dir
	return build, nil
}

func (f *FileSystemFetcher) CucumberReport(ctx context.Context, run *model.Run) ([]cucumber.Feature, error) {
	data, err := os.ReadFile(filepath.Join(f.runDir(run), cucumberReportFile))
	if err != nil {
		return nil, wrapReadError(err)
	}
	return cucumber.Parse(data)
}

func (f *FileSystemFetcher) CucumberStepDefinitions(ctx context.Context, run *model.Run) ([]string, error) {
	var definitions []string
	if err := readJSON(filepath.Join(f.runDir(run), stepDefinitionsFile), &definitions); err != nil {
		return nil, err
	}
	return definitions, nil
}

func (f *FileSystemFetcher) PostmanReportPaths(ctx context.Context, run *model.Run) ([]string, error) {
	dir := filepath.Join(f.runDir(run), newmanDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, wrapReadError(err)
	}
	var paths []string
	for _, entry := range entries {
		if !entry.IsDir() {
			paths = append(paths, filepath.Join(newmanDir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (f *FileSystemFetcher) PostmanReport(ctx context.Context, run *model.Run, reportPath string) (*postman.Report, error) {
	data, err := os.ReadFile(filepath.Join(f.runDir(run), reportPath))
	if err != nil {
		return nil, wrapReadError(err)
	}
	return postman.Parse(data)
}

// OnIndexingFinished deletes a fully indexed DONE execution's directory so
// the next listing does not offer it again, if configured to do so.
func (f *FileSystemFetcher) OnIndexingFinished(ctx context.Context, execution *model.Execution) error {
	if !f.deleteAfterIndexing || execution.Status != model.StatusDone || execution.JobLink == "" {
		return nil
	}
	// Never delete outside the configured root.
	cleaned := filepath.Clean(execution.JobLink)
	if !strings.HasPrefix(cleaned, filepath.Clean(f.root)+string(filepath.Separator)) {
		return fmt.Errorf("refusing to delete %q outside root %q", execution.JobLink, f.root)
	}
	if err := os.RemoveAll(cleaned); err != nil {
		return fmt.Errorf("delete %s: %w", cleaned, err)
	}
	return nil
}

// runDir maps a run's job link (preferred) or URL to its directory.
func (f *FileSystemFetcher) runDir(run *model.Run) string {
	if run.JobLink != "" {
		return run.JobLink
	}
	return run.JobURL
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return wrapReadError(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func wrapReadError(err error) error {
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, err)
	}
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
