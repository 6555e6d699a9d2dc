package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cyclewatch/cyclewatch/internal/config"
	"github.com/cyclewatch/cyclewatch/internal/cucumber"
	"github.com/cyclewatch/cyclewatch/internal/model"
	"github.com/cyclewatch/cyclewatch/internal/postman"
)

// Artifact file names exposed by CI jobs over HTTP.
const (
	buildInformationFile = "buildInformation.json"
	cycleDefinitionFile  = "cycleDefinition.json"
	buildTreeFile        = "tree.json"
	cucumberReportFile   = "report.json"
	stepDefinitionsFile  = "stepDefinitions.json"
	artifactListFile     = "artifacts.json"
)

// HTTPFetcher reads builds and artifacts from a CI server over HTTP.
type HTTPFetcher struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTP creates a fetcher for the CI server described by cfg.
func NewHTTP(cfg config.HTTPFetcher) *HTTPFetcher {
	timeout := time.Duration(cfg.Timeout)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (f *HTTPFetcher) ListRecentBuilds(ctx context.Context, branch, cycle string) ([]Build, error) {
	url := fmt.Sprintf("%s/executions/%s/%s/history.json", f.baseURL, branch, cycle)
	body, err := f.doGet(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("list builds of %s/%s: %w", branch, cycle, err)
	}

	var builds []Build
	if err := json.Unmarshal(body, &builds); err != nil {
		return nil, fmt.Errorf("decode build history of %s/%s: %w", branch, cycle, err)
	}
	return builds, nil
}

func (f *HTTPFetcher) CompleteBuildInformation(ctx context.Context, build *Build) error {
	// History listings already carry complete build information.
	return nil
}

func (f *HTTPFetcher) CycleConfiguration(ctx context.Context, build Build) (*CycleConfiguration, error) {
	var configuration CycleConfiguration
	if err := f.getJSONArtifact(ctx, build.URL, cycleDefinitionFile, &configuration); err != nil {
		return nil, err
	}
	return &configuration, nil
}

func (f *HTTPFetcher) BuildTree(ctx context.Context, build Build) (*Tree, error) {
	var tree Tree
	if err := f.getJSONArtifact(ctx, build.URL, buildTreeFile, &tree); err != nil {
		return nil, err
	}
	return &tree, nil
}

func (f *HTTPFetcher) CucumberReport(ctx context.Context, run *model.Run) ([]cucumber.Feature, error) {
	body, err := f.getArtifact(ctx, run.JobURL, cucumberReportFile)
	if err != nil {
		return nil, err
	}
	return cucumber.Parse(body)
}

func (f *HTTPFetcher) CucumberStepDefinitions(ctx context.Context, run *model.Run) ([]string, error) {
	var definitions []string
	if err := f.getJSONArtifact(ctx, run.JobURL, stepDefinitionsFile, &definitions); err != nil {
		return nil, err
	}
	return definitions, nil
}

func (f *HTTPFetcher) PostmanReportPaths(ctx context.Context, run *model.Run) ([]string, error) {
	var paths []string
	if err := f.getJSONArtifact(ctx, run.JobURL, artifactListFile, &paths); err != nil {
		return nil, err
	}
	return paths, nil
}

func (f *HTTPFetcher) PostmanReport(ctx context.Context, run *model.Run, reportPath string) (*postman.Report, error) {
	body, err := f.getArtifact(ctx, run.JobURL, reportPath)
	if err != nil {
		return nil, err
	}
	return postman.Parse(body)
}

func (f *HTTPFetcher) OnIndexingFinished(ctx context.Context, execution *model.Execution) error {
	// The CI server owns its artifacts; nothing to clean up over HTTP.
	return nil
}

func (f *HTTPFetcher) getJSONArtifact(ctx context.Context, jobURL, name string, v any) error {
	body, err := f.getArtifact(ctx, jobURL, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s of %s: %w", name, jobURL, err)
	}
	return nil
}

func (f *HTTPFetcher) getArtifact(ctx context.Context, jobURL, name string) ([]byte, error) {
	if jobURL == "" {
		return nil, fmt.Errorf("no job URL to fetch %s from", name)
	}
	return f.doGet(ctx, strings.TrimRight(jobURL, "/")+"/"+name)
}

func (f *HTTPFetcher) doGet(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", reqURL, ErrNotFound)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d: %s", reqURL, resp.StatusCode, string(body[:min(len(body), 200)]))
	}
	return body, nil
}
