package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cyclewatch/cyclewatch/internal/config"
	"github.com/cyclewatch/cyclewatch/internal/model"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFileSystemListRecentBuilds(t *testing.T) {
	root := t.TempDir()
	fetcher := NewFileSystem(config.FileSystemFetcher{Root: root})

	for _, timestamp := range []string{"1756535400000", "1756539000000"} {
		writeFile(t, filepath.Join(root, "develop", "day", timestamp, buildInformationFile), `{}`)
	}
	// Stray files next to the build directories are ignored.
	writeFile(t, filepath.Join(root, "develop", "day", "latest.txt"), "1756539000000")

	builds, err := fetcher.ListRecentBuilds(context.Background(), "develop", "day")
	if err != nil {
		t.Fatalf("ListRecentBuilds() error = %v", err)
	}
	want := []Build{
		{Link: filepath.Join(root, "develop", "day", "1756539000000")},
		{Link: filepath.Join(root, "develop", "day", "1756535400000")},
	}
	if diff := cmp.Diff(want, builds); diff != "" {
		t.Errorf("builds mismatch (-want +got):\n%s", diff)
	}

	none, err := fetcher.ListRecentBuilds(context.Background(), "develop", "night")
	if err != nil {
		t.Fatalf("ListRecentBuilds() of unknown cycle error = %v", err)
	}
	if none != nil {
		t.Errorf("unknown cycle returned %d builds, want none", len(none))
	}
}

func TestFileSystemCompleteBuildInformation(t *testing.T) {
	root := t.TempDir()
	fetcher := NewFileSystem(config.FileSystemFetcher{Root: root})
	buildDir := filepath.Join(root, "develop", "day", "1756535400000")
	writeFile(t, filepath.Join(buildDir, buildInformationFile),
		`{"url":"https://ci.example.com/job/42/","result":"SUCCESS","timestamp":1756535400000,"version":"a1b2c3"}`)

	build := Build{Link: buildDir}
	if err := fetcher.CompleteBuildInformation(context.Background(), &build); err != nil {
		t.Fatalf("CompleteBuildInformation() error = %v", err)
	}
	if build.Link != buildDir {
		t.Errorf("Link = %q, want the directory to survive as the indexing identity", build.Link)
	}
	if build.URL != "https://ci.example.com/job/42/" || build.Result != model.ResultSuccess {
		t.Errorf("build = %+v, want URL and SUCCESS from the information file", build)
	}

	missing := Build{Link: filepath.Join(root, "develop", "day", "1756539000000")}
	if err := fetcher.CompleteBuildInformation(context.Background(), &missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing information file error = %v, want ErrNotFound", err)
	}
}

func TestFileSystemCycleConfiguration(t *testing.T) {
	root := t.TempDir()
	fetcher := NewFileSystem(config.FileSystemFetcher{Root: root})
	buildDir := filepath.Join(root, "develop", "day", "1756535400000")
	writeFile(t, filepath.Join(buildDir, cycleDefinitionFile), `{
		"blockingValidation": true,
		"platformRules": {
			"euin": [{"enabled": true, "country": "fr", "testTypes": "firefox,api", "blockingValidation": true}]
		},
		"qualityThresholds": {"high": {"failure": 95, "warning": 98}}
	}`)

	configuration, err := fetcher.CycleConfiguration(context.Background(), Build{Link: buildDir})
	if err != nil {
		t.Fatalf("CycleConfiguration() error = %v", err)
	}
	if !configuration.BlockingValidation {
		t.Error("BlockingValidation = false, want true")
	}
	rules := configuration.PlatformRules["euin"]
	if len(rules) != 1 || rules[0].Country != "fr" || rules[0].TestTypes != "firefox,api" {
		t.Errorf("platform rules = %+v, want one fr rule", rules)
	}
	if got, want := configuration.QualityThresholds["high"].Warning, 98; got != want {
		t.Errorf("threshold warning = %d, want %d", got, want)
	}
}

func TestFileSystemBuildTree(t *testing.T) {
	root := t.TempDir()
	fetcher := NewFileSystem(config.FileSystemFetcher{Root: root})
	buildDir := filepath.Join(root, "develop", "day", "1756535400000")
	writeFile(t, filepath.Join(buildDir, buildInformationFile), `{}`)
	writeFile(t, filepath.Join(buildDir, "fr", buildInformationFile),
		`{"url":"https://ci.example.com/job/deploy-fr/42/","result":"SUCCESS"}`)
	writeFile(t, filepath.Join(buildDir, "fr", "firefox", buildInformationFile),
		`{"url":"https://ci.example.com/job/fr-firefox/42/","building":true}`)
	// A run directory created before its job posted any information.
	if err := os.MkdirAll(filepath.Join(buildDir, "fr", "api"), 0o755); err != nil {
		t.Fatal(err)
	}

	tree, err := fetcher.BuildTree(context.Background(), Build{Link: buildDir})
	if err != nil {
		t.Fatalf("BuildTree() error = %v", err)
	}

	if len(tree.DeployedCountries) != 1 {
		t.Fatalf("got %d deployed countries, want 1", len(tree.DeployedCountries))
	}
	deployment := tree.DeployedCountries[0]
	if deployment.Country != "fr" || deployment.Build.Result != model.ResultSuccess {
		t.Errorf("deployment = %+v, want fr SUCCESS", deployment)
	}
	if deployment.Build.Link != filepath.Join(buildDir, "fr") {
		t.Errorf("deployment link = %q, want its directory", deployment.Build.Link)
	}

	if len(tree.TestRuns) != 2 {
		t.Fatalf("got %d test runs, want 2", len(tree.TestRuns))
	}
	byType := map[string]TestRun{}
	for _, run := range tree.TestRuns {
		byType[run.Type] = run
	}
	if run := byType["firefox"]; !run.Build.Building || run.Build.URL == "" {
		t.Errorf("firefox run = %+v, want a building run with a URL", run)
	}
	if run := byType["api"]; run.Build.URL != "" || run.Build.Link == "" {
		t.Errorf("api run = %+v, want a pending run identified by its directory", run)
	}
}

func TestFileSystemRunArtifacts(t *testing.T) {
	root := t.TempDir()
	fetcher := NewFileSystem(config.FileSystemFetcher{Root: root})
	runDir := filepath.Join(root, "develop", "day", "1756535400000", "fr", "firefox")
	writeFile(t, filepath.Join(runDir, cucumberReportFile), `[]`)
	writeFile(t, filepath.Join(runDir, stepDefinitionsFile), `["^the login page$"]`)
	writeFile(t, filepath.Join(runDir, newmanDir, "us_pay.json"), `{}`)
	writeFile(t, filepath.Join(runDir, newmanDir, "fr_pay.json"), `{}`)
	writeFile(t, filepath.Join(runDir, newmanDir, "result.txt"), "")

	run := &model.Run{JobLink: runDir}
	ctx := context.Background()

	features, err := fetcher.CucumberReport(ctx, run)
	if err != nil {
		t.Fatalf("CucumberReport() error = %v", err)
	}
	if len(features) != 0 {
		t.Errorf("empty report parsed to %d features", len(features))
	}

	definitions, err := fetcher.CucumberStepDefinitions(ctx, run)
	if err != nil {
		t.Fatalf("CucumberStepDefinitions() error = %v", err)
	}
	if diff := cmp.Diff([]string{"^the login page$"}, definitions); diff != "" {
		t.Errorf("definitions mismatch (-want +got):\n%s", diff)
	}

	paths, err := fetcher.PostmanReportPaths(ctx, run)
	if err != nil {
		t.Fatalf("PostmanReportPaths() error = %v", err)
	}
	want := []string{
		filepath.Join(newmanDir, "fr_pay.json"),
		filepath.Join(newmanDir, "result.txt"),
		filepath.Join(newmanDir, "us_pay.json"),
	}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("report paths mismatch (-want +got):\n%s", diff)
	}

	missing := &model.Run{JobLink: filepath.Join(root, "nowhere")}
	if _, err := fetcher.CucumberReport(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing report error = %v, want ErrNotFound", err)
	}
	if _, err := fetcher.PostmanReportPaths(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing newman directory error = %v, want ErrNotFound", err)
	}
}

func TestFileSystemOnIndexingFinished(t *testing.T) {
	root := t.TempDir()
	fetcher := NewFileSystem(config.FileSystemFetcher{Root: root, DeleteAfterIndexing: true})
	buildDir := filepath.Join(root, "develop", "day", "1756535400000")
	writeFile(t, filepath.Join(buildDir, buildInformationFile), `{}`)
	ctx := context.Background()

	running := &model.Execution{Status: model.StatusRunning, JobLink: buildDir}
	if err := fetcher.OnIndexingFinished(ctx, running); err != nil {
		t.Fatalf("OnIndexingFinished() error = %v", err)
	}
	if _, err := os.Stat(buildDir); err != nil {
		t.Fatal("a running execution's directory was deleted")
	}

	done := &model.Execution{Status: model.StatusDone, JobLink: buildDir}
	if err := fetcher.OnIndexingFinished(ctx, done); err != nil {
		t.Fatalf("OnIndexingFinished() error = %v", err)
	}
	if _, err := os.Stat(buildDir); !os.IsNotExist(err) {
		t.Error("a DONE execution's directory was not deleted")
	}

	outside := &model.Execution{Status: model.StatusDone, JobLink: filepath.Join(os.TempDir(), "elsewhere")}
	if err := fetcher.OnIndexingFinished(ctx, outside); err == nil {
		t.Error("deleting outside the root succeeded, want error")
	}
}

func TestFileSystemOnIndexingFinishedDisabled(t *testing.T) {
	root := t.TempDir()
	fetcher := NewFileSystem(config.FileSystemFetcher{Root: root})
	buildDir := filepath.Join(root, "develop", "day", "1756535400000")
	writeFile(t, filepath.Join(buildDir, buildInformationFile), `{}`)

	done := &model.Execution{Status: model.StatusDone, JobLink: buildDir}
	if err := fetcher.OnIndexingFinished(context.Background(), done); err != nil {
		t.Fatalf("OnIndexingFinished() error = %v", err)
	}
	if _, err := os.Stat(buildDir); err != nil {
		t.Error("directory deleted although deleteAfterIndexing is off")
	}
}
