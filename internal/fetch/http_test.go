package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cyclewatch/cyclewatch/internal/config"
	"github.com/cyclewatch/cyclewatch/internal/model"
)

func newTestCIServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /executions/develop/day/history.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"url": "https://ci.example.com/job/43/", "timestamp": 1756539000000, "building": true},
			{"url": "https://ci.example.com/job/42/", "timestamp": 1756535400000, "result": "SUCCESS"}
		]`))
	})
	mux.HandleFunc("GET /job/42/cycleDefinition.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"blockingValidation": true, "qualityThresholds": {"high": {"failure": 95, "warning": 98}}}`))
	})
	mux.HandleFunc("GET /job/42/stepDefinitions.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["^the login page$"]`))
	})
	mux.HandleFunc("GET /job/broken/report.json", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestHTTPListRecentBuilds(t *testing.T) {
	server := newTestCIServer(t)
	fetcher := NewHTTP(config.HTTPFetcher{BaseURL: server.URL + "/"})

	builds, err := fetcher.ListRecentBuilds(context.Background(), "develop", "day")
	if err != nil {
		t.Fatalf("ListRecentBuilds() error = %v", err)
	}
	want := []Build{
		{URL: "https://ci.example.com/job/43/", Timestamp: 1756539000000, Building: true},
		{URL: "https://ci.example.com/job/42/", Timestamp: 1756535400000, Result: model.ResultSuccess},
	}
	if diff := cmp.Diff(want, builds); diff != "" {
		t.Errorf("builds mismatch (-want +got):\n%s", diff)
	}

	if _, err := fetcher.ListRecentBuilds(context.Background(), "develop", "night"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown cycle error = %v, want ErrNotFound", err)
	}
}

func TestHTTPCycleConfiguration(t *testing.T) {
	server := newTestCIServer(t)
	fetcher := NewHTTP(config.HTTPFetcher{BaseURL: server.URL})

	configuration, err := fetcher.CycleConfiguration(context.Background(), Build{URL: server.URL + "/job/42/"})
	if err != nil {
		t.Fatalf("CycleConfiguration() error = %v", err)
	}
	if !configuration.BlockingValidation {
		t.Error("BlockingValidation = false, want true")
	}
	if got, want := configuration.QualityThresholds["high"].Failure, 95; got != want {
		t.Errorf("threshold failure = %d, want %d", got, want)
	}
}

func TestHTTPRunArtifacts(t *testing.T) {
	server := newTestCIServer(t)
	fetcher := NewHTTP(config.HTTPFetcher{BaseURL: server.URL})
	ctx := context.Background()

	definitions, err := fetcher.CucumberStepDefinitions(ctx, &model.Run{JobURL: server.URL + "/job/42/"})
	if err != nil {
		t.Fatalf("CucumberStepDefinitions() error = %v", err)
	}
	if diff := cmp.Diff([]string{"^the login page$"}, definitions); diff != "" {
		t.Errorf("definitions mismatch (-want +got):\n%s", diff)
	}

	if _, err := fetcher.CucumberReport(ctx, &model.Run{JobURL: server.URL + "/job/42/"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing report error = %v, want ErrNotFound", err)
	}
	if _, err := fetcher.CucumberReport(ctx, &model.Run{JobURL: ""}); err == nil {
		t.Error("fetch without a job URL succeeded, want error")
	}

	_, err = fetcher.CucumberReport(ctx, &model.Run{JobURL: server.URL + "/job/broken/"})
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("server failure error = %v, want a hard error", err)
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("server failure error = %q, want status and body excerpt", err)
	}
}

func TestHTTPBearerToken(t *testing.T) {
	var gotAuthorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthorization = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(server.Close)

	fetcher := NewHTTP(config.HTTPFetcher{BaseURL: server.URL, Token: "hunter2"})
	if _, err := fetcher.ListRecentBuilds(context.Background(), "develop", "day"); err != nil {
		t.Fatalf("ListRecentBuilds() error = %v", err)
	}
	if got, want := gotAuthorization, "Bearer hunter2"; got != want {
		t.Errorf("Authorization = %q, want %q", got, want)
	}

	anonymous := NewHTTP(config.HTTPFetcher{BaseURL: server.URL})
	if _, err := anonymous.ListRecentBuilds(context.Background(), "develop", "day"); err != nil {
		t.Fatal(err)
	}
	if gotAuthorization != "" {
		t.Errorf("Authorization = %q without a configured token, want empty", gotAuthorization)
	}
}

func TestHTTPCompleteBuildInformationIsANoOp(t *testing.T) {
	fetcher := NewHTTP(config.HTTPFetcher{BaseURL: "https://ci.example.com"})
	build := Build{URL: "https://ci.example.com/job/42/", Result: model.ResultSuccess}
	if err := fetcher.CompleteBuildInformation(context.Background(), &build); err != nil {
		t.Fatalf("CompleteBuildInformation() error = %v", err)
	}
	if build.URL != "https://ci.example.com/job/42/" || build.Result != model.ResultSuccess {
		t.Errorf("build mutated: %+v", build)
	}
}
