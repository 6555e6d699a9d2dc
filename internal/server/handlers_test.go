package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclewatch/cyclewatch/internal/db"
	"github.com/cyclewatch/cyclewatch/internal/model"
)

func setupTestServer(t *testing.T) (*Server, *db.DB) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return New(database, ":0", slog.New(slog.DiscardHandler)), database
}

func (s *Server) serve(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := setupTestServer(t)
	w := srv.serve(t, "GET", "/api/v1/health", nil)

	if w.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]string
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp["status"] != "healthy" {
		t.Errorf("status: got %q, want healthy", resp["status"])
	}
}

func insertExecution(t *testing.T, database *db.DB, jobURL string, status model.JobStatus) *model.Execution {
	t.Helper()
	execution := &model.Execution{
		ProjectCode:   "phones",
		Branch:        "develop",
		Name:          "day",
		TestDateTime:  time.Now(),
		JobURL:        jobURL,
		Status:        status,
		Acceptance:    model.AcceptanceNew,
		QualityStatus: model.QualityIncomplete,
	}
	if err := database.InsertExecution(t.Context(), execution); err != nil {
		t.Fatal(err)
	}
	return execution
}

func TestListExecutions(t *testing.T) {
	srv, database := setupTestServer(t)
	insertExecution(t, database, "http://ci/execution/1/", model.StatusDone)
	insertExecution(t, database, "http://ci/execution/2/", model.StatusRunning)

	w := srv.serve(t, "GET", "/api/v1/executions?project=phones&branch=develop&cycle=day", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var executions []model.Execution
	if err := json.NewDecoder(w.Body).Decode(&executions); err != nil {
		t.Fatal(err)
	}
	if len(executions) != 2 {
		t.Errorf("executions: got %d, want 2", len(executions))
	}

	w = srv.serve(t, "GET", "/api/v1/executions?project=other", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("empty list: got %q, want []", body)
	}
}

func TestGetExecution(t *testing.T) {
	srv, database := setupTestServer(t)
	execution := insertExecution(t, database, "http://ci/execution/1/", model.StatusRunning)

	w := srv.serve(t, "GET", "/api/v1/executions/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var got model.Execution
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ID != execution.ID || got.JobURL != execution.JobURL {
		t.Errorf("got execution %d %q, want %d %q", got.ID, got.JobURL, execution.ID, execution.JobURL)
	}

	if w := srv.serve(t, "GET", "/api/v1/executions/999", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown id: got %d, want 404", w.Code)
	}
	if w := srv.serve(t, "GET", "/api/v1/executions/abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id: got %d, want 400", w.Code)
	}
}

func TestGetExecutionQuality(t *testing.T) {
	srv, database := setupTestServer(t)
	execution := &model.Execution{
		ProjectCode:   "phones",
		Branch:        "develop",
		Name:          "day",
		TestDateTime:  time.Now(),
		JobURL:        "http://ci/execution/1/",
		Status:        model.StatusDone,
		QualityStatus: model.QualityWarning,
		QualitySeverities: `[{"severity":{"code":"high","position":1,"name":"High","defaultOnMissing":false},` +
			`"scenarioCounts":{"passed":18,"failed":2,"total":20},"percent":90,"status":"WARNING"}]`,
	}
	if err := database.InsertExecution(t.Context(), execution); err != nil {
		t.Fatal(err)
	}

	w := srv.serve(t, "GET", "/api/v1/executions/1/quality", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var resp qualityResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.QualityStatus != model.QualityWarning {
		t.Errorf("qualityStatus: got %s, want WARNING", resp.QualityStatus)
	}
	if len(resp.QualitySeverities) != 1 || resp.QualitySeverities[0].Percent != 90 {
		t.Errorf("qualitySeverities: got %+v", resp.QualitySeverities)
	}
}

func TestRequestCompletion(t *testing.T) {
	srv, database := setupTestServer(t)

	w := srv.serve(t, "POST", "/api/v1/completion-requests", []byte(`{"jobUrl":"http://ci/execution/1/"}`))
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}

	consumed, err := database.ConsumeCompletionRequest(t.Context(), "http://ci/execution/1/")
	if err != nil {
		t.Fatal(err)
	}
	if !consumed {
		t.Error("completion request was not stored")
	}

	if w := srv.serve(t, "POST", "/api/v1/completion-requests", []byte(`{}`)); w.Code != http.StatusBadRequest {
		t.Errorf("missing jobUrl: got %d, want 400", w.Code)
	}
	if w := srv.serve(t, "POST", "/api/v1/completion-requests", []byte(`not json`)); w.Code != http.StatusBadRequest {
		t.Errorf("invalid body: got %d, want 400", w.Code)
	}
}
