package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cyclewatch/cyclewatch/internal/model"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// --- Executions ---

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if limit <= 0 {
		limit = 50
	}
	executions, err := s.db.ListExecutions(r.Context(), q.Get("project"), q.Get("branch"), q.Get("cycle"), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if executions == nil {
		executions = []model.Execution{}
	}
	writeJSON(w, http.StatusOK, executions)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid execution id %q", r.PathValue("id")))
		return
	}
	execution, err := s.db.GetExecution(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, fmt.Errorf("execution %d not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, execution)
}

// qualityResponse is the decoded quality verdict of one execution.
type qualityResponse struct {
	QualityStatus      model.QualityStatus     `json:"qualityStatus"`
	BlockingValidation *bool                   `json:"blockingValidation,omitempty"`
	QualitySeverities  []model.QualitySeverity `json:"qualitySeverities"`
}

func (s *Server) handleGetExecutionQuality(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid execution id %q", r.PathValue("id")))
		return
	}
	execution, err := s.db.GetExecution(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, fmt.Errorf("execution %d not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := qualityResponse{
		QualityStatus:      execution.QualityStatus,
		BlockingValidation: execution.BlockingValidation,
		QualitySeverities:  []model.QualitySeverity{},
	}
	if execution.QualitySeverities != "" {
		if err := json.Unmarshal([]byte(execution.QualitySeverities), &resp.QualitySeverities); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Errorf("decode quality severities: %w", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Completion requests ---

type completionRequest struct {
	JobURL string `json:"jobUrl"`
}

func (s *Server) handleRequestCompletion(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.JobURL == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("jobUrl is required"))
		return
	}
	if err := s.db.RegisterCompletionRequest(r.Context(), req.JobURL); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
