package server

import "net/http"

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	// Executions API
	mux.HandleFunc("GET /api/v1/executions", s.handleListExecutions)
	mux.HandleFunc("GET /api/v1/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("GET /api/v1/executions/{id}/quality", s.handleGetExecutionQuality)

	// Called by CI jobs right before they finish, to get a definitive
	// quality verdict on their next indexing.
	mux.HandleFunc("POST /api/v1/completion-requests", s.handleRequestCompletion)
}
