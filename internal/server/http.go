package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/cors"
)

// NewHTTPHandler returns an http.Handler with all routes registered, wrapped
// in authentication and, when origins are configured, CORS.
func (s *ReportServer) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/report", s.handleGetReport)
	mux.HandleFunc("POST /v1/report/refresh", s.handleRefresh)
	mux.HandleFunc("GET /v1/report/dimensions", s.handleListDimensions)
	mux.HandleFunc("GET /v1/report/dimensions/{name}/tasks", s.handleDimensionTasks)
	mux.HandleFunc("GET /v1/report/tasks/{id}", s.handleTaskStatuses)
	mux.HandleFunc("GET /v1/report/matrix", s.handleMatrix)
	mux.HandleFunc("GET /v1/report/history", s.handleHistory)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)

	var h http.Handler = AuthMiddleware(s.auth, mux)
	if len(s.origins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins:   s.origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "Authorization", "Last-Event-ID"},
			AllowCredentials: true,
		}).Handler(h)
	}
	return h
}

func (s *ReportServer) ready() bool {
	return s.service.Latest() != nil
}

// handleHealth handles GET /v1/health.
func (s *ReportServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok", "ready": s.ready()}
	if r := s.service.Latest(); r != nil {
		resp["generated_at"] = r.GeneratedAt.Format(time.RFC3339)
		resp["run_id"] = r.RunID
	}
	if id, ok := s.service.Running(""); ok {
		resp["running"] = id
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
