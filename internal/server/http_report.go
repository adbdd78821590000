package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/alfredjeanlab/opreport/internal/model"
	"github.com/alfredjeanlab/opreport/internal/report"
	"github.com/alfredjeanlab/opreport/internal/store"
)

// currentReport returns the cached report, computing it when needed, and
// writes the error response itself on failure.
func (s *ReportServer) currentReport(w http.ResponseWriter, r *http.Request, refresh bool) (*model.AggregateReport, bool) {
	rep, err := s.service.GetAggregateReport(r.Context(), r.URL.Query().Get("project"), refresh)
	if err != nil {
		s.logger.Error("report unavailable", "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return nil, false
	}
	return rep, true
}

// handleGetReport handles GET /v1/report.
func (s *ReportServer) handleGetReport(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	rep, ok := s.currentReport(w, r, refresh)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleRefresh handles POST /v1/report/refresh.
func (s *ReportServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	runID, err := s.service.Refresh(r.Context(), r.URL.Query().Get("project"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// handleListDimensions handles GET /v1/report/dimensions.
func (s *ReportServer) handleListDimensions(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.currentReport(w, r, false)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dimensions": report.Summaries(rep)})
}

// handleDimensionTasks handles GET /v1/report/dimensions/{name}/tasks.
func (s *ReportServer) handleDimensionTasks(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.currentReport(w, r, false)
	if !ok {
		return
	}
	name := r.PathValue("name")
	tasks, found := report.DimensionTasks(rep, name)
	if !found {
		writeError(w, http.StatusNotFound, "unknown dimension "+strconv.Quote(name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dimension": name,
		"stats":     rep.Statistics[name],
		"tasks":     tasks,
	})
}

// handleTaskStatuses handles GET /v1/report/tasks/{id}.
func (s *ReportServer) handleTaskStatuses(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	rep, ok := s.currentReport(w, r, false)
	if !ok {
		return
	}
	ts, found := report.TaskStatusesOf(rep, id)
	if !found {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

// handleMatrix handles GET /v1/report/matrix.
func (s *ReportServer) handleMatrix(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.currentReport(w, r, false)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report.Matrix(rep))
}

// handleHistory handles GET /v1/report/history.
func (s *ReportServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := s.service.History(r.Context(), r.URL.Query().Get("project"), limit)
	if errors.Is(err, store.ErrNotConfigured) {
		writeError(w, http.StatusNotImplemented, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*model.ReportRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
