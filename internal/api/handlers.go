package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/threatflow/threatflow/internal/compliance"
	"github.com/threatflow/threatflow/internal/playbook"
	"github.com/threatflow/threatflow/internal/soar"
	"github.com/threatflow/threatflow/internal/store"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain sentinels onto HTTP statuses. Validation
// failures carry their per-field detail in the body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, playbook.ErrValidation),
		errors.Is(err, compliance.ErrUnknownFramework),
		errors.Is(err, soar.ErrUnknownPlatform):
		status = http.StatusBadRequest
	case errors.Is(err, playbook.ErrSourceNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, soar.ErrIntegrationNotFound),
		errors.Is(err, compliance.ErrNoResults):
		status = http.StatusNotFound
	case errors.Is(err, soar.ErrNotImplemented):
		status = http.StatusNotImplemented
	case errors.Is(err, soar.ErrPlatform), errors.Is(err, soar.ErrConnectionFailed):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	resp := errorResponse{Error: err.Error()}
	var verr *playbook.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	writeJSON(w, status, resp)
}

// Health and readiness

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": s.version,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Playbook handlers

func (s *Server) handleGeneratePlaybook(w http.ResponseWriter, r *http.Request) {
	var req playbook.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	pb, err := s.generator.Generate(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pb)
}

func (s *Server) handleListPlaybooks(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	summaries, err := s.playbooks.ListPlaybooks(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []store.PlaybookSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"playbooks": summaries,
		"count":     len(summaries),
	})
}

func (s *Server) handleGetPlaybook(w http.ResponseWriter, r *http.Request) {
	pb, err := s.playbooks.LoadPlaybook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pb)
}

func (s *Server) handleExportPlaybook(w http.ResponseWriter, r *http.Request) {
	pb, err := s.playbooks.LoadPlaybook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	data, err := playbook.ExportYAML(pb)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="`+pb.ID+`.yaml"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

type statusUpdateRequest struct {
	Status playbook.Status `json:"status"`
}

func (s *Server) handleUpdatePlaybookStatus(w http.ResponseWriter, r *http.Request) {
	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if !playbook.ValidStatus(req.Status) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown status: " + string(req.Status)})
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.playbooks.UpdatePlaybookStatus(r.Context(), id, req.Status); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(req.Status)})
}

func (s *Server) handleDeletePlaybook(w http.ResponseWriter, r *http.Request) {
	if err := s.playbooks.DeletePlaybook(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Compliance handlers

func (s *Server) handleListFrameworks(w http.ResponseWriter, r *http.Request) {
	type frameworkInfo struct {
		ID   compliance.Framework `json:"id"`
		Name string               `json:"name"`
	}
	out := make([]frameworkInfo, 0, len(compliance.AllFrameworks))
	for _, f := range compliance.AllFrameworks {
		out = append(out, frameworkInfo{ID: f, Name: f.DisplayName()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"frameworks": out})
}

type reportRequest struct {
	JobID     string               `json:"job_id"`
	Framework compliance.Framework `json:"framework"`
}

func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.JobID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "job_id is required"})
		return
	}

	report, err := s.scorer.GenerateReport(r.Context(), req.JobID, req.Framework)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (s *Server) handleReloadMappings(w http.ResponseWriter, r *http.Request) {
	if s.mappings == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "mapping snapshot not configured"})
		return
	}
	if err := s.mappings.Reload(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "reloaded",
		"loaded_at": s.mappings.LoadedAt().Format(time.RFC3339),
	})
}

// SOAR integration handlers

func (s *Server) handleCreateIntegration(w http.ResponseWriter, r *http.Request) {
	var req soar.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.PlaybookID == "" || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "playbook_id and name are required"})
		return
	}
	s.soarDefs.Apply(&req.Config)

	integ, err := s.soar.CreateIntegration(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, integ)
}

func (s *Server) handleGetIntegration(w http.ResponseWriter, r *http.Request) {
	integ, err := s.soar.GetIntegration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, integ)
}

func (s *Server) handleSyncIntegration(w http.ResponseWriter, r *http.Request) {
	integ, err := s.soar.SyncPlaybook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, integ)
}

type executeRequest struct {
	Parameters map[string]any `json:"parameters,omitempty"`
}

func (s *Server) handleExecuteIntegration(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}

	exec, err := s.soar.ExecutePlaybook(r.Context(), chi.URLParam(r, "id"), req.Parameters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleDeleteIntegration(w http.ResponseWriter, r *http.Request) {
	if err := s.soar.Disconnect(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
