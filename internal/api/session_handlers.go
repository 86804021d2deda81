package api

import (
	"net/http"

	"github.com/p-arndt/sandkasten/internal/session"
)

type createSessionRequest struct {
	SessionID    string   `json:"session_id"`
	TenantID     string   `json:"tenant_id"`
	Image        string   `json:"image"`
	AllowedHosts []string `json:"allowed_hosts"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateCreateSessionRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	s.logger.Debug("create session", "request_id", requestID(r.Context()), "image", req.Image, "tenant_id", req.TenantID)
	info, err := s.manager.Create(r.Context(), session.CreateOpts{
		SessionID:    req.SessionID,
		TenantID:     req.TenantID,
		Image:        req.Image,
		AllowedHosts: req.AllowedHosts,
	})
	if err != nil {
		s.logger.Error("create session", "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": info})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	info, err := s.manager.Get(id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": info})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.manager.List()})
}

func (s *Server) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	existed, err := s.manager.Destroy(r.Context(), id)
	if err != nil {
		s.logger.Error("destroy session", "session_id", id, "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": existed})
}
