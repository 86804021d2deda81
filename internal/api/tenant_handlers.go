package api

import (
	"net/http"

	"github.com/p-arndt/sandkasten/internal/workspace"
)

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.manager.ListTenantWorkspaces()
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
}

func (s *Server) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := workspace.ValidateTenantID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	if err := s.manager.DeleteTenantWorkspace(id); err != nil {
		s.logger.Error("delete tenant workspace", "tenant_id", id, "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
