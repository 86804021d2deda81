package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/p-arndt/sandkasten/internal/session"
	"github.com/p-arndt/sandkasten/internal/workspace"
)

func TestListTenantsReturnsWorkspaceInfo(t *testing.T) {
	mgr := &fakeManager{listTenantsFn: func() ([]workspace.Info, error) {
		return []workspace.Info{{TenantID: "acme"}}, nil
	}}
	srv := testServer(t, mgr)

	req := httptest.NewRequest(http.MethodGet, "/v1/tenants", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var decoded map[string][]workspace.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	require.Len(t, decoded["tenants"], 1)
}

func TestListTenantsDisabledSurfacesConflict(t *testing.T) {
	mgr := &fakeManager{listTenantsFn: func() ([]workspace.Info, error) {
		return nil, session.ErrWorkspacesDisabled
	}}
	srv := testServer(t, mgr)

	req := httptest.NewRequest(http.MethodGet, "/v1/tenants", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
}

func TestDeleteTenantRejectsInvalidID(t *testing.T) {
	srv := testServer(t, &fakeManager{})

	req := httptest.NewRequest(http.MethodDelete, "/v1/tenants/bad!id", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteTenantForwardsToManager(t *testing.T) {
	called := false
	mgr := &fakeManager{deleteTenantFn: func(id string) error {
		called = true
		require.Equal(t, "acme", id)
		return nil
	}}
	srv := testServer(t, mgr)

	req := httptest.NewRequest(http.MethodDelete, "/v1/tenants/acme", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, called)
}
