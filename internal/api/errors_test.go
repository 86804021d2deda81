package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/p-arndt/sandkasten/internal/session"
)

func TestWriteAPIErrorMapsSentinelsToStatusCodes(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{session.ErrNotFound, http.StatusNotFound, ErrCodeSessionNotFound},
		{session.ErrSandboxStartup, http.StatusGatewayTimeout, ErrCodeSandboxStartup},
		{session.ErrAgentUnreachable, http.StatusServiceUnavailable, ErrCodeAgentUnreachable},
		{session.ErrFileError, http.StatusBadRequest, ErrCodeFileError},
		{session.ErrAllowlistViolation, http.StatusForbidden, ErrCodeAllowlistViolation},
		{session.ErrImageNotAllowed, http.StatusBadRequest, ErrCodeImageNotAllowed},
		{session.ErrWorkspacesDisabled, http.StatusConflict, ErrCodeWorkspacesDisabled},
		{fmt.Errorf("boom"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tc := range cases {
		w := httptest.NewRecorder()
		writeAPIError(w, tc.err)
		require.Equal(t, tc.status, w.Code)
		var apiErr APIError
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
		require.Equal(t, tc.code, apiErr.Code)
	}
}

func TestWriteAPIErrorUnwrapsWrappedSentinels(t *testing.T) {
	w := httptest.NewRecorder()
	writeAPIError(w, fmt.Errorf("dispatch: %w", session.ErrAgentUnreachable))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
