package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/p-arndt/sandkasten/protocol"
)

func TestExecReturnsResult(t *testing.T) {
	mgr := &fakeManager{execFn: func(ctx context.Context, id string, req protocol.ExecRequest) (*protocol.ExecResponse, error) {
		require.Equal(t, "echo hi", req.Cmd)
		return &protocol.ExecResponse{ExitCode: 0, Stdout: "hi\n"}, nil
	}}
	srv := testServer(t, mgr)

	body, _ := json.Marshal(execRequest{Cmd: "echo hi"})
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/exec", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp protocol.ExecResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "hi\n", resp.Stdout)
}

func TestExecRejectsEmptyCmd(t *testing.T) {
	srv := testServer(t, &fakeManager{})

	body, _ := json.Marshal(execRequest{Cmd: ""})
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/exec", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecStreamEmitsChunkThenDoneEvents(t *testing.T) {
	mgr := &fakeManager{execStreamFn: func(ctx context.Context, id string, req protocol.ExecRequest, onChunk func(protocol.StreamChunk)) error {
		onChunk(protocol.StreamChunk{Channel: protocol.ChannelStdout, Data: "hello\n"})
		onChunk(protocol.StreamChunk{Channel: protocol.ChannelExit, ExitCode: 0})
		return nil
	}}
	srv := testServer(t, mgr)

	body, _ := json.Marshal(execRequest{Cmd: "echo hello"})
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/exec/stream", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	lines := readSSEEvents(t, w.Body.String())
	require.Contains(t, lines, "event: chunk")
	require.Contains(t, lines, "event: done")
}

func readSSEEvents(t *testing.T, body string) []string {
	t.Helper()
	var events []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			events = append(events, line)
		}
	}
	return events
}

func TestPipInstallRejectsEmptyPackageList(t *testing.T) {
	srv := testServer(t, &fakeManager{})

	body, _ := json.Marshal(pipInstallRequest{Packages: nil})
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/pip_install", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPipInstallForwardsToManager(t *testing.T) {
	mgr := &fakeManager{pipInstallFn: func(ctx context.Context, id string, packages []string) (*protocol.ExecResponse, error) {
		require.Equal(t, []string{"requests"}, packages)
		return &protocol.ExecResponse{ExitCode: 0}, nil
	}}
	srv := testServer(t, mgr)

	body, _ := json.Marshal(pipInstallRequest{Packages: []string{"requests"}})
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/pip_install", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}
