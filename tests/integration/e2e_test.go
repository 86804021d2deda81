//go:build integration

package integration

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/p-arndt/sandkasten/internal/api"
	"github.com/p-arndt/sandkasten/internal/config"
	"github.com/p-arndt/sandkasten/internal/docker"
	"github.com/p-arndt/sandkasten/internal/reaper"
	"github.com/p-arndt/sandkasten/internal/registry"
	"github.com/p-arndt/sandkasten/internal/session"
	"github.com/p-arndt/sandkasten/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "sk-integration-test"

// startTestServer brings up the daemon against a real container runtime.
// It skips the test outright when no runtime is reachable, rather than
// failing — these tests exercise actual container lifecycle and have no
// fake runtime to fall back to.
func startTestServer(t *testing.T) (string, func()) {
	t.Helper()

	dc, err := docker.New()
	if err != nil {
		t.Skipf("no container runtime available: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := dc.Ping(ctx); err != nil {
		cancel()
		t.Skipf("container runtime unreachable: %v", err)
	}

	cfg := &config.Config{
		SandboxImage:   "sandbox-runtime:base",
		SandboxRuntime: "runc",
		SessionTimeout: 60,
		APIKey:         testAPIKey,
		SigningKey:     "integration-test-signing-key",
		AllowedImages:  []string{"sandbox-runtime:base", "sandbox-runtime:python", "sandbox-runtime:node"},
		Defaults: config.Defaults{
			CPULimit:       0.5,
			MemLimitMB:     256,
			PidsLimit:      128,
			NetworkMode:    "none",
			ReadonlyRootfs: true,
		},
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	reg := registry.New()
	tokens := token.NewService([]byte(cfg.SigningKey))
	mgr := session.NewManager(cfg, reg, dc, tokens, nil, nil)

	rpr := reaper.New(mgr, 5*time.Second, time.Duration(cfg.SessionTimeout)*time.Second, logger)
	go rpr.Run(ctx)

	srv := api.NewServer(cfg, mgr, logger)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	httpServer := &http.Server{Handler: srv.Handler()}
	go httpServer.Serve(listener)

	baseURL := fmt.Sprintf("http://%s", listener.Addr().String())

	cleanup := func() {
		cancel()
		httpServer.Close()
		dc.Close()
	}

	return baseURL, cleanup
}

func TestE2E_Healthz(t *testing.T) {
	baseURL, cleanup := startTestServer(t)
	defer cleanup()

	client := newTestClient(baseURL, testAPIKey)
	resp := client.doRequest(t, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestE2E_AuthRequired(t *testing.T) {
	baseURL, cleanup := startTestServer(t)
	defer cleanup()

	noAuth := newTestClient(baseURL, "")
	resp := noAuth.doRequest(t, "GET", "/v1/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	wrongKey := newTestClient(baseURL, "wrong-key")
	resp = wrongKey.doRequest(t, "GET", "/v1/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	validClient := newTestClient(baseURL, testAPIKey)
	resp = validClient.doRequest(t, "GET", "/v1/sessions", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestE2E_CreateExecDestroy(t *testing.T) {
	baseURL, cleanup := startTestServer(t)
	defer cleanup()

	client := newTestClient(baseURL, testAPIKey)

	created := client.createSession(t, "sandbox-runtime:base", 60)
	sessionInfo, ok := created["session"].(map[string]any)
	require.True(t, ok, "expected a session object in the response")
	sessionID, _ := sessionInfo["session_id"].(string)
	require.NotEmpty(t, sessionID)
	defer client.destroySession(t, sessionID)

	client.writeFile(t, sessionID, "hello.txt", "hello from the integration test\n")

	read := client.readFile(t, sessionID, "hello.txt")
	assert.Contains(t, fmt.Sprint(read["content"]), "hello from the integration test")

	result := client.exec(t, sessionID, "cat hello.txt")
	assert.Contains(t, fmt.Sprint(result["stdout"]), "hello from the integration test")
}
