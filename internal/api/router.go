// Package api is the RPC front-end: a thin net/http.ServeMux JSON service
// standing in for the out-of-scope external RPC schema. It translates
// incoming calls into internal/session.Manager operations and streams
// exec output back over Server-Sent Events.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/p-arndt/sandkasten/internal/config"
	"github.com/p-arndt/sandkasten/internal/session"
	"github.com/p-arndt/sandkasten/internal/workspace"
	"github.com/p-arndt/sandkasten/protocol"
)

// SessionManager is the subset of *session.Manager the front-end calls,
// narrowed to an interface so handlers can be tested against a fake.
type SessionManager interface {
	Create(ctx context.Context, opts session.CreateOpts) (*session.Info, error)
	Get(sessionID string) (*session.Info, error)
	List() []session.Info
	Destroy(ctx context.Context, sessionID string) (bool, error)
	Exec(ctx context.Context, sessionID string, req protocol.ExecRequest) (*protocol.ExecResponse, error)
	ExecStream(ctx context.Context, sessionID string, req protocol.ExecRequest, onChunk func(protocol.StreamChunk)) error
	WriteFile(ctx context.Context, sessionID string, req protocol.WriteFileRequest) (*protocol.WriteFileResponse, error)
	ReadFile(ctx context.Context, sessionID string, req protocol.ReadFileRequest) (*protocol.ReadFileResponse, error)
	PipInstall(ctx context.Context, sessionID string, packages []string) (*protocol.ExecResponse, error)
	ListTenantWorkspaces() ([]workspace.Info, error)
	DeleteTenantWorkspace(tenantID string) error
}

// Server is the RPC front-end's HTTP handler.
type Server struct {
	cfg     *config.Config
	manager SessionManager
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewServer builds the front-end, wiring mgr as the sole backing
// implementation of every route.
func NewServer(cfg *config.Config, mgr SessionManager, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		manager: mgr,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler wraps the router with the request-ID and auth middleware.
func (s *Server) Handler() http.Handler {
	return s.requestIDMiddleware(s.authMiddleware(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDestroySession)

	s.mux.HandleFunc("POST /v1/sessions/{id}/exec", s.handleExec)
	s.mux.HandleFunc("POST /v1/sessions/{id}/exec/stream", s.handleExecStream)
	s.mux.HandleFunc("POST /v1/sessions/{id}/pip_install", s.handlePipInstall)

	s.mux.HandleFunc("POST /v1/sessions/{id}/fs/write", s.handleWriteFile)
	s.mux.HandleFunc("GET /v1/sessions/{id}/fs/read", s.handleReadFile)

	s.mux.HandleFunc("GET /v1/tenants", s.handleListTenants)
	s.mux.HandleFunc("DELETE /v1/tenants/{id}", s.handleDeleteTenant)

	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
