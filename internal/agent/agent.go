// Package agent implements the in-sandbox execution agent: the PID-1
// HTTP server that runs inside every sandbox and exposes exec, file,
// and package-install operations to the manager over the loopback-ish
// agent port.
package agent

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/p-arndt/sandkasten/protocol"
)

// Server is the agent's HTTP handler. Every exec call is independent,
// per the fresh-shell-per-call execution contract; the only session
// state it holds is env, the vars a pooled container's hand-off sets
// via /session_env once it's claimed by a session.
type Server struct {
	workdir string
	logger  *slog.Logger

	envMu sync.RWMutex
	env   map[string]string
}

// NewServer builds a Server rooted at workdir (normally /workspace).
func NewServer(workdir string, logger *slog.Logger) *Server {
	return &Server{workdir: workdir, logger: logger}
}

// Handler returns the agent's routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /exec", s.handleExec)
	mux.HandleFunc("POST /exec_stream", s.handleExecStream)
	mux.HandleFunc("POST /write_file", s.handleWriteFile)
	mux.HandleFunc("POST /read_file", s.handleReadFile)
	mux.HandleFunc("POST /pip_install", s.handlePipInstall)
	mux.HandleFunc("POST /session_env", s.handleSetSessionEnv)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.HealthResponse{OK: true})
}

// handleSetSessionEnv merges req.Env into the vars appended to every
// subsequent exec's environment. A pooled container is created before
// any session claims it, so SESSION_TOKEN/HTTP_PROXY/HTTPS_PROXY can't
// be baked in as container env at creation time the way a freshly
// created container's can; the manager calls this once, right after
// Pool.Take hands it a container, to supply them instead.
func (s *Server) handleSetSessionEnv(w http.ResponseWriter, r *http.Request) {
	var req protocol.SetSessionEnvRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.envMu.Lock()
	if s.env == nil {
		s.env = make(map[string]string, len(req.Env))
	}
	for k, v := range req.Env {
		s.env[k] = v
	}
	s.envMu.Unlock()

	writeJSON(w, http.StatusOK, protocol.SetSessionEnvResponse{Success: true})
}

// sessionEnv returns the vars set via /session_env as os.Environ()-style
// "KEY=VALUE" entries, for appending to a child process's environment.
func (s *Server) sessionEnv() []string {
	s.envMu.RLock()
	defer s.envMu.RUnlock()
	if len(s.env) == 0 {
		return nil
	}
	extra := make([]string, 0, len(s.env))
	for k, v := range s.env {
		extra = append(extra, k+"="+v)
	}
	return extra
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
