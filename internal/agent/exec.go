package agent

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/p-arndt/sandkasten/protocol"
)

const killGrace = 2 * time.Second

// runCommand spawns a fresh shell for cmd in its own process group, so a
// timeout can be enforced against the whole process tree rather than
// just the shell itself. On timeout the group is sent SIGTERM, then
// SIGKILL after killGrace if it hasn't exited. extraEnv is appended
// after the process's own environment, so it wins on conflict — this is
// how a pooled container picks up SESSION_TOKEN/HTTP_PROXY/HTTPS_PROXY
// set after the fact via /session_env, since a cold-created container
// already has them in os.Environ().
func runCommand(ctx context.Context, cmd, workdir string, timeoutMs int, extraEnv []string) (*protocol.ExecResponse, error) {
	if timeoutMs <= 0 {
		timeoutMs = protocol.DefaultExecTimeoutMs
	}
	dir := resolvePath(workdir)
	if dir == "" {
		dir = "/workspace"
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	c := exec.Command("/bin/sh", "-c", cmd)
	c.Dir = dir
	c.Env = append(os.Environ(), extraEnv...)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	c.Stdout = &boundedWriter{buf: &stdout, limit: protocol.MaxOutputBytes}
	c.Stderr = &boundedWriter{buf: &stderr, limit: protocol.MaxOutputBytes}

	start := time.Now()
	if err := c.Start(); err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() { done <- c.Wait() }()

	var timedOut bool
	var waitErr error
	select {
	case waitErr = <-done:
	case <-execCtx.Done():
		timedOut = true
		killGroup(c.Process.Pid, syscall.SIGTERM)
		select {
		case waitErr = <-done:
		case <-time.After(killGrace):
			killGroup(c.Process.Pid, syscall.SIGKILL)
			waitErr = <-done
		}
	}

	exitCode := exitCodeOf(waitErr, timedOut)
	return &protocol.ExecResponse{
		ExitCode:   exitCode,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		TimedOut:   timedOut,
		Cwd:        dir,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func killGroup(pid int, sig syscall.Signal) {
	// Negative pid targets the whole process group created by Setpgid.
	syscall.Kill(-pid, sig)
}

func exitCodeOf(err error, timedOut bool) int {
	if timedOut {
		return 137 // SIGKILL-range sentinel; process group was terminated by the agent.
	}
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// resolvePath treats a path as absolute if it begins with the root
// separator, else relative to /workspace.
func resolvePath(p string) string {
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join("/workspace", p))
}

// boundedWriter caps accumulated output at limit bytes; bytes past the
// cap are silently dropped rather than growing the buffer unbounded.
type boundedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (b *boundedWriter) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
	} else {
		b.buf.Write(p)
	}
	return len(p), nil
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var req protocol.ExecRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := runCommand(r.Context(), req.Cmd, req.Workdir, req.TimeoutMs, s.sessionEnv())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePipInstall(w http.ResponseWriter, r *http.Request) {
	var req protocol.PipInstallRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd := "pip install --no-input"
	for _, pkg := range req.Packages {
		cmd += " " + shellQuote(pkg)
	}
	resp, err := runCommand(r.Context(), cmd, "/workspace", req.TimeoutMs, s.sessionEnv())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
