// Package agentclient is the manager-side HTTP client for the in-sandbox
// agent's fixed-port API. It replaces the teacher's docker-exec dispatch
// of a runner binary with a real network hop, since the spec's agent is a
// reachable HTTP server rather than a process invoked through the
// container runtime's exec facility.
package agentclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/p-arndt/sandkasten/protocol"
)

// ErrUnreachable wraps any transport-level failure talking to an agent.
var ErrUnreachable = fmt.Errorf("agent unreachable")

// Client talks to one in-sandbox agent over plain HTTP.
type Client struct {
	addr string
	http *http.Client
}

// New builds a Client for the agent reachable at addr (host:port).
func New(addr string) *Client {
	return &Client{
		addr: addr,
		http: &http.Client{},
	}
}

func (c *Client) url(path string) string {
	return "http://" + c.addr + path
}

// Health polls GET /health once.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/health"), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	var health protocol.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("%w: decode health response: %v", ErrUnreachable, err)
	}
	if !health.OK {
		return fmt.Errorf("%w: agent not ready", ErrUnreachable)
	}
	return nil
}

// Exec runs a buffered exec against the agent. ctx carries a deadline
// slightly larger than req.TimeoutMs, per the manager's suspension-point
// rules — the agent is trusted to honor its own timeout first.
func (c *Client) Exec(ctx context.Context, req protocol.ExecRequest) (*protocol.ExecResponse, error) {
	var resp protocol.ExecResponse
	if err := c.postJSON(ctx, "/exec", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExecStream runs a streaming exec against the agent and delivers each
// decoded chunk to onChunk in order. Returns once the terminal "exit"
// chunk is seen or ctx is canceled, whichever is first — on cancellation,
// the caller is responsible for emitting its own terminal sentinel chunk
// (see internal/session, which plays the role of the streaming bridge).
func (c *Client) ExecStream(ctx context.Context, req protocol.ExecRequest, onChunk func(protocol.StreamChunk)) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/exec_stream"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, protocol.MaxOutputBytes+4096), protocol.MaxOutputBytes+4096)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk protocol.StreamChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		onChunk(chunk)
		if chunk.Channel == protocol.ChannelExit {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

// WriteFile calls POST /write_file.
func (c *Client) WriteFile(ctx context.Context, req protocol.WriteFileRequest) (*protocol.WriteFileResponse, error) {
	var resp protocol.WriteFileResponse
	if err := c.postJSON(ctx, "/write_file", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReadFile calls POST /read_file.
func (c *Client) ReadFile(ctx context.Context, req protocol.ReadFileRequest) (*protocol.ReadFileResponse, error) {
	var resp protocol.ReadFileResponse
	if err := c.postJSON(ctx, "/read_file", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetSessionEnv calls POST /session_env, merging env into the vars the
// agent appends to every subsequent exec. Used at hand-off for a pooled
// container, which was created before its session token existed.
func (c *Client) SetSessionEnv(ctx context.Context, env map[string]string) error {
	var resp protocol.SetSessionEnvResponse
	if err := c.postJSON(ctx, "/session_env", protocol.SetSessionEnvRequest{Env: env}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("agent rejected session_env")
	}
	return nil
}

// PipInstall calls POST /pip_install.
func (c *Client) PipInstall(ctx context.Context, req protocol.PipInstallRequest) (*protocol.ExecResponse, error) {
	var resp protocol.ExecResponse
	if err := c.postJSON(ctx, "/pip_install", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response from %s: %v", ErrUnreachable, path, err)
	}
	return nil
}

// WaitHealthy polls Health until it succeeds or deadline elapses.
func WaitHealthy(ctx context.Context, c *Client, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := c.Health(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("agent did not become healthy within %s", deadline)
		case <-ticker.C:
		}
	}
}
