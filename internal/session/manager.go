// Package session implements the sandbox manager: the session lifecycle
// engine that allocates and tears down isolated environments, enforces
// the host allowlist and tenant workspace rules, and routes exec/file
// calls to each session's in-sandbox agent.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/p-arndt/sandkasten/internal/agentclient"
	"github.com/p-arndt/sandkasten/internal/config"
	"github.com/p-arndt/sandkasten/internal/docker"
	"github.com/p-arndt/sandkasten/internal/pool"
	"github.com/p-arndt/sandkasten/internal/registry"
	"github.com/p-arndt/sandkasten/internal/token"
	"github.com/p-arndt/sandkasten/internal/workspace"
	"github.com/p-arndt/sandkasten/protocol"
)

// DefaultAllowlist is granted to a session whose creation request omits
// allowed hosts (empty and unset are indistinguishable on the wire, and
// both mean "use the default").
var DefaultAllowlist = []string{
	"pypi.org",
	"files.pythonhosted.org",
	"registry.npmjs.org",
	"github.com",
	"raw.githubusercontent.com",
	"objects.githubusercontent.com",
	"crates.io",
	"static.crates.io",
}

const (
	startupDeadline = 30 * time.Second
	tokenSlack      = 5 * time.Minute
)

// Manager owns the session registry and the lifecycle of every isolated
// environment it tracks.
type Manager struct {
	cfg       *config.Config
	registry  *registry.Registry
	docker    *docker.Client
	tokens    *token.Service
	workspace *workspace.Manager
	pool      *pool.Pool // may be nil; a disabled pool misses on every Take
}

// NewManager wires the manager's collaborators. ws and p may be nil when
// tenant persistence or pooling are disabled respectively.
func NewManager(cfg *config.Config, reg *registry.Registry, dc *docker.Client, tokens *token.Service, ws *workspace.Manager, p *pool.Pool) *Manager {
	return &Manager{
		cfg:       cfg,
		registry:  reg,
		docker:    dc,
		tokens:    tokens,
		workspace: ws,
		pool:      p,
	}
}

// CreateOpts is the caller-supplied portion of a session creation
// request; everything else is derived by the manager.
type CreateOpts struct {
	SessionID    string // optional; generated if empty
	TenantID     string // optional
	Image        string // optional; defaults to the configured sandbox image
	AllowedHosts []string
}

// Info is the session descriptor returned to callers.
type Info struct {
	SessionID     string    `json:"session_id"`
	TenantID      string    `json:"tenant_id,omitempty"`
	ContainerID   string    `json:"container_id"`
	AllowedHosts  []string  `json:"allowed_hosts"`
	WorkspacePath string    `json:"workspace_path"`
	CreatedAt     time.Time `json:"created_at"`
}

func infoFromRecord(rec registry.Record) Info {
	return Info{
		SessionID:     rec.SessionID,
		TenantID:      rec.TenantID,
		ContainerID:   rec.ContainerID,
		AllowedHosts:  rec.AllowedHosts,
		WorkspacePath: rec.WorkspacePath,
		CreatedAt:     rec.CreatedAt,
	}
}

// Create allocates a new isolated environment and returns its descriptor
// once the in-sandbox agent has reported readiness.
func (m *Manager) Create(ctx context.Context, opts CreateOpts) (*Info, error) {
	image := opts.Image
	if image == "" {
		image = m.cfg.SandboxImage
	}
	if !m.isImageAllowed(image) {
		return nil, fmt.Errorf("%w: %s", ErrImageNotAllowed, image)
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	hosts := opts.AllowedHosts
	if len(hosts) == 0 {
		hosts = DefaultAllowlist
	}

	var workspaceHost, outputsHost, workspacePath string
	if opts.TenantID != "" && m.cfg.WorkspacesEnabled() {
		if err := m.workspace.Ensure(opts.TenantID); err != nil {
			return nil, fmt.Errorf("ensure tenant workspace: %w", err)
		}
		workspaceHost = m.workspace.WorkspacePath(opts.TenantID)
		outputsHost = m.workspace.OutputsPath(opts.TenantID)
		workspacePath = workspaceHost
	} else {
		workspacePath = "/workspace"
	}

	now := time.Now().UTC()
	expiresAt := now.Add(time.Duration(m.cfg.SessionTimeout)*time.Second + tokenSlack)
	sessionToken, err := m.tokens.Issue(sessionID, hosts, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}

	var proxyURL string
	if m.cfg.ProxyEnabled() {
		proxyURL = fmt.Sprintf("http://%s:%d", m.cfg.ProxyHost, m.cfg.ProxyPort)
	}

	createOpts := docker.CreateOpts{
		SessionID:     sessionID,
		Image:         image,
		Runtime:       m.cfg.SandboxRuntime,
		Defaults:      m.cfg.Defaults,
		TenantID:      opts.TenantID,
		WorkspaceHost: workspaceHost,
		OutputsHost:   outputsHost,
		SessionToken:  sessionToken,
		ProxyURL:      proxyURL,
	}

	var result *docker.CreateResult
	var pooled bool
	// Pooled containers carry tmpfs mounts, so a session that needs the
	// tenant workspace bind mounts always gets a freshly created container.
	if m.pool != nil && workspaceHost == "" {
		if taken, ok := m.pool.Take(ctx, image); ok {
			result = taken
			pooled = true
		}
	}
	if result == nil {
		result, err = m.docker.CreateContainer(ctx, createOpts)
		if err != nil {
			return nil, fmt.Errorf("create container: %w", err)
		}
	}

	agent := agentclient.New(result.AgentAddr)
	if err := agentclient.WaitHealthy(ctx, agent, startupDeadline); err != nil {
		m.docker.RemoveContainer(ctx, result.ContainerID)
		return nil, fmt.Errorf("%w: %v", ErrSandboxStartup, err)
	}

	// A pooled container was created before this session's token existed,
	// so it never got SESSION_TOKEN/HTTP_PROXY/HTTPS_PROXY baked in as
	// container env the way a cold-created one does; supply them now.
	if pooled {
		env := map[string]string{"SESSION_TOKEN": sessionToken}
		if proxyURL != "" {
			env["HTTP_PROXY"] = proxyURL
			env["HTTPS_PROXY"] = proxyURL
		}
		if err := agent.SetSessionEnv(ctx, env); err != nil {
			m.docker.RemoveContainer(ctx, result.ContainerID)
			return nil, fmt.Errorf("%w: set pooled session env: %v", ErrSandboxStartup, err)
		}
	}

	rec := &registry.Record{
		SessionID:     sessionID,
		TenantID:      opts.TenantID,
		Image:         image,
		ContainerID:   result.ContainerID,
		AgentAddr:     result.AgentAddr,
		AllowedHosts:  hosts,
		WorkspacePath: workspacePath,
		CreatedAt:     now,
		LastUsed:      now,
	}
	if !m.registry.Put(rec) {
		m.docker.RemoveContainer(ctx, result.ContainerID)
		return nil, fmt.Errorf("session id already in use: %s", sessionID)
	}

	info := infoFromRecord(*rec)
	return &info, nil
}

// Get returns a session's descriptor.
func (m *Manager) Get(sessionID string) (*Info, error) {
	rec, ok := m.registry.Get(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	info := infoFromRecord(rec)
	return &info, nil
}

// List returns every live session, ordered by session id.
func (m *Manager) List() []Info {
	snapshot := m.registry.Snapshot()
	out := make([]Info, len(snapshot))
	for i, rec := range snapshot {
		out[i] = infoFromRecord(rec)
	}
	return out
}

// Destroy stops and removes a session's environment and drops its
// registry entry. Idempotent: destroying an unknown id returns false,
// not an error.
func (m *Manager) Destroy(ctx context.Context, sessionID string) (bool, error) {
	rec, ok := m.registry.Get(sessionID)
	if !ok {
		return false, nil
	}
	m.registry.Delete(sessionID)
	if err := m.docker.RemoveContainer(ctx, rec.ContainerID); err != nil {
		return true, fmt.Errorf("remove container: %w", err)
	}
	return true, nil
}

// Exec runs a buffered command in a session and advances its last-used
// timestamp on success.
func (m *Manager) Exec(ctx context.Context, sessionID string, req protocol.ExecRequest) (*protocol.ExecResponse, error) {
	rec, ok := m.registry.Get(sessionID)
	if !ok {
		return nil, ErrNotFound
	}

	resp, err := m.dispatchExec(ctx, rec, req)
	if err != nil {
		return nil, err
	}
	m.registry.Touch(sessionID, time.Now().UTC())
	return resp, nil
}

func (m *Manager) dispatchExec(ctx context.Context, rec registry.Record, req protocol.ExecRequest) (*protocol.ExecResponse, error) {
	timeoutMs := req.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = protocol.DefaultExecTimeoutMs
	}
	req.TimeoutMs = timeoutMs

	deadline := time.Duration(timeoutMs)*time.Millisecond + 10*time.Second
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	agent := agentclient.New(rec.AgentAddr)
	resp, err := agent.Exec(callCtx, req)
	if err == nil {
		return resp, nil
	}

	// One retry with a short backoff, per the documented AgentUnreachable
	// handling, then surface.
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrAgentUnreachable, err)
	}
	resp, err = agent.Exec(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentUnreachable, err)
	}
	return resp, nil
}

// ExecStream runs a streaming command, delivering decoded chunks to
// onChunk in arrival order. If the agent connection drops before an
// "exit" chunk arrives, ExecStream synthesizes one carrying the
// interrupted-execution sentinel so the bridge's terminal-chunk
// invariant always holds.
func (m *Manager) ExecStream(ctx context.Context, sessionID string, req protocol.ExecRequest, onChunk func(protocol.StreamChunk)) error {
	rec, ok := m.registry.Get(sessionID)
	if !ok {
		return ErrNotFound
	}

	timeoutMs := req.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = protocol.DefaultExecTimeoutMs
	}
	req.TimeoutMs = timeoutMs

	deadline := time.Duration(timeoutMs)*time.Millisecond + 10*time.Second
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	sawExit := false
	agent := agentclient.New(rec.AgentAddr)
	err := agent.ExecStream(callCtx, req, func(chunk protocol.StreamChunk) {
		if chunk.Channel == protocol.ChannelExit {
			sawExit = true
		}
		onChunk(chunk)
	})
	m.registry.Touch(sessionID, time.Now().UTC())

	if !sawExit {
		onChunk(protocol.StreamChunk{Channel: protocol.ChannelExit, ExitCode: protocol.ExitSentinel, TimedOut: false})
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAgentUnreachable, err)
	}
	return nil
}

// WriteFile forwards a write to the session's agent.
func (m *Manager) WriteFile(ctx context.Context, sessionID string, req protocol.WriteFileRequest) (*protocol.WriteFileResponse, error) {
	rec, ok := m.registry.Get(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	agent := agentclient.New(rec.AgentAddr)
	resp, err := agent.WriteFile(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentUnreachable, err)
	}
	if !resp.Success {
		return resp, fmt.Errorf("%w: %s", ErrFileError, resp.Error)
	}
	m.registry.Touch(sessionID, time.Now().UTC())
	return resp, nil
}

// ReadFile forwards a read to the session's agent.
func (m *Manager) ReadFile(ctx context.Context, sessionID string, req protocol.ReadFileRequest) (*protocol.ReadFileResponse, error) {
	rec, ok := m.registry.Get(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	agent := agentclient.New(rec.AgentAddr)
	resp, err := agent.ReadFile(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentUnreachable, err)
	}
	if !resp.Success {
		return resp, fmt.Errorf("%w: %s", ErrFileError, resp.Error)
	}
	m.registry.Touch(sessionID, time.Now().UTC())
	return resp, nil
}

// PipInstall is sugar over Exec, rejected synchronously unless the
// session's allowlist already grants both package-index hosts.
func (m *Manager) PipInstall(ctx context.Context, sessionID string, packages []string) (*protocol.ExecResponse, error) {
	rec, ok := m.registry.Get(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	if !hasHost(rec.AllowedHosts, "pypi.org") || !hasHost(rec.AllowedHosts, "files.pythonhosted.org") {
		return nil, fmt.Errorf("%w: pip install requires pypi.org and files.pythonhosted.org", ErrAllowlistViolation)
	}

	agent := agentclient.New(rec.AgentAddr)
	resp, err := agent.PipInstall(ctx, protocol.PipInstallRequest{Packages: packages})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentUnreachable, err)
	}
	m.registry.Touch(sessionID, time.Now().UTC())
	return resp, nil
}

// ListTenantWorkspaces lists every tenant with persisted workspace state.
func (m *Manager) ListTenantWorkspaces() ([]workspace.Info, error) {
	if !m.cfg.WorkspacesEnabled() {
		return nil, ErrWorkspacesDisabled
	}
	return m.workspace.List()
}

// DeleteTenantWorkspace permanently removes a tenant's persisted state.
func (m *Manager) DeleteTenantWorkspace(tenantID string) error {
	if !m.cfg.WorkspacesEnabled() {
		return ErrWorkspacesDisabled
	}
	return m.workspace.Delete(tenantID)
}

// Registry exposes the session registry to the reaper.
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// Docker exposes the docker client to the reaper for orphan recovery.
func (m *Manager) Docker() *docker.Client {
	return m.docker
}

func (m *Manager) isImageAllowed(image string) bool {
	if len(m.cfg.AllowedImages) == 0 {
		return true
	}
	for _, allowed := range m.cfg.AllowedImages {
		if allowed == image {
			return true
		}
	}
	return false
}

func hasHost(hosts []string, target string) bool {
	for _, h := range hosts {
		if h == target {
			return true
		}
	}
	return false
}
