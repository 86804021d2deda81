// Package docker wraps the Docker Engine API client with the sandbox
// manager's container lifecycle: creating a session's isolated
// environment, resolving its in-sandbox agent address, and tearing it
// down again.
package docker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
	"github.com/docker/docker/client"
	units "github.com/docker/go-units"

	"github.com/p-arndt/sandkasten/internal/config"
	"github.com/p-arndt/sandkasten/protocol"
)

const labelPrefix = "sandkasten."

// Client wraps the Docker Engine API client. It consumes a container
// runtime (selected per-container via SANDBOX_RUNTIME) rather than
// reimplementing one.
type Client struct {
	docker *client.Client
}

// New builds a Client from the ambient Docker environment
// (DOCKER_HOST, etc.), matching the host's negotiated API version.
func New() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Client{docker: cli}, nil
}

func (c *Client) Close() error {
	return c.docker.Close()
}

// Ping verifies the Docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.docker.Ping(ctx)
	return err
}

// CreateOpts configures a new sandbox container.
type CreateOpts struct {
	SessionID     string
	Image         string
	Runtime       string // SANDBOX_RUNTIME; empty uses the daemon default
	Defaults      config.Defaults
	TenantID      string // optional; recorded as a container label
	WorkspaceHost string // host path for /workspace; ephemeral tmpfs if empty
	OutputsHost   string // host path for /mnt/user-data/outputs; ephemeral if empty
	SessionToken  string // injected as SESSION_TOKEN
	ProxyURL      string // injected as HTTP_PROXY/HTTPS_PROXY; empty disables
	Labels        map[string]string
}

// CreateResult is the outcome of creating a container: its id and the
// host address its agent is reachable at.
type CreateResult struct {
	ContainerID string
	AgentAddr   string
}

// CreateContainer creates and starts a sandbox container with the fixed
// resource caps, mounts, and environment the manager injects into every
// session.
func (c *Client) CreateContainer(ctx context.Context, opts CreateOpts) (*CreateResult, error) {
	labels := map[string]string{
		labelPrefix + "session_id": opts.SessionID,
		labelPrefix + "managed":    "true",
	}
	for k, v := range opts.Labels {
		labels[k] = v
	}
	if opts.TenantID != "" {
		labels[labelPrefix+"tenant_id"] = opts.TenantID
	}

	resources := container.Resources{
		NanoCPUs:  int64(opts.Defaults.CPULimit * 1e9),
		Memory:    int64(opts.Defaults.MemLimitMB) * units.MiB,
		PidsLimit: int64Ptr(int64(opts.Defaults.PidsLimit)),
	}

	mounts := []mount.Mount{
		{Type: mount.TypeTmpfs, Target: "/tmp", TmpfsOptions: &mount.TmpfsOptions{SizeBytes: 512 * units.MiB}},
		{Type: mount.TypeTmpfs, Target: "/run", TmpfsOptions: &mount.TmpfsOptions{SizeBytes: 16 * units.MiB}},
	}
	if opts.WorkspaceHost != "" {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: opts.WorkspaceHost, Target: "/workspace"})
	} else {
		mounts = append(mounts, mount.Mount{Type: mount.TypeTmpfs, Target: "/workspace", TmpfsOptions: &mount.TmpfsOptions{SizeBytes: 1024 * units.MiB}})
	}
	if opts.OutputsHost != "" {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: opts.OutputsHost, Target: "/mnt/user-data/outputs"})
	} else {
		mounts = append(mounts, mount.Mount{Type: mount.TypeTmpfs, Target: "/mnt/user-data/outputs", TmpfsOptions: &mount.TmpfsOptions{SizeBytes: 512 * units.MiB}})
	}

	agentPort := nat.Port(strconv.Itoa(protocol.AgentPort) + "/tcp")
	hostCfg := &container.HostConfig{
		Resources:      resources,
		AutoRemove:     false,
		ReadonlyRootfs: opts.Defaults.ReadonlyRootfs,
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		Mounts:         mounts,
		Runtime:        opts.Runtime,
		PortBindings: nat.PortMap{
			agentPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}},
		},
	}
	if opts.Defaults.NetworkMode == "none" {
		hostCfg.NetworkMode = "none"
	}

	env := []string{}
	if opts.SessionToken != "" {
		env = append(env, "SESSION_TOKEN="+opts.SessionToken)
	}
	if opts.ProxyURL != "" {
		env = append(env, "HTTP_PROXY="+opts.ProxyURL, "HTTPS_PROXY="+opts.ProxyURL)
	}
	if opts.Defaults.MemLimitMB > 0 {
		// Defense-in-depth alongside the cgroup memory limit above: the
		// agent applies this as its own RLIMIT_AS, which every command
		// it execs inherits through fork/exec.
		memLimitBytes := int64(opts.Defaults.MemLimitMB) * units.MiB
		env = append(env, "MEMORY_LIMIT_BYTES="+strconv.FormatInt(memLimitBytes, 10))
	}

	containerCfg := &container.Config{
		Image:        opts.Image,
		Labels:       labels,
		Env:          env,
		Tty:          false,
		ExposedPorts: nat.PortSet{agentPort: struct{}{}},
	}

	resp, err := c.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "sandkasten-"+opts.SessionID)
	if err != nil {
		return nil, fmt.Errorf("container create: %w", err)
	}

	if err := c.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		c.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("container start: %w", err)
	}

	info, err := c.docker.ContainerInspect(ctx, resp.ID)
	if err != nil {
		c.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("container inspect: %w", err)
	}
	bindings := info.NetworkSettings.Ports[agentPort]
	if len(bindings) == 0 {
		c.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("agent port %s not published", agentPort)
	}

	return &CreateResult{
		ContainerID: resp.ID,
		AgentAddr:   bindings[0].HostIP + ":" + bindings[0].HostPort,
	}, nil
}

// RemoveContainer force-removes a container. The tenant workspace bind
// mount is untouched — it outlives the session by design.
func (c *Client) RemoveContainer(ctx context.Context, containerID string) error {
	err := c.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

// ContainerInfo holds basic info about a running sandbox container,
// enough for the orphan-recovery reconciliation pass.
type ContainerInfo struct {
	ContainerID string
	SessionID   string
}

// ListSandboxContainers returns all containers carrying the manager's
// well-known marker label, used by orphan recovery on startup.
func (c *Client) ListSandboxContainers(ctx context.Context) ([]ContainerInfo, error) {
	f := filters.NewArgs()
	f.Add("label", labelPrefix+"managed=true")

	containers, err := c.docker.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}

	var result []ContainerInfo
	for _, ctr := range containers {
		sessionID := ctr.Labels[labelPrefix+"session_id"]
		if sessionID == "" {
			continue
		}
		result = append(result, ContainerInfo{ContainerID: ctr.ID, SessionID: sessionID})
	}
	return result, nil
}

// IsRunning reports whether containerID is currently running.
func (c *Client) IsRunning(ctx context.Context, containerID string) (bool, error) {
	info, err := c.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return info.State.Running, nil
}

func int64Ptr(v int64) *int64 { return &v }
