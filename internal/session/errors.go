package session

import "errors"

// Sentinel errors the API layer maps to RPC status codes: not-found,
// deadline-exceeded, unavailable, and internal.
var (
	// ErrNotFound means the session id is absent from the registry.
	ErrNotFound = errors.New("session not found")

	// ErrSandboxStartup means the environment did not become ready
	// within the startup deadline; it has already been torn down by
	// the time this is returned.
	ErrSandboxStartup = errors.New("sandbox did not become ready")

	// ErrAgentUnreachable means the manager could not reach a live
	// session's agent. Exec retries once after a short backoff before
	// returning it; ExecStream, WriteFile, ReadFile and PipInstall return
	// it on the first failure, without a retry.
	ErrAgentUnreachable = errors.New("agent unreachable")

	// ErrFileError wraps a file operation failure reported by the
	// agent (invalid path, permission denied, missing file).
	ErrFileError = errors.New("file operation failed")

	// ErrAllowlistViolation means a requested operation needs hosts
	// the session's allowlist does not grant.
	ErrAllowlistViolation = errors.New("allowlist does not permit this operation")

	// ErrImageNotAllowed means the requested image is not on the
	// configured allowlist.
	ErrImageNotAllowed = errors.New("image not allowed")

	// ErrWorkspacesDisabled means a tenant-scoped operation was
	// requested but STORAGE_PATH is unset.
	ErrWorkspacesDisabled = errors.New("tenant workspaces disabled")
)
