// Package workspace manages per-tenant persistent storage directories on
// the manager host, bind-mounted into each of that tenant's sessions.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// Manager creates and tears down tenant workspace directory trees under a
// single storage root.
type Manager struct {
	root string
}

// Info describes a tenant's on-disk workspace.
type Info struct {
	TenantID      string    `json:"tenant_id"`
	WorkspacePath string    `json:"workspace_path"`
	OutputsPath   string    `json:"outputs_path"`
	CreatedAt     time.Time `json:"created_at"`
}

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

// NewManager builds a Manager rooted at storagePath. A Manager built with
// an empty root refuses every operation — callers check WorkspacesEnabled
// on the config before constructing one.
func NewManager(storagePath string) *Manager {
	return &Manager{root: storagePath}
}

// ValidateTenantID reports whether id is safe to use as a path component.
func ValidateTenantID(id string) error {
	if !tenantIDPattern.MatchString(id) {
		return fmt.Errorf("invalid tenant id: %q", id)
	}
	return nil
}

func (m *Manager) tenantDir(tenantID string) string {
	return filepath.Join(m.root, tenantID)
}

// WorkspacePath returns the host path bind-mounted at /workspace for tenantID.
func (m *Manager) WorkspacePath(tenantID string) string {
	return filepath.Join(m.tenantDir(tenantID), "workspace")
}

// OutputsPath returns the host path bind-mounted at /mnt/user-data/outputs
// for tenantID.
func (m *Manager) OutputsPath(tenantID string) string {
	return filepath.Join(m.tenantDir(tenantID), "outputs")
}

// Ensure creates the tenant's workspace and outputs directories if absent.
// Safe to call repeatedly; existing content is left untouched — tenant
// workspace state is shared by all live sessions of that tenant and
// survives session destruction (spec's persisted-state model).
func (m *Manager) Ensure(tenantID string) error {
	if m.root == "" {
		return fmt.Errorf("tenant storage disabled: STORAGE_PATH not set")
	}
	if err := ValidateTenantID(tenantID); err != nil {
		return err
	}
	if err := os.MkdirAll(m.WorkspacePath(tenantID), 0o755); err != nil {
		return fmt.Errorf("ensure workspace dir: %w", err)
	}
	if err := os.MkdirAll(m.OutputsPath(tenantID), 0o755); err != nil {
		return fmt.Errorf("ensure outputs dir: %w", err)
	}
	return nil
}

// List returns every tenant with an existing workspace directory.
func (m *Manager) List() ([]Info, error) {
	if m.root == "" {
		return nil, fmt.Errorf("tenant storage disabled: STORAGE_PATH not set")
	}
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	var out []Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			TenantID:      e.Name(),
			WorkspacePath: m.WorkspacePath(e.Name()),
			OutputsPath:   m.OutputsPath(e.Name()),
			CreatedAt:     info.ModTime(),
		})
	}
	return out, nil
}

// Delete removes a tenant's entire workspace tree. Irreversible — callers
// are expected to confirm with the operator before calling this.
func (m *Manager) Delete(tenantID string) error {
	if m.root == "" {
		return fmt.Errorf("tenant storage disabled: STORAGE_PATH not set")
	}
	if err := ValidateTenantID(tenantID); err != nil {
		return err
	}
	return os.RemoveAll(m.tenantDir(tenantID))
}
