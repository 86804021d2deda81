package api

import (
	"context"

	"github.com/p-arndt/sandkasten/internal/session"
	"github.com/p-arndt/sandkasten/internal/workspace"
	"github.com/p-arndt/sandkasten/protocol"
)

// fakeManager is a hand-rolled stand-in for SessionManager, configured
// per test via its function fields.
type fakeManager struct {
	createFn     func(ctx context.Context, opts session.CreateOpts) (*session.Info, error)
	getFn        func(id string) (*session.Info, error)
	listFn       func() []session.Info
	destroyFn    func(ctx context.Context, id string) (bool, error)
	execFn       func(ctx context.Context, id string, req protocol.ExecRequest) (*protocol.ExecResponse, error)
	execStreamFn func(ctx context.Context, id string, req protocol.ExecRequest, onChunk func(protocol.StreamChunk)) error
	writeFileFn  func(ctx context.Context, id string, req protocol.WriteFileRequest) (*protocol.WriteFileResponse, error)
	readFileFn   func(ctx context.Context, id string, req protocol.ReadFileRequest) (*protocol.ReadFileResponse, error)
	pipInstallFn func(ctx context.Context, id string, packages []string) (*protocol.ExecResponse, error)
	listTenantsFn  func() ([]workspace.Info, error)
	deleteTenantFn func(id string) error
}

func (f *fakeManager) Create(ctx context.Context, opts session.CreateOpts) (*session.Info, error) {
	return f.createFn(ctx, opts)
}

func (f *fakeManager) Get(id string) (*session.Info, error) { return f.getFn(id) }

func (f *fakeManager) List() []session.Info { return f.listFn() }

func (f *fakeManager) Destroy(ctx context.Context, id string) (bool, error) {
	return f.destroyFn(ctx, id)
}

func (f *fakeManager) Exec(ctx context.Context, id string, req protocol.ExecRequest) (*protocol.ExecResponse, error) {
	return f.execFn(ctx, id, req)
}

func (f *fakeManager) ExecStream(ctx context.Context, id string, req protocol.ExecRequest, onChunk func(protocol.StreamChunk)) error {
	return f.execStreamFn(ctx, id, req, onChunk)
}

func (f *fakeManager) WriteFile(ctx context.Context, id string, req protocol.WriteFileRequest) (*protocol.WriteFileResponse, error) {
	return f.writeFileFn(ctx, id, req)
}

func (f *fakeManager) ReadFile(ctx context.Context, id string, req protocol.ReadFileRequest) (*protocol.ReadFileResponse, error) {
	return f.readFileFn(ctx, id, req)
}

func (f *fakeManager) PipInstall(ctx context.Context, id string, packages []string) (*protocol.ExecResponse, error) {
	return f.pipInstallFn(ctx, id, packages)
}

func (f *fakeManager) ListTenantWorkspaces() ([]workspace.Info, error) { return f.listTenantsFn() }

func (f *fakeManager) DeleteTenantWorkspace(id string) error { return f.deleteTenantFn(id) }
