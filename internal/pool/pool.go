// Package pool optionally pre-warms containers so session creation can
// skip the startup latency of a cold container for a fixed set of
// images. Pooling is off by default; the manager falls back to creating
// containers on demand whenever a pool is empty or not configured for
// the requested image, and for every session that needs a tenant
// workspace bind mount.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/p-arndt/sandkasten/internal/config"
	"github.com/p-arndt/sandkasten/internal/docker"
)

// Pool maintains pre-warmed, already-started containers ready for
// handoff to a new session. Their agents are not health-checked here;
// the manager polls /health after Take, as for a fresh container.
type Pool struct {
	cfg    *config.Config
	docker *docker.Client
	logger *slog.Logger

	mu      sync.RWMutex
	pools   map[string]chan *docker.CreateResult // image -> ready containers
	running bool
	stopCh  chan struct{}
}

// New builds a Pool. It does nothing until Start is called.
func New(cfg *config.Config, dc *docker.Client, logger *slog.Logger) *Pool {
	return &Pool{
		cfg:    cfg,
		docker: dc,
		logger: logger,
		pools:  make(map[string]chan *docker.CreateResult),
		stopCh: make(chan struct{}),
	}
}

// Start begins pre-warming containers for each configured image in the
// background. A no-op if pooling is disabled in configuration.
func (p *Pool) Start(ctx context.Context) {
	if !p.cfg.Pool.Enabled {
		return
	}
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	for image, size := range p.cfg.Pool.Images {
		p.pools[image] = make(chan *docker.CreateResult, size)
	}
	p.mu.Unlock()

	for image, size := range p.cfg.Pool.Images {
		go p.refillWorker(ctx, image, size)
	}
}

// Stop tears down every container still sitting idle in the pool.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	pools := p.pools
	p.pools = make(map[string]chan *docker.CreateResult)
	p.mu.Unlock()

	for image, ch := range pools {
		close(ch)
		for result := range ch {
			if err := p.docker.RemoveContainer(ctx, result.ContainerID); err != nil {
				p.logger.Warn("pool cleanup failed to remove container", "image", image, "container", result.ContainerID, "error", err)
			}
		}
	}
}

// Take returns a pre-warmed container for image if one is immediately
// available. The caller owns it from this point and must remove it on
// any subsequent failure, same as a freshly created container.
func (p *Pool) Take(ctx context.Context, image string) (*docker.CreateResult, bool) {
	p.mu.RLock()
	ch, ok := p.pools[image]
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}
	select {
	case result, ok := <-ch:
		return result, ok
	default:
		return nil, false
	}
}

func (p *Pool) refillWorker(ctx context.Context, image string, target int) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	p.refill(ctx, image, target)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.refill(ctx, image, target)
		}
	}
}

func (p *Pool) refill(ctx context.Context, image string, target int) {
	p.mu.RLock()
	ch := p.pools[image]
	p.mu.RUnlock()
	if ch == nil {
		return
	}

	needed := target - len(ch)
	for i := 0; i < needed; i++ {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		result, err := p.docker.CreateContainer(ctx, docker.CreateOpts{
			SessionID: "pool-" + uuid.New().String(),
			Image:     image,
			Runtime:   p.cfg.SandboxRuntime,
			Defaults:  p.cfg.Defaults,
			Labels:    map[string]string{"sandkasten.pool": "true"},
		})
		if err != nil {
			p.logger.Error("pool refill failed", "image", image, "error", err)
			time.Sleep(2 * time.Second)
			continue
		}

		select {
		case ch <- result:
		default:
			p.docker.RemoveContainer(ctx, result.ContainerID)
		}
	}
}
