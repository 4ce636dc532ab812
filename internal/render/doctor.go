package render

import (
	"context"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/spearsim/scenebatch/internal/logging"
)

const defaultCacheTTL = 5 * time.Minute

// ToolInfo is the availability of one executable.
type ToolInfo struct {
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// Capabilities reports which tools this host can run.
type Capabilities struct {
	Renderer  ToolInfo  `json:"renderer"`
	Convolver ToolInfo  `json:"convolver"`
	ProbedAt  time.Time `json:"probed_at"`
}

// CanRender reports whether the renderer is installed.
func (c *Capabilities) CanRender() bool { return c.Renderer.Available }

// CanConvolve reports whether the convolver is installed.
func (c *Capabilities) CanConvolve() bool { return c.Convolver.Available }

// Prober inspects the host for the external tools.
type Prober interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// LookPathProber resolves the executables on PATH.
type LookPathProber struct {
	Renderer  string
	Convolver string
}

func (p LookPathProber) Probe(context.Context) (*Capabilities, error) {
	return &Capabilities{
		Renderer:  lookup(p.Renderer),
		Convolver: lookup(p.Convolver),
		ProbedAt:  time.Now(),
	}, nil
}

func lookup(name string) ToolInfo {
	info := ToolInfo{Name: name}
	path, err := exec.LookPath(name)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.Path = path
	info.Available = true
	return info
}

// CachedDoctor caches probe results with a TTL.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedDoctor(prober Prober, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logging.OrDiscard(logger),
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

// Refresh forces a new probe. A failed probe falls back to the stale cache.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.Probe(ctx)
	if err != nil {
		d.logger.Warn("doctor probe failed", "error", err)
		if d.cached != nil {
			return d.cached, nil
		}
		return nil, err
	}

	d.logger.Info("doctor probe complete",
		"renderer", caps.Renderer.Available,
		"convolver", caps.Convolver.Available,
	)
	d.cached = caps
	return caps, nil
}
