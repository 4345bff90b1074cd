package storyview

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/onnwee/storyviews/internal/identity"
	"github.com/onnwee/storyviews/internal/jobs"
	"github.com/onnwee/storyviews/internal/stats"
)

// DefaultIdleTimeout is how long a page may go without requests before the
// sweeper commits its sessions with ExitIdleTimeout.
const DefaultIdleTimeout = 5 * time.Minute

// Page is one page lifetime: a cached identity and the sessions opened
// under it.
type Page struct {
	ID         string
	Controller *Controller
	Resolver   *identity.Resolver
	OpenedAt   time.Time

	lastSeen atomic.Int64 // unix nanos
}

func (p *Page) touch(now time.Time) { p.lastSeen.Store(now.UnixNano()) }

// LastSeen returns the time of the last request for the page.
func (p *Page) LastSeen() time.Time { return time.Unix(0, p.lastSeen.Load()) }

// RegistryConfig configures a PageRegistry.
type RegistryConfig struct {
	Repository Repository
	Locator    identity.Locator // optional
	Policy     Policy
	Metrics    *Metrics
	Writes     *stats.WriteStats
	Logger     *slog.Logger
	Now        func() time.Time
}

// PageRegistry holds the open pages of all connected playback surfaces.
type PageRegistry struct {
	cfg    RegistryConfig
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	pages map[string]*Page
}

// NewPageRegistry creates an empty registry.
func NewPageRegistry(cfg RegistryConfig) *PageRegistry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Writes == nil {
		cfg.Writes = stats.NewWriteStats()
	}
	return &PageRegistry{
		cfg:    cfg,
		logger: cfg.Logger,
		now:    cfg.Now,
		pages:  make(map[string]*Page),
	}
}

// Writes returns the registry-wide write statistics.
func (r *PageRegistry) Writes() *stats.WriteStats { return r.cfg.Writes }

// Open starts a page lifetime for a visitor's signals. Identity is resolved
// lazily by the first Begin.
func (r *PageRegistry) Open(signals identity.Signals) *Page {
	resolver := identity.NewResolver(signals, r.cfg.Locator, r.logger)
	now := r.now()
	p := &Page{
		ID:       uuid.New().String(),
		Resolver: resolver,
		OpenedAt: now,
		Controller: NewController(resolver, r.cfg.Repository, ControllerOptions{
			Policy:  r.cfg.Policy,
			Logger:  r.logger,
			Metrics: r.cfg.Metrics,
			Writes:  r.cfg.Writes,
			Now:     r.cfg.Now,
		}),
	}
	p.touch(now)

	r.mu.Lock()
	r.pages[p.ID] = p
	n := len(r.pages)
	r.mu.Unlock()

	r.cfg.Metrics.SetOpenPages(n)
	return p
}

// Get returns an open page and marks it as seen.
func (r *PageRegistry) Get(pageID string) (*Page, error) {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pages[pageID]
	if !ok {
		return nil, ErrPageNotFound
	}
	p.touch(now)
	return p, nil
}

// Close commits the page's active sessions with reason and forgets it.
func (r *PageRegistry) Close(ctx context.Context, pageID string, reason ExitReason) ([]CommitResult, error) {
	p, ok := r.remove(pageID)
	if !ok {
		return nil, ErrPageNotFound
	}
	return p.Controller.Teardown(ctx, reason)
}

// Sweep closes pages not seen within idle. It returns how many were closed.
func (r *PageRegistry) Sweep(ctx context.Context, idle time.Duration) (int, error) {
	cutoff := r.now().Add(-idle)

	r.mu.RLock()
	var stale []string
	for id, p := range r.pages {
		if p.LastSeen().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	var errs []error
	closed := 0
	for _, id := range stale {
		p, ok := r.removeIf(id, func(p *Page) bool { return p.LastSeen().Before(cutoff) })
		if !ok {
			continue // closed or touched since the scan
		}
		closed++
		if _, err := p.Controller.Teardown(ctx, ExitIdleTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	r.cfg.Metrics.AddPagesSwept(closed)
	return closed, errors.Join(errs...)
}

// Shutdown closes every page with ExitScreenUnload.
func (r *PageRegistry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	pages := r.pages
	r.pages = make(map[string]*Page)
	r.mu.Unlock()
	r.cfg.Metrics.SetOpenPages(0)

	var errs []error
	for _, p := range pages {
		if _, err := p.Controller.Teardown(ctx, ExitScreenUnload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of open pages.
func (r *PageRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pages)
}

func (r *PageRegistry) remove(pageID string) (*Page, bool) {
	return r.removeIf(pageID, nil)
}

// removeIf deletes the page if it exists and match is nil or reports true.
// match runs under the write lock, so no Get can touch the page in between.
func (r *PageRegistry) removeIf(pageID string, match func(*Page) bool) (*Page, bool) {
	r.mu.Lock()
	p, ok := r.pages[pageID]
	if ok && match != nil && !match(p) {
		ok = false
	}
	if ok {
		delete(r.pages, pageID)
	}
	n := len(r.pages)
	r.mu.Unlock()

	if ok {
		r.cfg.Metrics.SetOpenPages(n)
	}
	return p, ok
}

// RunPeriodicSweep closes idle pages every interval until stop is closed.
// It blocks and should typically be run in a goroutine.
//
//	stop := make(chan struct{})
//	go storyview.RunPeriodicSweep(registry, time.Minute, storyview.DefaultIdleTimeout, jobMetrics, stop)
//	// ... on shutdown
//	close(stop)
func RunPeriodicSweep(r *PageRegistry, interval, idle time.Duration, metrics *jobs.Metrics, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := metrics.Track(jobs.JobTypePageSweep, func() error {
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				defer cancel()
				closed, err := r.Sweep(ctx, idle)
				if closed > 0 {
					r.logger.Info("closed idle pages", "closed", closed, "idle", idle)
				}
				return err
			})
			if err != nil {
				r.logger.Error("page sweep failed", "error", err)
			}
		case <-stop:
			r.logger.Info("stopping page sweeper")
			return
		}
	}
}
