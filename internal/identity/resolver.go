package identity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/storyviews/internal/geo"
	"golang.org/x/sync/singleflight"
)

// Locator resolves an IP address to a coarse location.
type Locator interface {
	Locate(ctx context.Context, ip string) (*geo.Location, error)
}

// Resolver produces the visitor identity for one page lifetime. The first
// Resolve computes it; callers arriving while that computation is in flight
// share its result; later callers get the cached value.
type Resolver struct {
	signals Signals
	locator Locator
	logger  *slog.Logger
	now     func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	resolved *Identity
}

// NewResolver creates a resolver for the given signals. locator may be nil,
// in which case identities carry no location.
func NewResolver(signals Signals, locator Locator, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		signals: signals,
		locator: locator,
		logger:  logger,
		now:     time.Now,
	}
}

// Resolve returns the cached identity, computing it on first use.
func (r *Resolver) Resolve(ctx context.Context) (*Identity, error) {
	if id := r.cached(); id != nil {
		return id, nil
	}

	v, err, _ := r.group.Do("identity", func() (interface{}, error) {
		if id := r.cached(); id != nil {
			return id, nil
		}
		// The result is cached for the page lifetime, so it must not depend
		// on whether the first caller stayed connected.
		id, err := r.generate(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.resolved = id
		r.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Identity), nil
}

// Reset drops the cached identity so the next Resolve recomputes it.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.resolved = nil
	r.mu.Unlock()
}

func (r *Resolver) cached() *Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolved
}

func (r *Resolver) generate(ctx context.Context) (*Identity, error) {
	if r.signals.Empty() {
		return nil, ErrNoSignals
	}

	d := parseDevice(r.signals)
	id := &Identity{
		Fingerprint:      fingerprint(r.signals, d),
		DeviceType:       d.kind,
		Browser:          d.browser,
		BrowserVersion:   d.browserVersion,
		OS:               d.os,
		Platform:         d.platform,
		ScreenResolution: screenResolution(r.signals),
		Language:         orUnavailable(r.signals.Language),
		Timezone:         orUnavailable(r.signals.Timezone),
		CanvasHash:       orUnavailable(r.signals.CanvasHash),
		WebGLHash:        webGLHash(r.signals),
		AudioHash:        orUnavailable(r.signals.AudioHash),
		IP:               r.signals.IP,
		ResolvedAt:       r.now(),
	}

	if r.locator != nil && r.signals.IP != "" {
		loc, err := r.locator.Locate(ctx, r.signals.IP)
		if err != nil {
			r.logger.Debug("geolocation unavailable, continuing without location",
				slog.String("error", err.Error()))
		} else {
			id.Location = loc
		}
	}

	return id, nil
}
