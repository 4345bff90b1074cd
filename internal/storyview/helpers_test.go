package storyview

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/storyviews/internal/geo"
	"github.com/onnwee/storyviews/internal/identity"
)

var errUnavailable = errors.New("connection refused")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type staticResolver struct {
	id  *identity.Identity
	err error
}

func (r staticResolver) Resolve(ctx context.Context) (*identity.Identity, error) {
	return r.id, r.err
}

func testIdentity(fp, country string) *identity.Identity {
	id := &identity.Identity{
		Fingerprint:      fp,
		DeviceType:       identity.DeviceMobile,
		Browser:          "Safari",
		OS:               "iPhone OS",
		Platform:         "iPhone",
		ScreenResolution: "390x844",
		Language:         "en-US",
		Timezone:         "Europe/Berlin",
		CanvasHash:       "c4nv4s",
		WebGLHash:        identity.Unavailable,
		AudioHash:        identity.Unavailable,
		IP:               "203.0.113.7",
	}
	if country != "" {
		id.Location = &geo.Location{Country: country, City: "Berlin", Geohash: "u33d"}
	}
	return id
}

// countingRepo wraps the in-memory repository and counts writes.
type countingRepo struct {
	*InMemoryRepository
	inserts atomic.Int32
	merges  atomic.Int32
}

func newCountingRepo() *countingRepo {
	return &countingRepo{InMemoryRepository: NewInMemoryRepository()}
}

func (r *countingRepo) InsertView(ctx context.Context, rec *Record) error {
	r.inserts.Add(1)
	return r.InMemoryRepository.InsertView(ctx, rec)
}

func (r *countingRepo) MergeView(ctx context.Context, storyID, fp string, c Contribution) (*Record, error) {
	r.merges.Add(1)
	return r.InMemoryRepository.MergeView(ctx, storyID, fp, c)
}

func (r *countingRepo) writes() int32 { return r.inserts.Load() + r.merges.Load() }

// failingRepo fails the operations whose error field is set.
type failingRepo struct {
	*InMemoryRepository
	findErr   error
	insertErr error
}

func (r *failingRepo) FindView(ctx context.Context, storyID, fp string) (*Record, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.InMemoryRepository.FindView(ctx, storyID, fp)
}

func (r *failingRepo) InsertView(ctx context.Context, rec *Record) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	return r.InMemoryRepository.InsertView(ctx, rec)
}

// slowResolver models identity resolution that takes wall time, e.g. a
// geolocation fallback chain, by advancing the fake clock.
type slowResolver struct {
	id    *identity.Identity
	clock *fakeClock
	delay time.Duration
}

func (r slowResolver) Resolve(ctx context.Context) (*identity.Identity, error) {
	r.clock.Advance(r.delay)
	return r.id, nil
}

// ctxRepo fails writes whose context is done, as database/sql does.
type ctxRepo struct {
	*InMemoryRepository
}

func (r ctxRepo) InsertView(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.InMemoryRepository.InsertView(ctx, rec)
}

func newTestController(repo Repository, ident *identity.Identity, clock *fakeClock) *Controller {
	return NewController(staticResolver{id: ident}, repo, ControllerOptions{Now: clock.Now})
}

var (
	imageMedia = Media{Type: MediaImage, DurationMs: 5000}
	videoMedia = Media{Type: MediaVideo, DurationMs: 15000}
)
