package storyview

import (
	"context"
	"sort"
	"sync"
)

// Repository persists view records. Implementations must enforce the
// (story_id, fingerprint) uniqueness and report a lost insert race as
// ErrDuplicateView.
type Repository interface {
	// FindView returns the record for the pair, or ErrViewNotFound.
	FindView(ctx context.Context, storyID, fingerprint string) (*Record, error)

	// InsertView stores a new record. Returns ErrDuplicateView if one
	// already exists for the pair.
	InsertView(ctx context.Context, r *Record) error

	// MergeView applies a contribution to the stored record atomically and
	// returns the result. Returns ErrViewNotFound if there is no record.
	MergeView(ctx context.Context, storyID, fingerprint string, c Contribution) (*Record, error)

	// QueryStats aggregates all records of a story.
	QueryStats(ctx context.Context, storyID string) (*Stats, error)

	// QueryGrouped counts distinct fingerprints per dimension value.
	QueryGrouped(ctx context.Context, storyID string, dim Dimension) ([]GroupCount, error)

	// ListViews returns up to limit records, most recently viewed first.
	ListViews(ctx context.Context, storyID string, limit int) ([]*Record, error)
}

// DefaultListLimit and MaxListLimit bound ListViews.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ClampLimit normalizes a requested list size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex. Records are copied on the way in and out.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record   // story\x00fingerprint -> record
	byStory map[string][]*Record // story -> records
}

// NewInMemoryRepository creates a new in-memory view repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[string]*Record),
		byStory: make(map[string][]*Record),
	}
}

// makeKey joins story id and fingerprint with a null byte so ids containing
// the separator cannot collide.
func makeKey(storyID, fingerprint string) string {
	return storyID + "\x00" + fingerprint
}

// FindView returns a copy of the record for the pair.
func (r *InMemoryRepository) FindView(ctx context.Context, storyID, fingerprint string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[makeKey(storyID, fingerprint)]
	if !ok {
		return nil, ErrViewNotFound
	}
	return rec.Clone(), nil
}

// InsertView stores a copy of rec.
func (r *InMemoryRepository) InsertView(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := makeKey(rec.StoryID, rec.Fingerprint)
	if _, exists := r.records[key]; exists {
		return ErrDuplicateView
	}
	stored := rec.Clone()
	r.records[key] = stored
	r.byStory[rec.StoryID] = append(r.byStory[rec.StoryID], stored)
	return nil
}

// MergeView merges c into the stored record under the write lock.
func (r *InMemoryRepository) MergeView(ctx context.Context, storyID, fingerprint string, c Contribution) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[makeKey(storyID, fingerprint)]
	if !ok {
		return nil, ErrViewNotFound
	}
	*existing = *MergeRecord(existing, c)
	return existing.Clone(), nil
}

// QueryStats aggregates the story's records.
func (r *InMemoryRepository) QueryStats(ctx context.Context, storyID string) (*Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ComputeStats(storyID, r.byStory[storyID]), nil
}

// QueryGrouped groups the story's records by dim.
func (r *InMemoryRepository) QueryGrouped(ctx context.Context, storyID string, dim Dimension) ([]GroupCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return GroupRecords(r.byStory[storyID], dim)
}

// ListViews returns copies of the story's most recent records.
func (r *InMemoryRepository) ListViews(ctx context.Context, storyID string, limit int) ([]*Record, error) {
	r.mu.RLock()
	out := make([]*Record, 0, len(r.byStory[storyID]))
	for _, rec := range r.byStory[storyID] {
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastViewedAt.After(out[j].LastViewedAt)
	})
	if limit = ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
