package storyview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/onnwee/storyviews/internal/identity"
	"github.com/onnwee/storyviews/internal/stats"
	"github.com/onnwee/storyviews/internal/tracing"
	"github.com/onnwee/storyviews/internal/validate"
	"go.opentelemetry.io/otel/attribute"
)

// IdentityResolver supplies the visitor identity for a page.
type IdentityResolver interface {
	Resolve(ctx context.Context) (*identity.Identity, error)
}

// Outcome is the result of a commit.
type Outcome string

// Commit outcomes.
const (
	OutcomeInserted         Outcome = "inserted"
	OutcomeMerged           Outcome = "merged"
	OutcomeBelowThreshold   Outcome = "below_threshold"
	OutcomeAlreadyCommitted Outcome = "already_committed"
	OutcomeNoSession        Outcome = "no_session"
	OutcomeFailed           Outcome = "failed"
)

// CommitResult describes what a commit did.
type CommitResult struct {
	Outcome  Outcome
	Record   *Record
	Progress Progress
}

// Written reports whether the commit reached storage.
func (r CommitResult) Written() bool {
	return r.Outcome == OutcomeInserted || r.Outcome == OutcomeMerged
}

// ControllerOptions configures a Controller. Zero values get defaults.
type ControllerOptions struct {
	Policy  Policy
	Logger  *slog.Logger
	Metrics *Metrics
	Writes  *stats.WriteStats
	Now     func() time.Time
	NewID   func() string
}

// Controller owns the view sessions of one page lifetime.
type Controller struct {
	resolver IdentityResolver
	repo     Repository
	policy   Policy
	logger   *slog.Logger
	metrics  *Metrics
	writes   *stats.WriteStats
	now      func() time.Time
	newID    func() string

	mu        sync.Mutex
	byStory   map[string]*Session // active sessions only
	byID      map[string]*Session // active sessions only
	committed map[string]struct{}
}

// NewController creates a Controller.
func NewController(resolver IdentityResolver, repo Repository, opts ControllerOptions) *Controller {
	c := &Controller{
		resolver:  resolver,
		repo:      repo,
		policy:    opts.Policy,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		writes:    opts.Writes,
		now:       opts.Now,
		newID:     opts.NewID,
		byStory:   make(map[string]*Session),
		byID:      make(map[string]*Session),
		committed: make(map[string]struct{}),
	}
	if c.policy == (Policy{}) {
		c.policy = DefaultPolicy()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.writes == nil {
		c.writes = stats.NewWriteStats()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = func() string { return uuid.New().String() }
	}
	return c
}

// Begin starts a session for storyID, or returns the active one if the story
// is already being tracked. A nil session with a *TrackingError means
// tracking is skipped; playback must continue regardless.
func (c *Controller) Begin(ctx context.Context, storyID string, media Media) (*Session, error) {
	if storyID == "" {
		return nil, c.fail("begin", KindInvalid, ErrEmptyStoryID)
	}
	if _, err := validate.StoryID(storyID); err != nil {
		return nil, c.fail("begin", KindInvalid, fmt.Errorf("%w: %v", ErrInvalidStoryID, err))
	}
	if err := media.Validate(); err != nil {
		return nil, c.fail("begin", KindInvalid, err)
	}
	if s := c.active(storyID); s != nil {
		return s, nil
	}
	// The story is on screen from here; identity and the gateway read do
	// not count against watch time.
	start := c.now()

	ident, err := c.resolver.Resolve(ctx)
	if err != nil {
		return nil, c.fail("begin", KindIdentity, err)
	}

	existing, err := c.repo.FindView(ctx, storyID, ident.Fingerprint)
	if err != nil && !errors.Is(err, ErrViewNotFound) {
		return nil, c.fail("begin", KindGateway, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent Begin for the same story may have finished first.
	if s, ok := c.byStory[storyID]; ok && s.State() == StateActive {
		return s, nil
	}
	s := newSession(c.newID(), storyID, media, ident, existing, start)
	c.byStory[storyID] = s
	c.byID[s.id] = s
	c.metrics.IncSessionsBegun(media.Type)
	return s, nil
}

// RecordEvent appends a playback event to an active session.
func (c *Controller) RecordEvent(s *Session, e PlaybackEvent) error {
	if s == nil {
		return ErrSessionNotFound
	}
	if e.At.IsZero() {
		e.At = c.now()
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if e.SessionID == "" {
		e.SessionID = s.id
	}
	return s.record(e)
}

// Commit finalizes s. It may be called any number of times and from any
// number of goroutines; at most one call writes. Eligibility follows the
// controller's Policy.
func (c *Controller) Commit(ctx context.Context, s *Session, reason ExitReason) (res CommitResult, err error) {
	if s == nil {
		return CommitResult{Outcome: OutcomeNoSession}, nil
	}

	ctx, endSpan := tracing.StartSpan(ctx, "storyview.commit")
	defer func() {
		tracing.SetAttributes(ctx,
			attribute.String("story.id", s.storyID),
			attribute.String("storyview.exit_reason", string(reason)),
			attribute.String("storyview.outcome", string(res.Outcome)))
		endSpan(err)
	}()
	if !reason.Valid() {
		return CommitResult{Outcome: OutcomeFailed}, c.fail("commit", KindInvalid,
			fmt.Errorf("%w: %q", ErrInvalidExitReason, reason))
	}

	events, ok := s.commit()
	if !ok {
		c.metrics.IncCommit(OutcomeAlreadyCommitted)
		return CommitResult{Outcome: OutcomeAlreadyCommitted}, nil
	}
	c.release(s)
	// The session is consumed; a client hanging up must not abort the write.
	ctx = context.WithoutCancel(ctx)

	now := c.now()
	progress := c.policy.Progress(s.startedAt, now, s.media)
	c.metrics.ObserveWatchTime(s.media.Type, float64(progress.WatchTimeMs)/1000)

	if !c.policy.ShouldCount(progress, s.media.Type) {
		c.metrics.IncCommit(OutcomeBelowThreshold)
		c.logger.Debug("view below threshold, not counted",
			slog.String("story_id", s.storyID),
			slog.String("session_id", s.id),
			slog.Int64("watch_time_ms", progress.WatchTimeMs))
		return CommitResult{Outcome: OutcomeBelowThreshold, Progress: progress}, nil
	}

	if !hasExit(events) {
		events = append(events, PlaybackEvent{Kind: EventExit, At: now, ExitReason: reason, SessionID: s.id})
	}
	contrib := Contribution{
		SessionID:        s.id,
		WatchTimeMs:      progress.WatchTimeMs,
		ViewedPercentage: progress.Percentage(),
		Completed:        progress.Completed,
		ExitReason:       reason,
		Events:           events,
		EndedAt:          now,
	}

	rec, outcome, err := c.persist(ctx, s, contrib)
	if err != nil {
		c.metrics.IncCommit(OutcomeFailed)
		c.logger.Error("failed to persist story view",
			slog.String("story_id", s.storyID),
			slog.String("session_id", s.id),
			slog.String("error", err.Error()))
		return CommitResult{Outcome: OutcomeFailed, Progress: progress}, c.fail("commit", KindGateway, err)
	}
	c.metrics.IncCommit(outcome)
	return CommitResult{Outcome: outcome, Record: rec, Progress: progress}, nil
}

// persist inserts or merges the contribution. A lost insert race is
// resolved by merging into the row that won.
func (c *Controller) persist(ctx context.Context, s *Session, contrib Contribution) (*Record, Outcome, error) {
	fp := s.identity.Fingerprint
	if s.existing != nil {
		rec, err := c.repo.MergeView(ctx, s.storyID, fp, contrib)
		if err == nil {
			c.writes.RecordMerge()
			return rec, OutcomeMerged, nil
		}
		if !errors.Is(err, ErrViewNotFound) {
			return nil, OutcomeFailed, err
		}
		// Deleted since begin; start over with an insert.
	}

	rec := NewRecord(c.newID(), s.storyID, s.media.Type, s.identity, contrib)
	err := c.repo.InsertView(ctx, rec)
	if err == nil {
		c.writes.RecordInsert()
		return rec, OutcomeInserted, nil
	}
	if !errors.Is(err, ErrDuplicateView) {
		return nil, OutcomeFailed, err
	}

	c.writes.RecordConflict()
	c.metrics.IncConflict()
	tracing.AddEvent(ctx, "storyview.insert_conflict", attribute.String("story.id", s.storyID))
	c.logger.Info("concurrent insert for story view, merging",
		slog.String("story_id", s.storyID),
		slog.String("session_id", s.id))
	merged, err := c.repo.MergeView(ctx, s.storyID, fp, contrib)
	if err != nil {
		return nil, OutcomeFailed, fmt.Errorf("merge after conflict: %w", err)
	}
	c.writes.RecordMerge()
	return merged, OutcomeMerged, nil
}

// Teardown commits every active session with reason. It is used when the
// playback surface goes away without committing.
func (c *Controller) Teardown(ctx context.Context, reason ExitReason) ([]CommitResult, error) {
	c.mu.Lock()
	active := make([]*Session, 0, len(c.byStory))
	for _, s := range c.byStory {
		active = append(active, s)
	}
	c.mu.Unlock()

	results := make([]CommitResult, 0, len(active))
	var errs []error
	for _, s := range active {
		res, err := c.Commit(ctx, s, reason)
		if err != nil {
			errs = append(errs, err)
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// Lookup returns the session with the given id. Committed sessions are
// only remembered by id and come back as an empty committed session, so a
// repeated commit still reports OutcomeAlreadyCommitted.
func (c *Controller) Lookup(sessionID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.byID[sessionID]; ok {
		return s, nil
	}
	if _, ok := c.committed[sessionID]; ok {
		return committedSession(sessionID), nil
	}
	return nil, ErrSessionNotFound
}

// ActiveCount returns the number of uncommitted sessions.
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byStory)
}

func (c *Controller) active(storyID string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.byStory[storyID]; ok && s.State() == StateActive {
		return s
	}
	return nil
}

func (c *Controller) release(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byStory[s.storyID] == s {
		delete(c.byStory, s.storyID)
	}
	if c.byID[s.id] == s {
		delete(c.byID, s.id)
		c.committed[s.id] = struct{}{}
	}
}

func (c *Controller) fail(op string, kind ErrorKind, err error) error {
	c.metrics.IncTrackingError(kind)
	if kind != KindInvalid {
		c.logger.Warn("story view tracking skipped",
			slog.String("op", op),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
	}
	return trackingErr(kind, op, err)
}

func hasExit(events []PlaybackEvent) bool {
	for _, e := range events {
		if e.Kind == EventExit {
			return true
		}
	}
	return false
}
