package storyview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/storyviews/internal/identity"
)

func TestController_BeginReentry(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(NewInMemoryRepository(), testIdentity("fp-1", "Germany"), clock)
	ctx := context.Background()

	first, err := c.Begin(ctx, "story-1", imageMedia)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	clock.Advance(time.Second)
	second, err := c.Begin(ctx, "story-1", imageMedia)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	if first != second {
		t.Error("expected the active session to be returned unchanged")
	}
	if !second.StartedAt().Equal(first.StartedAt()) {
		t.Error("re-entry reset the session start time")
	}
}

func TestController_BeginAfterCommitStartsFreshSession(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(NewInMemoryRepository(), testIdentity("fp-1", ""), clock)
	ctx := context.Background()

	first, _ := c.Begin(ctx, "story-1", imageMedia)
	clock.Advance(2 * time.Second)
	if _, err := c.Commit(ctx, first, ExitManualNext); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	second, err := c.Begin(ctx, "story-1", imageMedia)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if second == first || second.ID() == first.ID() {
		t.Error("expected a new session after commit")
	}
	if second.Existing() == nil {
		t.Error("expected the new session to see the committed record")
	}
}

func TestController_BeginFailuresSkipTracking(t *testing.T) {
	clock := newFakeClock()
	ctx := context.Background()

	tests := []struct {
		name     string
		resolver IdentityResolver
		repo     Repository
		storyID  string
		media    Media
		kind     ErrorKind
	}{
		{
			name:     "identity failure",
			resolver: staticResolver{err: identity.ErrNoSignals},
			repo:     NewInMemoryRepository(),
			storyID:  "story-1",
			media:    imageMedia,
			kind:     KindIdentity,
		},
		{
			name:     "gateway failure",
			resolver: staticResolver{id: testIdentity("fp-1", "")},
			repo:     &failingRepo{InMemoryRepository: NewInMemoryRepository(), findErr: errUnavailable},
			storyID:  "story-1",
			media:    imageMedia,
			kind:     KindGateway,
		},
		{
			name:     "empty story id",
			resolver: staticResolver{id: testIdentity("fp-1", "")},
			repo:     NewInMemoryRepository(),
			media:    imageMedia,
			kind:     KindInvalid,
		},
		{
			name:     "unknown media type",
			resolver: staticResolver{id: testIdentity("fp-1", "")},
			repo:     NewInMemoryRepository(),
			storyID:  "story-1",
			media:    Media{Type: "audio"},
			kind:     KindInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(tt.resolver, tt.repo, ControllerOptions{Now: clock.Now})
			s, err := c.Begin(ctx, tt.storyID, tt.media)
			if s != nil {
				t.Error("expected nil session")
			}
			if !IsTrackingError(err, tt.kind) {
				t.Errorf("Begin() error = %v, want tracking error of kind %q", err, tt.kind)
			}
		})
	}
}

func TestController_CommitTwiceWritesOnce(t *testing.T) {
	clock := newFakeClock()
	repo := newCountingRepo()
	c := newTestController(repo, testIdentity("fp-1", ""), clock)
	ctx := context.Background()

	s, err := c.Begin(ctx, "story-1", imageMedia)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	clock.Advance(3 * time.Second)

	reasons := []ExitReason{ExitCloseButton, ExitScreenUnload}
	results := make([]CommitResult, len(reasons))
	var wg sync.WaitGroup
	for i, reason := range reasons {
		wg.Add(1)
		go func(i int, reason ExitReason) {
			defer wg.Done()
			res, err := c.Commit(ctx, s, reason)
			if err != nil {
				t.Errorf("Commit() error = %v", err)
			}
			results[i] = res
		}(i, reason)
	}
	wg.Wait()

	written := 0
	for _, r := range results {
		if r.Written() {
			written++
		} else if r.Outcome != OutcomeAlreadyCommitted {
			t.Errorf("unexpected outcome %q", r.Outcome)
		}
	}
	if written != 1 {
		t.Errorf("expected exactly 1 written commit, got %d", written)
	}
	if got := repo.writes(); got != 1 {
		t.Errorf("expected 1 persistence write, got %d", got)
	}
	if s.State() != StateCommitted {
		t.Errorf("State() = %v, want committed", s.State())
	}
}

func TestController_CommitBelowThreshold(t *testing.T) {
	clock := newFakeClock()
	repo := newCountingRepo()
	c := newTestController(repo, testIdentity("fp-1", ""), clock)
	ctx := context.Background()

	s, _ := c.Begin(ctx, "story-1", imageMedia)
	clock.Advance(500 * time.Millisecond)

	res, err := c.Commit(ctx, s, ExitManualNext)
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if res.Outcome != OutcomeBelowThreshold || res.Written() {
		t.Errorf("Outcome = %q, want below_threshold", res.Outcome)
	}
	if res.Progress.ViewedFraction != 0.1 {
		t.Errorf("ViewedFraction = %v, want 0.1", res.Progress.ViewedFraction)
	}
	if repo.writes() != 0 {
		t.Errorf("expected no writes, got %d", repo.writes())
	}
}

func TestController_CommitPercentageThreshold(t *testing.T) {
	clock := newFakeClock()
	repo := newCountingRepo()
	c := newTestController(repo, testIdentity("fp-1", ""), clock)
	ctx := context.Background()

	s, _ := c.Begin(ctx, "story-1", Media{Type: MediaImage, DurationMs: 2400})
	clock.Advance(600 * time.Millisecond)

	res, err := c.Commit(ctx, s, ExitManualNext)
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if res.Outcome != OutcomeInserted {
		t.Fatalf("Outcome = %q, want inserted", res.Outcome)
	}
	if res.Record.ViewedPercentage != 25 {
		t.Errorf("ViewedPercentage = %v, want 25", res.Record.ViewedPercentage)
	}
	if res.Record.WatchTimeMs != 600 {
		t.Errorf("WatchTimeMs = %d, want 600", res.Record.WatchTimeMs)
	}
}

func TestController_ClampsOverlongWatch(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(NewInMemoryRepository(), testIdentity("fp-1", ""), clock)
	ctx := context.Background()

	s, _ := c.Begin(ctx, "story-1", imageMedia)
	clock.Advance(8 * time.Second)

	res, err := c.Commit(ctx, s, ExitAutoAdvance)
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if res.Progress.ViewedFraction != 1.0 {
		t.Errorf("ViewedFraction = %v, want 1.0", res.Progress.ViewedFraction)
	}
	if res.Record.ViewedPercentage != 100 || !res.Record.Completed {
		t.Errorf("record = %v%% completed=%v, want 100%% completed", res.Record.ViewedPercentage, res.Record.Completed)
	}
}

func TestController_RevisitMergesMonotonically(t *testing.T) {
	clock := newFakeClock()
	repo := newCountingRepo()
	ctx := context.Background()
	ident := testIdentity("fp-1", "Germany")

	watch := []time.Duration{5 * time.Second, 1500 * time.Millisecond, 3 * time.Second}
	var prev *Record
	for i, d := range watch {
		// Each visit is a fresh page lifetime with the same fingerprint.
		c := newTestController(repo, ident, clock)
		s, err := c.Begin(ctx, "story-1", imageMedia)
		if err != nil {
			t.Fatalf("visit %d: Begin() error = %v", i, err)
		}
		if err := c.RecordEvent(s, PlaybackEvent{Kind: EventEnter}); err != nil {
			t.Fatalf("visit %d: RecordEvent() error = %v", i, err)
		}
		clock.Advance(d)

		res, err := c.Commit(ctx, s, ExitManualNext)
		if err != nil || !res.Written() {
			t.Fatalf("visit %d: Commit() = %+v, %v", i, res, err)
		}
		rec := res.Record
		if rec.SessionCount != i+1 {
			t.Errorf("visit %d: SessionCount = %d, want %d", i, rec.SessionCount, i+1)
		}
		if prev != nil {
			if rec.WatchTimeMs < prev.WatchTimeMs || rec.ViewedPercentage < prev.ViewedPercentage {
				t.Errorf("visit %d: maximums decreased: %d/%v -> %d/%v",
					i, prev.WatchTimeMs, prev.ViewedPercentage, rec.WatchTimeMs, rec.ViewedPercentage)
			}
			if prev.Completed && !rec.Completed {
				t.Errorf("visit %d: completed reverted", i)
			}
			if !rec.FirstViewedAt.Equal(prev.FirstViewedAt) {
				t.Errorf("visit %d: first_viewed_at changed", i)
			}
		}
		prev = rec
	}

	if repo.inserts.Load() != 1 || repo.merges.Load() != 2 {
		t.Errorf("inserts/merges = %d/%d, want 1/2", repo.inserts.Load(), repo.merges.Load())
	}
	if !prev.Completed || prev.WatchTimeMs != 5000 {
		t.Errorf("final record = completed %v, watch %d; want completed, 5000", prev.Completed, prev.WatchTimeMs)
	}
	// enter + synthesized exit per session
	if len(prev.PlaybackEvents) != 6 {
		t.Errorf("PlaybackEvents len = %d, want 6", len(prev.PlaybackEvents))
	}
}

func TestController_ConcurrentTabsMergeOnConflict(t *testing.T) {
	clock := newFakeClock()
	repo := newCountingRepo()
	ctx := context.Background()
	ident := testIdentity("fp-1", "")

	// Both tabs begin before either commits, so neither sees a record.
	tabA := newTestController(repo, ident, clock)
	tabB := newTestController(repo, ident, clock)
	sA, _ := tabA.Begin(ctx, "story-1", imageMedia)
	sB, _ := tabB.Begin(ctx, "story-1", imageMedia)
	if sA.Existing() != nil || sB.Existing() != nil {
		t.Fatal("expected no existing record at begin")
	}
	clock.Advance(2 * time.Second)

	resA, errA := tabA.Commit(ctx, sA, ExitManualNext)
	resB, errB := tabB.Commit(ctx, sB, ExitCloseButton)
	if errA != nil || errB != nil {
		t.Fatalf("Commit() errors = %v, %v", errA, errB)
	}
	if resA.Outcome != OutcomeInserted || resB.Outcome != OutcomeMerged {
		t.Errorf("outcomes = %q, %q; want inserted, merged", resA.Outcome, resB.Outcome)
	}

	views, _ := repo.ListViews(ctx, "story-1", 10)
	if len(views) != 1 {
		t.Fatalf("expected 1 record, got %d", len(views))
	}
	if views[0].SessionCount != 2 {
		t.Errorf("SessionCount = %d, want 2", views[0].SessionCount)
	}
	if views[0].ExitReason != ExitCloseButton {
		t.Errorf("ExitReason = %q, want %q", views[0].ExitReason, ExitCloseButton)
	}
}

func TestController_CommitGatewayFailure(t *testing.T) {
	clock := newFakeClock()
	repo := &failingRepo{InMemoryRepository: NewInMemoryRepository(), insertErr: errUnavailable}
	c := newTestController(repo, testIdentity("fp-1", ""), clock)
	ctx := context.Background()

	s, _ := c.Begin(ctx, "story-1", imageMedia)
	clock.Advance(3 * time.Second)

	res, err := c.Commit(ctx, s, ExitManualNext)
	if res.Written() {
		t.Error("expected no write")
	}
	if !IsTrackingError(err, KindGateway) || !errors.Is(err, errUnavailable) {
		t.Errorf("Commit() error = %v, want gateway tracking error", err)
	}

	again, err := c.Commit(ctx, s, ExitScreenUnload)
	if err != nil || again.Outcome != OutcomeAlreadyCommitted {
		t.Errorf("second Commit() = %q, %v; want already_committed", again.Outcome, err)
	}
}

func TestController_CommitNilSession(t *testing.T) {
	c := newTestController(NewInMemoryRepository(), testIdentity("fp-1", ""), newFakeClock())
	res, err := c.Commit(context.Background(), nil, ExitManualNext)
	if err != nil || res.Outcome != OutcomeNoSession {
		t.Errorf("Commit(nil) = %q, %v; want no_session", res.Outcome, err)
	}
}

func TestController_CommitInvalidReasonKeepsSessionActive(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(NewInMemoryRepository(), testIdentity("fp-1", ""), clock)
	ctx := context.Background()

	s, _ := c.Begin(ctx, "story-1", imageMedia)
	if _, err := c.Commit(ctx, s, "swipe"); !errors.Is(err, ErrInvalidExitReason) {
		t.Fatalf("Commit() error = %v, want ErrInvalidExitReason", err)
	}
	if s.State() != StateActive {
		t.Error("invalid commit must not consume the session")
	}
}

func TestController_RecordEvent(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(NewInMemoryRepository(), testIdentity("fp-1", ""), clock)
	ctx := context.Background()
	s, _ := c.Begin(ctx, "story-1", videoMedia)

	kinds := []EventKind{EventEnter, EventPlay, EventPause, EventResume}
	for _, k := range kinds {
		clock.Advance(100 * time.Millisecond)
		if err := c.RecordEvent(s, PlaybackEvent{Kind: k}); err != nil {
			t.Fatalf("RecordEvent(%q) error = %v", k, err)
		}
	}

	events := s.Events()
	if len(events) != len(kinds) {
		t.Fatalf("expected %d events, got %d", len(kinds), len(events))
	}
	for i, e := range events {
		if e.Kind != kinds[i] {
			t.Errorf("event %d = %q, want %q", i, e.Kind, kinds[i])
		}
		if e.SessionID != s.ID() {
			t.Errorf("event %d session = %q, want %q", i, e.SessionID, s.ID())
		}
		if i > 0 && e.At.Before(events[i-1].At) {
			t.Errorf("event %d out of order", i)
		}
	}

	if err := c.RecordEvent(s, PlaybackEvent{Kind: "seek"}); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent, got %v", err)
	}

	clock.Advance(5 * time.Second)
	if _, err := c.Commit(ctx, s, ExitManualNext); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := c.RecordEvent(s, PlaybackEvent{Kind: EventPlay}); !errors.Is(err, ErrSessionCommitted) {
		t.Errorf("expected ErrSessionCommitted, got %v", err)
	}
}

func TestController_Teardown(t *testing.T) {
	clock := newFakeClock()
	repo := newCountingRepo()
	c := newTestController(repo, testIdentity("fp-1", ""), clock)
	ctx := context.Background()

	s1, _ := c.Begin(ctx, "story-1", imageMedia)
	s2, _ := c.Begin(ctx, "story-2", videoMedia)
	clock.Advance(4 * time.Second)

	// An explicit close racing the teardown must not double-write.
	if _, err := c.Commit(ctx, s1, ExitCloseButton); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	results, err := c.Teardown(ctx, ExitScreenUnload)
	if err != nil {
		t.Fatalf("Teardown() error = %v", err)
	}

	if len(results) != 1 || !results[0].Written() {
		t.Errorf("Teardown() results = %+v, want one written commit", results)
	}
	if s2.State() != StateCommitted {
		t.Error("story-2 session not committed by teardown")
	}
	if repo.writes() != 2 {
		t.Errorf("expected 2 writes, got %d", repo.writes())
	}
	if c.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", c.ActiveCount())
	}

	rec, _ := repo.FindView(ctx, "story-2", "fp-1")
	if rec == nil || rec.ExitReason != ExitScreenUnload {
		t.Errorf("story-2 record = %+v, want exit reason screen_unload", rec)
	}
}

func TestController_Lookup(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(NewInMemoryRepository(), testIdentity("fp-1", ""), clock)
	ctx := context.Background()
	s, _ := c.Begin(ctx, "story-1", imageMedia)

	got, err := c.Lookup(s.ID())
	if err != nil || got != s {
		t.Errorf("Lookup() = %v, %v", got, err)
	}
	if _, err := c.Lookup("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestController_CommittedSessionsAreReleased(t *testing.T) {
	clock := newFakeClock()
	repo := newCountingRepo()
	c := newTestController(repo, testIdentity("fp-1", ""), clock)
	ctx := context.Background()

	s, _ := c.Begin(ctx, "story-1", videoMedia)
	if err := c.RecordEvent(s, PlaybackEvent{Kind: EventPlay}); err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}
	clock.Advance(5 * time.Second)
	if _, err := c.Commit(ctx, s, ExitManualNext); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	c.mu.Lock()
	held := len(c.byID)
	c.mu.Unlock()
	if held != 0 {
		t.Errorf("controller still holds %d sessions after commit", held)
	}
	if got := s.Events(); got != nil {
		t.Errorf("committed session kept %d events", len(got))
	}

	again, err := c.Lookup(s.ID())
	if err != nil {
		t.Fatalf("Lookup() after commit error = %v", err)
	}
	if again.State() != StateCommitted {
		t.Errorf("State() = %v, want committed", again.State())
	}
	res, err := c.Commit(ctx, again, ExitScreenUnload)
	if err != nil || res.Outcome != OutcomeAlreadyCommitted {
		t.Errorf("re-commit = %q, %v; want already_committed", res.Outcome, err)
	}
	if err := c.RecordEvent(again, PlaybackEvent{Kind: EventPause}); !errors.Is(err, ErrSessionCommitted) {
		t.Errorf("RecordEvent() after commit = %v, want ErrSessionCommitted", err)
	}
	if repo.writes() != 1 {
		t.Errorf("expected 1 write, got %d", repo.writes())
	}
}

func TestController_WatchTimeStartsBeforeIdentity(t *testing.T) {
	clock := newFakeClock()
	shownAt := clock.Now()
	resolver := slowResolver{id: testIdentity("fp-1", "Germany"), clock: clock, delay: 4500 * time.Millisecond}
	c := NewController(resolver, NewInMemoryRepository(), ControllerOptions{Now: clock.Now})
	ctx := context.Background()

	s, err := c.Begin(ctx, "story-1", imageMedia)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if !s.StartedAt().Equal(shownAt) {
		t.Errorf("StartedAt() = %v, want %v", s.StartedAt(), shownAt)
	}

	clock.Advance(500 * time.Millisecond)
	res, err := c.Commit(ctx, s, ExitAutoAdvance)
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if res.Outcome != OutcomeInserted {
		t.Errorf("Outcome = %q, want inserted", res.Outcome)
	}
	if res.Progress.WatchTimeMs != 5000 || !res.Progress.Completed {
		t.Errorf("Progress = %+v, want 5000ms completed", res.Progress)
	}
}

func TestController_CommitSurvivesCancelledRequest(t *testing.T) {
	clock := newFakeClock()
	repo := ctxRepo{InMemoryRepository: NewInMemoryRepository()}
	c := newTestController(repo, testIdentity("fp-1", ""), clock)

	s1, _ := c.Begin(context.Background(), "story-1", imageMedia)
	if _, err := c.Begin(context.Background(), "story-2", imageMedia); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	clock.Advance(3 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.Commit(ctx, s1, ExitScreenUnload)
	if err != nil || !res.Written() {
		t.Errorf("Commit() on cancelled context = %q, %v; want written", res.Outcome, err)
	}
	results, err := c.Teardown(ctx, ExitScreenUnload)
	if err != nil || len(results) != 1 || !results[0].Written() {
		t.Errorf("Teardown() on cancelled context = %+v, %v; want one write", results, err)
	}
	for _, id := range []string{"story-1", "story-2"} {
		if _, err := repo.FindView(context.Background(), id, "fp-1"); err != nil {
			t.Errorf("FindView(%s) error = %v", id, err)
		}
	}
}
