package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/storyviews/internal/identity"
	"github.com/onnwee/storyviews/internal/middleware"
	"github.com/onnwee/storyviews/internal/storyview"
)

// maxBodyBytes caps playback request bodies.
const maxBodyBytes = 64 << 10

// TrackingSkipped is the tracking value of a Begin response when no session
// was started.
const TrackingSkipped = "skipped"

// OpenPageResponse is returned by POST /v1/pages.
type OpenPageResponse struct {
	PageID string `json:"page_id"`
}

// ClosePageRequest is the optional body of DELETE /v1/pages/{page}.
type ClosePageRequest struct {
	ExitReason string `json:"exit_reason,omitempty"`
}

// ClosePageResponse summarizes the teardown commits.
type ClosePageResponse struct {
	Sessions int `json:"sessions"`
	Written  int `json:"written"`
}

// BeginViewRequest is the body of POST /v1/pages/{page}/views.
type BeginViewRequest struct {
	StoryID    string              `json:"story_id"`
	MediaType  storyview.MediaType `json:"media_type"`
	DurationMs int64               `json:"duration_ms"`
}

// BeginViewResponse describes the session that now tracks the story.
// When Tracking is "skipped" the other fields are empty and playback
// continues untracked.
type BeginViewResponse struct {
	Tracking     string `json:"tracking,omitempty"`
	Reason       string `json:"reason,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	StoryID      string `json:"story_id,omitempty"`
	Existing     bool   `json:"existing"`
	SessionCount int    `json:"session_count"`
}

// CommitViewRequest is the body of the commit endpoint.
type CommitViewRequest struct {
	ExitReason string `json:"exit_reason"`
}

// CommitViewResponse reports whether the view reached storage.
type CommitViewResponse struct {
	Written bool              `json:"written"`
	Outcome storyview.Outcome `json:"outcome"`
}

// ViewHandlers serves the playback surface: page lifetimes and view sessions.
type ViewHandlers struct {
	registry *storyview.PageRegistry
	logger   *slog.Logger
}

// NewViewHandlers creates a new ViewHandlers instance.
func NewViewHandlers(registry *storyview.PageRegistry, logger *slog.Logger) *ViewHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &ViewHandlers{registry: registry, logger: logger}
}

// decodeBody reads a JSON body regardless of Content-Type, since
// navigator.sendBeacon posts text/plain. An empty body leaves v untouched
// when allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// OpenPage handles POST /v1/pages - starts a page lifetime for the visitor's
// browser signals.
func (h *ViewHandlers) OpenPage(w http.ResponseWriter, r *http.Request) {
	var signals identity.Signals
	if err := decodeBody(w, r, &signals, false); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	signals.IP = middleware.ClientIP(r)
	if signals.UserAgent == "" {
		signals.UserAgent = r.UserAgent()
	}

	page := h.registry.Open(signals)
	writeJSON(w, r.Context(), http.StatusCreated, OpenPageResponse{PageID: page.ID})
}

// ClosePage handles DELETE /v1/pages/{page} - commits the page's active
// sessions and forgets it.
func (h *ViewHandlers) ClosePage(w http.ResponseWriter, r *http.Request) {
	var req ClosePageRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	reason := storyview.ExitScreenUnload
	if req.ExitReason != "" {
		parsed, err := storyview.ParseExitReason(req.ExitReason)
		if err != nil {
			writeStoryviewError(w, r.Context(), err)
			return
		}
		reason = parsed
	}

	results, err := h.registry.Close(r.Context(), r.PathValue("page"), reason)
	if errors.Is(err, storyview.ErrPageNotFound) {
		writeStoryviewError(w, r.Context(), err)
		return
	}
	if err != nil {
		// Teardown is best-effort; failures were logged by the controller.
		h.logger.WarnContext(r.Context(), "page teardown incomplete",
			slog.String("page_id", r.PathValue("page")),
			slog.String("error", err.Error()))
	}

	resp := ClosePageResponse{Sessions: len(results)}
	for _, res := range results {
		if res.Written() {
			resp.Written++
		}
	}
	writeJSON(w, r.Context(), http.StatusOK, resp)
}

// BeginView handles POST /v1/pages/{page}/views - starts or resumes the view
// session for a story.
func (h *ViewHandlers) BeginView(w http.ResponseWriter, r *http.Request) {
	page, err := h.registry.Get(r.PathValue("page"))
	if err != nil {
		writeStoryviewError(w, r.Context(), err)
		return
	}

	var req BeginViewRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	req.StoryID = strings.TrimSpace(req.StoryID)

	session, err := page.Controller.Begin(r.Context(), req.StoryID, storyview.Media{
		Type:       req.MediaType,
		DurationMs: req.DurationMs,
	})
	if err != nil {
		if storyview.IsTrackingError(err, storyview.KindInvalid) {
			writeStoryviewError(w, r.Context(), err)
			return
		}
		// Identity or storage trouble never blocks playback.
		var te *storyview.TrackingError
		reason := "unavailable"
		if errors.As(err, &te) {
			reason = te.ErrorType()
		}
		writeJSON(w, r.Context(), http.StatusOK, BeginViewResponse{Tracking: TrackingSkipped, Reason: reason})
		return
	}

	resp := BeginViewResponse{
		SessionID: session.ID(),
		StoryID:   session.StoryID(),
	}
	if existing := session.Existing(); existing != nil {
		resp.Existing = true
		resp.SessionCount = existing.SessionCount
	}
	writeJSON(w, r.Context(), http.StatusOK, resp)
}

// RecordEvent handles POST /v1/pages/{page}/views/{session}/events - appends
// a playback event to an active session.
func (h *ViewHandlers) RecordEvent(w http.ResponseWriter, r *http.Request) {
	session, page, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var event storyview.PlaybackEvent
	if err := decodeBody(w, r, &event, false); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if err := page.Controller.RecordEvent(session, event); err != nil {
		writeStoryviewError(w, r.Context(), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// CommitView handles POST /v1/pages/{page}/views/{session}/commit - decides
// whether the session counts as a view and persists it. Safe to call more
// than once; only the first call can write.
func (h *ViewHandlers) CommitView(w http.ResponseWriter, r *http.Request) {
	session, page, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req CommitViewRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	result, err := page.Controller.Commit(r.Context(), session, storyview.ExitReason(req.ExitReason))
	if err != nil && storyview.IsTrackingError(err, storyview.KindInvalid) {
		writeStoryviewError(w, r.Context(), err)
		return
	}
	// A storage failure is reported as an unwritten commit; the controller
	// has already logged it.
	writeJSON(w, r.Context(), http.StatusOK, CommitViewResponse{
		Written: result.Written(),
		Outcome: result.Outcome,
	})
}

func (h *ViewHandlers) lookup(w http.ResponseWriter, r *http.Request) (*storyview.Session, *storyview.Page, bool) {
	page, err := h.registry.Get(r.PathValue("page"))
	if err != nil {
		writeStoryviewError(w, r.Context(), err)
		return nil, nil, false
	}
	session, err := page.Controller.Lookup(r.PathValue("session"))
	if err != nil {
		writeStoryviewError(w, r.Context(), err)
		return nil, nil, false
	}
	return session, page, true
}
