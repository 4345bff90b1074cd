package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/onnwee/storyviews/internal/audit"
	"github.com/onnwee/storyviews/internal/middleware"
	"github.com/onnwee/storyviews/internal/storyview"
	"github.com/onnwee/storyviews/internal/validate"
)

// StatsReader is the read side of the view store.
type StatsReader interface {
	QueryStats(ctx context.Context, storyID string) (*storyview.Stats, error)
	QueryGrouped(ctx context.Context, storyID string, dim storyview.Dimension) ([]storyview.GroupCount, error)
	ListViews(ctx context.Context, storyID string, limit int) ([]*storyview.Record, error)
}

// GroupedStatsResponse is returned by GET /v1/stories/{story}/stats/{dimension}.
type GroupedStatsResponse struct {
	StoryID   string                 `json:"story_id"`
	Dimension storyview.Dimension    `json:"dimension"`
	Groups    []storyview.GroupCount `json:"groups"`
}

// ViewListResponse is returned by GET /v1/stories/{story}/views.
type ViewListResponse struct {
	StoryID string              `json:"story_id"`
	Views   []*storyview.Record `json:"views"`
	Count   int                 `json:"count"`
}

// StatsHandlers serves story analytics to authenticated analysts. Every read,
// allowed or denied, is written to the audit log first.
type StatsHandlers struct {
	reader StatsReader
	audit  audit.Repository
	logger *slog.Logger
}

// NewStatsHandlers creates a new StatsHandlers instance.
func NewStatsHandlers(reader StatsReader, auditRepo audit.Repository, logger *slog.Logger) *StatsHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsHandlers{reader: reader, audit: auditRepo, logger: logger}
}

// authorize checks the caller's story scope and records the access. It
// writes the error response itself and returns false when the request must
// stop.
func (h *StatsHandlers) authorize(w http.ResponseWriter, r *http.Request, storyID, action string) bool {
	if _, err := validate.StoryID(storyID); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "invalid story id: "+err.Error())
		return false
	}

	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return false
	}

	outcome := audit.OutcomeSuccess
	if !claims.CanRead(storyID) {
		outcome = audit.OutcomeDenied
	}
	if err := audit.LogAccessFromRequest(r, h.audit, audit.EntityStory, storyID, action, outcome); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to write audit log",
			slog.String("story_id", storyID),
			slog.String("action", action),
			slog.String("error", err.Error()))
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return false
	}
	if outcome == audit.OutcomeDenied {
		WriteError(w, r.Context(), http.StatusForbidden, ErrCodeForbidden, "Token is not scoped to this story")
		return false
	}
	return true
}

// GetStats handles GET /v1/stories/{story}/stats.
func (h *StatsHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	storyID := r.PathValue("story")
	if !h.authorize(w, r, storyID, audit.ActionViewStats) {
		return
	}

	st, err := h.reader.QueryStats(r.Context(), storyID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to query story stats",
			slog.String("story_id", storyID),
			slog.String("error", err.Error()))
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to load stats")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, st)
}

// GetGroupedStats handles GET /v1/stories/{story}/stats/{dimension}.
func (h *StatsHandlers) GetGroupedStats(w http.ResponseWriter, r *http.Request) {
	storyID := r.PathValue("story")
	dim, err := storyview.ParseDimension(r.PathValue("dimension"))
	if err != nil {
		writeStoryviewError(w, r.Context(), err)
		return
	}
	if !h.authorize(w, r, storyID, audit.ActionViewGroups) {
		return
	}

	groups, err := h.reader.QueryGrouped(r.Context(), storyID, dim)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to query grouped stats",
			slog.String("story_id", storyID),
			slog.String("dimension", string(dim)),
			slog.String("error", err.Error()))
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to load stats")
		return
	}
	if groups == nil {
		groups = []storyview.GroupCount{}
	}
	writeJSON(w, r.Context(), http.StatusOK, GroupedStatsResponse{
		StoryID:   storyID,
		Dimension: dim,
		Groups:    groups,
	})
}

// ListViews handles GET /v1/stories/{story}/views?limit=N.
func (h *StatsHandlers) ListViews(w http.ResponseWriter, r *http.Request) {
	storyID := r.PathValue("story")

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	if !h.authorize(w, r, storyID, audit.ActionListViews) {
		return
	}

	views, err := h.reader.ListViews(r.Context(), storyID, storyview.ClampLimit(limit))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list story views",
			slog.String("story_id", storyID),
			slog.String("error", err.Error()))
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to load views")
		return
	}
	if views == nil {
		views = []*storyview.Record{}
	}
	writeJSON(w, r.Context(), http.StatusOK, ViewListResponse{
		StoryID: storyID,
		Views:   views,
		Count:   len(views),
	})
}
