package storyview

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/onnwee/storyviews/internal/identity"
)

// Dimension is a grouping key for aggregated views.
type Dimension string

// Grouping dimensions.
const (
	DimensionCountry Dimension = "country"
	DimensionDevice  Dimension = "device"
	DimensionCity    Dimension = "city"
	DimensionBrowser Dimension = "browser"
	DimensionOS      Dimension = "os"
)

// UnknownGroup is the key for records with no value in the grouped column.
const UnknownGroup = "Unknown"

// ParseDimension validates s as a grouping dimension.
func ParseDimension(s string) (Dimension, error) {
	switch d := Dimension(s); d {
	case DimensionCountry, DimensionDevice, DimensionCity, DimensionBrowser, DimensionOS:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDimension, s)
}

// Stats are the per-story aggregates. Unique views count distinct
// fingerprints; total views count sessions.
type Stats struct {
	StoryID                  string             `json:"story_id"`
	UniqueViews              int                `json:"unique_views"`
	TotalViews               int                `json:"total_views"`
	CompletedViews           int                `json:"completed_views"`
	AvgWatchTimeMs           float64            `json:"avg_watch_time_ms"`
	AvgViewedPercentage      float64            `json:"avg_viewed_percentage"`
	CompletionRatePercentage float64            `json:"completion_rate_percentage"`
	AvgSessionsPerViewer     float64            `json:"avg_sessions_per_viewer"`
	ExitReasons              map[ExitReason]int `json:"exit_reasons"`
	FirstViewAt              *time.Time         `json:"first_view_at,omitempty"`
	LastViewAt               *time.Time         `json:"last_view_at,omitempty"`
}

// GroupCount is the number of distinct viewers sharing a dimension value.
type GroupCount struct {
	Key        string  `json:"key"`
	Viewers    int     `json:"viewers"`
	Percentage float64 `json:"percentage"`
}

// ComputeStats aggregates records of one story. Averages are over records,
// i.e. over viewers, and rounded to two decimals.
func ComputeStats(storyID string, records []*Record) *Stats {
	st := &Stats{StoryID: storyID, ExitReasons: make(map[ExitReason]int)}
	if len(records) == 0 {
		return st
	}

	var watch, pct float64
	for _, r := range records {
		st.UniqueViews++
		st.TotalViews += r.SessionCount
		if r.Completed {
			st.CompletedViews++
		}
		watch += float64(r.WatchTimeMs)
		pct += r.ViewedPercentage
		if r.ExitReason != "" {
			st.ExitReasons[r.ExitReason]++
		}
		if st.FirstViewAt == nil || r.FirstViewedAt.Before(*st.FirstViewAt) {
			t := r.FirstViewedAt
			st.FirstViewAt = &t
		}
		if st.LastViewAt == nil || r.LastViewedAt.After(*st.LastViewAt) {
			t := r.LastViewedAt
			st.LastViewAt = &t
		}
	}

	n := float64(st.UniqueViews)
	st.AvgWatchTimeMs = round2(watch / n)
	st.AvgViewedPercentage = round2(pct / n)
	st.CompletionRatePercentage = round2(float64(st.CompletedViews) / n * 100)
	st.AvgSessionsPerViewer = round2(float64(st.TotalViews) / n)
	return st
}

// GroupRecords counts distinct fingerprints per dimension value. Groups are
// sorted by viewers descending, then key ascending.
func GroupRecords(records []*Record, dim Dimension) ([]GroupCount, error) {
	if _, err := ParseDimension(string(dim)); err != nil {
		return nil, err
	}

	seen := make(map[string]map[string]struct{})
	viewers := make(map[string]struct{})
	for _, r := range records {
		key := groupKey(r, dim)
		if seen[key] == nil {
			seen[key] = make(map[string]struct{})
		}
		seen[key][r.Fingerprint] = struct{}{}
		viewers[r.Fingerprint] = struct{}{}
	}

	groups := make([]GroupCount, 0, len(seen))
	for key, fps := range seen {
		groups = append(groups, GroupCount{Key: key, Viewers: len(fps)})
	}
	finishGroups(groups, len(viewers))
	return groups, nil
}

// finishGroups fills percentages and sorts in place.
func finishGroups(groups []GroupCount, total int) {
	for i := range groups {
		if total > 0 {
			groups[i].Percentage = round2(float64(groups[i].Viewers) / float64(total) * 100)
		}
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Viewers != groups[j].Viewers {
			return groups[i].Viewers > groups[j].Viewers
		}
		return groups[i].Key < groups[j].Key
	})
}

func groupKey(r *Record, dim Dimension) string {
	var v string
	switch dim {
	case DimensionCountry:
		if r.Country != nil {
			v = *r.Country
		}
	case DimensionCity:
		if r.City != nil {
			v = *r.City
		}
	case DimensionDevice:
		v = r.DeviceType
	case DimensionBrowser:
		v = r.Browser
	case DimensionOS:
		v = r.OS
	}
	if v == "" || v == identity.Unavailable {
		return UnknownGroup
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
