package storyview

import (
	"time"

	"github.com/onnwee/storyviews/internal/identity"
)

// Record is the persisted engagement of one fingerprint with one story.
// It is keyed uniquely by (StoryID, Fingerprint).
//
// SessionCount, WatchTimeMs and ViewedPercentage never decrease across
// commits; Completed never reverts to false. The identity snapshot fields
// are captured at insert and never refreshed.
type Record struct {
	ID               string          `json:"id"`
	StoryID          string          `json:"story_id"`
	Fingerprint      string          `json:"fingerprint"`
	MediaType        MediaType       `json:"media_type"`
	SessionCount     int             `json:"session_count"`
	WatchTimeMs      int64           `json:"watch_time_ms"`
	ViewedPercentage float64         `json:"viewed_percentage"` // 0-100, two decimals
	Completed        bool            `json:"completed"`
	ExitReason       ExitReason      `json:"exit_reason"`
	PlaybackEvents   []PlaybackEvent `json:"playback_events"`
	FirstViewedAt    time.Time       `json:"first_viewed_at"`
	LastViewedAt     time.Time       `json:"last_viewed_at"`

	// Identity snapshot.
	DeviceType       string `json:"device_type"`
	Browser          string `json:"browser"`
	BrowserVersion   string `json:"browser_version,omitempty"`
	OS               string `json:"os"`
	Platform         string `json:"platform"`
	ScreenResolution string `json:"screen_resolution"`
	Language         string `json:"language"`
	Timezone         string `json:"timezone"`
	CanvasHash       string `json:"canvas_hash"`
	WebGLHash        string `json:"webgl_hash"`
	AudioHash        string `json:"audio_hash"`

	// Geo snapshot, nil when geolocation failed.
	IPAddress   *string `json:"ip_address,omitempty"`
	Country     *string `json:"country,omitempty"`
	CountryCode *string `json:"country_code,omitempty"`
	Region      *string `json:"region,omitempty"`
	City        *string `json:"city,omitempty"`
	Geohash     *string `json:"geohash,omitempty"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.PlaybackEvents = AppendEvents(nil, r.PlaybackEvents)
	c.IPAddress = cloneString(r.IPAddress)
	c.Country = cloneString(r.Country)
	c.CountryCode = cloneString(r.CountryCode)
	c.Region = cloneString(r.Region)
	c.City = cloneString(r.City)
	c.Geohash = cloneString(r.Geohash)
	return &c
}

// Contribution is what one committed session adds to a record.
type Contribution struct {
	SessionID        string
	WatchTimeMs      int64
	ViewedPercentage float64 // 0-100, two decimals
	Completed        bool
	ExitReason       ExitReason
	Events           []PlaybackEvent
	EndedAt          time.Time
}

// NewRecord builds the first record for an identity from its contribution.
func NewRecord(id string, storyID string, media MediaType, ident *identity.Identity, c Contribution) *Record {
	r := &Record{
		ID:               id,
		StoryID:          storyID,
		Fingerprint:      ident.Fingerprint,
		MediaType:        media,
		SessionCount:     1,
		WatchTimeMs:      c.WatchTimeMs,
		ViewedPercentage: c.ViewedPercentage,
		Completed:        c.Completed,
		ExitReason:       c.ExitReason,
		PlaybackEvents:   AppendEvents(nil, c.Events),
		FirstViewedAt:    c.EndedAt,
		LastViewedAt:     c.EndedAt,
		DeviceType:       ident.DeviceType,
		Browser:          ident.Browser,
		BrowserVersion:   ident.BrowserVersion,
		OS:               ident.OS,
		Platform:         ident.Platform,
		ScreenResolution: ident.ScreenResolution,
		Language:         ident.Language,
		Timezone:         ident.Timezone,
		CanvasHash:       ident.CanvasHash,
		WebGLHash:        ident.WebGLHash,
		AudioHash:        ident.AudioHash,
		IPAddress:        optString(ident.IP),
	}
	if loc := ident.Location; loc != nil {
		r.Country = optString(loc.Country)
		r.CountryCode = optString(loc.CountryCode)
		r.Region = optString(loc.Region)
		r.City = optString(loc.City)
		r.Geohash = optString(loc.Geohash)
	}
	return r
}

// MergeRecord applies a revisit to an existing record and returns the
// result. existing is not modified.
func MergeRecord(existing *Record, c Contribution) *Record {
	r := existing.Clone()
	r.SessionCount++
	r.WatchTimeMs = max(r.WatchTimeMs, c.WatchTimeMs)
	r.ViewedPercentage = max(r.ViewedPercentage, c.ViewedPercentage)
	r.Completed = r.Completed || c.Completed
	r.ExitReason = c.ExitReason
	r.PlaybackEvents = AppendEvents(existing.PlaybackEvents, c.Events)
	r.LastViewedAt = c.EndedAt
	return r
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
